// Package cli implements the cortex-lsp command line.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/op/go-logging"
	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-lsp/internal/config"
	cortexlog "github.com/mvp-joe/cortex-lsp/internal/logging"
)

var log = logging.MustGetLogger("cli")

var (
	cfgFile  string
	logLevel string
	logFile  string
	verbose  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cortex-lsp",
	Short: "Incremental multi-language analysis served over LSP and MCP",
	Long: `cortex-lsp parses source files with tree-sitter, keeps language-neutral
syntax trees and symbol tables up to date as files change, and answers
completion, hover, definition, references, symbols and diagnostics through
built-in and Lua plugins.

Settings are read from ~/.cortex-lsp/config.yml, then .cortex-lsp/config.yml
under the workspace root (or --config), then CORTEX_LSP_* variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .cortex-lsp/config.yml under the workspace root)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warning, error (overrides logging.level)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr (overrides logging.file)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level debug")
}

// workspaceRoot returns the absolute directory named by args, or the
// working directory.
func workspaceRoot(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}
	return root, nil
}

// loadConfig loads the configuration for root and applies the logging flags.
func loadConfig(root string) (*config.Config, error) {
	var opts []config.LoaderOption
	if cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	cfg, err := config.NewLoader(root, opts...).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}
	return cfg, nil
}

// setupLogging installs the log backend described by cfg. The returned
// function closes the log file, if any.
func setupLogging(cfg *config.Config) (func(), error) {
	closer, err := cortexlog.Setup(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := closer(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}, nil
}

// prepare resolves the workspace root, loads its configuration and sets up
// logging.
func prepare(args []string) (string, *config.Config, func(), error) {
	root, err := workspaceRoot(args)
	if err != nil {
		return "", nil, nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return "", nil, nil, err
	}
	done, err := setupLogging(cfg)
	if err != nil {
		return "", nil, nil, err
	}
	return root, cfg, done, nil
}
