package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-lsp/internal/config"
	"github.com/mvp-joe/cortex-lsp/internal/lsp"
	"github.com/mvp-joe/cortex-lsp/internal/telemetry"
)

var serveNoWatch bool

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve [dir]",
	Short: "Start the language server on stdio",
	Long: `Start the Language Server Protocol server on stdin and stdout.

The workspace root comes from the client's initialize request. The optional
dir only selects which configuration is loaded, and defaults to the working
directory.

Example:
  cortex-lsp serve`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "do not follow disk changes (overrides workspace.watch)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	_, cfg, done, err := prepare(args)
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	serveMetrics(ctx, cfg)

	server, err := lsp.New(cfg.ToBackendConfig(), lsp.Options{
		Version: Version,
		Watch:   cfg.Workspace.Watch && !serveNoWatch,
	})
	if err != nil {
		return err
	}
	log.Infof("cortex-lsp %s serving LSP on stdio", Version)
	return server.RunStdio()
}

// serveMetrics exposes metrics in the background when metrics.addr is set.
func serveMetrics(ctx context.Context, cfg *config.Config) {
	if cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := telemetry.Serve(ctx, cfg.Metrics.Addr); err != nil {
			log.Warningf("metrics endpoint stopped: %v", err)
		}
	}()
}
