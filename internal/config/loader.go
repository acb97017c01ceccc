package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CORTEX_LSP"

// DirName is the per-project and per-user configuration directory.
const DirName = ".cortex-lsp"

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from files and environment variables.
	// Priority: defaults → user file → project or explicit file → environment (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir    string
	configFile string
	homeDir    string
}

// LoaderOption configures a Loader.
type LoaderOption func(*loader)

// WithConfigFile replaces the project file with an explicit one, which must exist.
func WithConfigFile(path string) LoaderOption {
	return func(l *loader) { l.configFile = path }
}

// WithHomeDir overrides where the user file is looked up. An empty dir
// skips the user file.
func WithHomeDir(dir string) LoaderOption {
	return func(l *loader) { l.homeDir = dir }
}

// NewLoader creates a new configuration loader for the given root directory.
func NewLoader(rootDir string, opts ...LoaderOption) Loader {
	l := &loader{rootDir: rootDir}
	if home, err := os.UserHomeDir(); err == nil {
		l.homeDir = home
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (CORTEX_LSP_*)
// 2. Explicit config file, or .cortex-lsp/config.yml (or .yaml) under the root
// 3. ~/.cortex-lsp/config.yml (or .yaml)
// 4. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	// Environment overrides; every key has a default, so binding all known
	// keys covers the whole tree.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if l.homeDir != "" {
		if err := mergeFile(v, findFile(filepath.Join(l.homeDir, DirName)), false); err != nil {
			return nil, err
		}
	}
	if l.configFile != "" {
		if err := mergeFile(v, l.configFile, true); err != nil {
			return nil, err
		}
	} else if l.rootDir != "" {
		if err := mergeFile(v, findFile(filepath.Join(l.rootDir, DirName)), false); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// findFile returns config.yml or config.yaml in dir, or "" when neither exists.
func findFile(dir string) string {
	for _, name := range []string{"config.yml", "config.yaml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// mergeFile merges a YAML file over v. A missing file is only an error
// when required.
func mergeFile(v *viper.Viper, path string, required bool) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	// Analysis defaults
	v.SetDefault("analysis.workers", defaults.Analysis.Workers)
	v.SetDefault("analysis.symbol_workers", defaults.Analysis.SymbolWorkers)
	v.SetDefault("analysis.cache_size", defaults.Analysis.CacheSize)
	v.SetDefault("analysis.default_language", defaults.Analysis.DefaultLanguage)

	// Plugin defaults
	v.SetDefault("plugins.dirs", defaults.Plugins.Dirs)
	v.SetDefault("plugins.timeout", defaults.Plugins.Timeout)
	v.SetDefault("plugins.max_concurrent", defaults.Plugins.MaxConcurrent)
	v.SetDefault("plugins.window", defaults.Plugins.Window)
	v.SetDefault("plugins.degrade_after", defaults.Plugins.DegradeAfter)
	v.SetDefault("plugins.disable_after", defaults.Plugins.DisableAfter)
	v.SetDefault("plugins.failure_rate", defaults.Plugins.FailureRate)
	v.SetDefault("plugins.cooldown", defaults.Plugins.Cooldown)

	// Workspace defaults
	v.SetDefault("workspace.preload", defaults.Workspace.Preload)
	v.SetDefault("workspace.include", defaults.Workspace.Include)
	v.SetDefault("workspace.ignore", defaults.Workspace.Ignore)
	v.SetDefault("workspace.watch", defaults.Workspace.Watch)
	v.SetDefault("workspace.debounce", defaults.Workspace.Debounce)

	v.SetDefault("diagnostics.debounce", defaults.Diagnostics.Debounce)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)

	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// LoadConfigFromDir loads configuration for a workspace root.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
