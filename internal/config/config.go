// Package config loads cortex-lsp settings.
//
// Settings are layered, highest priority first:
//  1. Environment variables (CORTEX_LSP_*, nested keys joined with "_",
//     e.g. CORTEX_LSP_PLUGINS_TIMEOUT=500ms)
//  2. An explicit --config file, or the project file .cortex-lsp/config.yml
//  3. The user file ~/.cortex-lsp/config.yml
//  4. Built-in defaults
package config

import (
	"time"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/backend"
	"github.com/mvp-joe/cortex-lsp/internal/plugin"
	"github.com/mvp-joe/cortex-lsp/internal/watcher"
)

// Config represents the complete cortex-lsp configuration.
type Config struct {
	Analysis    AnalysisConfig    `yaml:"analysis" mapstructure:"analysis"`
	Plugins     PluginsConfig     `yaml:"plugins" mapstructure:"plugins"`
	Workspace   WorkspaceConfig   `yaml:"workspace" mapstructure:"workspace"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" mapstructure:"diagnostics"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
}

// AnalysisConfig sizes the parse and resolution pipeline.
type AnalysisConfig struct {
	Workers         int    `yaml:"workers" mapstructure:"workers"`                   // concurrent Ast builds
	SymbolWorkers   int    `yaml:"symbol_workers" mapstructure:"symbol_workers"`     // concurrent symbol table builds
	CacheSize       int    `yaml:"cache_size" mapstructure:"cache_size"`             // entries per artifact cache
	DefaultLanguage string `yaml:"default_language" mapstructure:"default_language"` // for unregistered extensions
}

// PluginsConfig configures plugin loading and health tracking.
type PluginsConfig struct {
	Dirs          []string      `yaml:"dirs" mapstructure:"dirs"` // extra Lua plugin directories
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	Window        int           `yaml:"window" mapstructure:"window"`
	DegradeAfter  int           `yaml:"degrade_after" mapstructure:"degrade_after"`
	DisableAfter  int           `yaml:"disable_after" mapstructure:"disable_after"`
	FailureRate   float64       `yaml:"failure_rate" mapstructure:"failure_rate"`
	Cooldown      time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// WorkspaceConfig defines which files are analyzed from disk.
type WorkspaceConfig struct {
	Preload  bool          `yaml:"preload" mapstructure:"preload"` // open discovered files on initialize
	Include  []string      `yaml:"include" mapstructure:"include"` // glob patterns, empty means every registered extension
	Ignore   []string      `yaml:"ignore" mapstructure:"ignore"`   // glob patterns to skip
	Watch    bool          `yaml:"watch" mapstructure:"watch"`     // follow disk changes
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// DiagnosticsConfig configures pushed diagnostics.
type DiagnosticsConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// LoggingConfig configures the log backend.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"` // empty means stderr
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // empty disables the endpoint
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	health := plugin.DefaultHealthConfig()
	return &Config{
		Analysis: AnalysisConfig{
			Workers:         4,
			SymbolWorkers:   2,
			CacheSize:       ast.DefaultCacheSize,
			DefaultLanguage: "python",
		},
		Plugins: PluginsConfig{
			Dirs:          []string{},
			Timeout:       plugin.DefaultTimeout,
			MaxConcurrent: plugin.DefaultMaxConcurrent,
			Window:        health.Window,
			DegradeAfter:  health.DegradeAfter,
			DisableAfter:  health.DisableAfter,
			FailureRate:   health.FailureRate,
			Cooldown:      health.Cooldown,
		},
		Workspace: WorkspaceConfig{
			Preload: true,
			Include: []string{},
			Ignore: []string{
				"vendor/**",
				"dist/**",
				"build/**",
				"target/**",
				".venv/**",
				"venv/**",
			},
			Watch:    true,
			Debounce: watcher.DefaultDebounce,
		},
		Diagnostics: DiagnosticsConfig{
			Debounce: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ToBackendConfig converts a Config to a backend.Config.
func (c *Config) ToBackendConfig() backend.Config {
	return backend.Config{
		Workers:         c.Analysis.Workers,
		SymbolWorkers:   c.Analysis.SymbolWorkers,
		CacheSize:       c.Analysis.CacheSize,
		DefaultLanguage: c.Analysis.DefaultLanguage,
		Plugins: plugin.ManagerConfig{
			Timeout:       c.Plugins.Timeout,
			MaxConcurrent: c.Plugins.MaxConcurrent,
			Health:        c.health(),
		},
		PluginDirs:          c.Plugins.Dirs,
		Preload:             c.Workspace.Preload,
		Include:             c.Workspace.Include,
		Ignore:              c.Workspace.Ignore,
		WatchDebounce:       c.Workspace.Debounce,
		DiagnosticsDebounce: c.Diagnostics.Debounce,
	}
}

func (c *Config) health() plugin.HealthConfig {
	return plugin.HealthConfig{
		Window:       c.Plugins.Window,
		DegradeAfter: c.Plugins.DegradeAfter,
		DisableAfter: c.Plugins.DisableAfter,
		FailureRate:  c.Plugins.FailureRate,
		Cooldown:     c.Plugins.Cooldown,
	}
}
