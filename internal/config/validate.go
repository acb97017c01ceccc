package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/gobwas/glob"

	"github.com/mvp-joe/cortex-lsp/internal/lang"
	"github.com/mvp-joe/cortex-lsp/internal/logging"
)

var (
	// ErrInvalidWorkers indicates a non-positive worker count
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidCacheSize indicates a non-positive cache size
	ErrInvalidCacheSize = errors.New("invalid cache size")

	// ErrUnknownLanguage indicates a default language that is not registered
	ErrUnknownLanguage = errors.New("unknown language")

	// ErrInvalidPluginSettings indicates invalid plugin timeouts, bounds or thresholds
	ErrInvalidPluginSettings = errors.New("invalid plugin settings")

	// ErrInvalidPattern indicates a glob pattern that does not compile
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidDebounce indicates a negative debounce
	ErrInvalidDebounce = errors.New("invalid debounce")

	// ErrInvalidLogLevel indicates an unknown log level
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidMetricsAddr indicates a metrics address that is not host:port
	ErrInvalidMetricsAddr = errors.New("invalid metrics address")
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Unwrap lets errors.Is match any of the problems.
func (e *ValidationError) Unwrap() []error { return e.Errs }

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error
	errs = append(errs, validateAnalysis(&cfg.Analysis)...)
	errs = append(errs, validatePlugins(cfg)...)
	errs = append(errs, validateWorkspace(&cfg.Workspace)...)

	if cfg.Diagnostics.Debounce < 0 {
		errs = append(errs, fmt.Errorf("%w: diagnostics.debounce cannot be negative, got %s", ErrInvalidDebounce, cfg.Diagnostics.Debounce))
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidLogLevel, err))
	}
	if cfg.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidMetricsAddr, err))
		}
	}

	return joinErrors(errs)
}

func validateAnalysis(cfg *AnalysisConfig) []error {
	var errs []error

	if cfg.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%w: analysis.workers must be positive, got %d", ErrInvalidWorkers, cfg.Workers))
	}
	if cfg.SymbolWorkers <= 0 {
		errs = append(errs, fmt.Errorf("%w: analysis.symbol_workers must be positive, got %d", ErrInvalidWorkers, cfg.SymbolWorkers))
	}
	if cfg.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: analysis.cache_size must be positive, got %d", ErrInvalidCacheSize, cfg.CacheSize))
	}
	if cfg.DefaultLanguage != "" {
		if _, err := lang.Get(cfg.DefaultLanguage); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s (valid: %s)", ErrUnknownLanguage, cfg.DefaultLanguage, strings.Join(lang.Names(), ", ")))
		}
	}

	return errs
}

func validatePlugins(cfg *Config) []error {
	var errs []error

	if cfg.Plugins.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: plugins.timeout must be positive, got %s", ErrInvalidPluginSettings, cfg.Plugins.Timeout))
	}
	if cfg.Plugins.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("%w: plugins.max_concurrent must be positive, got %d", ErrInvalidPluginSettings, cfg.Plugins.MaxConcurrent))
	}
	if err := cfg.health().Validate(); err != nil {
		for _, problem := range strings.Split(err.Error(), "\n") {
			errs = append(errs, fmt.Errorf("%w: plugins.%s", ErrInvalidPluginSettings, problem))
		}
	}

	return errs
}

func validateWorkspace(cfg *WorkspaceConfig) []error {
	var errs []error

	for _, pattern := range append(append([]string{}, cfg.Include...), cfg.Ignore...) {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err))
		}
	}
	if cfg.Debounce < 0 {
		errs = append(errs, fmt.Errorf("%w: workspace.debounce cannot be negative, got %s", ErrInvalidDebounce, cfg.Debounce))
	}

	return errs
}

// joinErrors combines multiple errors into a single error with clear formatting.
func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return &ValidationError{Errs: errs}
}
