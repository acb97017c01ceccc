package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrPluginLoad is matched by every *LoadError.
	ErrPluginLoad = errors.New("plugin load failed")

	// ErrPluginNotFound is returned for an id that is not registered.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyRegistered is returned when an id is registered twice.
	ErrAlreadyRegistered = errors.New("plugin is already registered")

	// ErrUndeclaredFeature is returned when a function is registered for a
	// feature the manifest does not declare.
	ErrUndeclaredFeature = errors.New("feature not declared in manifest")

	// ErrNilHandler is returned when a function has no handler.
	ErrNilHandler = errors.New("function has no handler")
)

// LoadError reports why a plugin could not be registered. The plugin never
// becomes active.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin %q: %v: %v", e.ID, ErrPluginLoad, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPluginLoad) hold for any LoadError.
func (e *LoadError) Is(target error) bool { return target == ErrPluginLoad }

// FunctionFailure is one failed invocation: an error, a timeout or a panic.
// Failures are recorded against the plugin and logged, never returned from
// Dispatch.
type FunctionFailure struct {
	Plugin     string
	Function   string
	Feature    string
	DispatchID string
	Err        error
	Timeout    bool
	Panic      bool
}

func (f *FunctionFailure) Error() string {
	what := "failed"
	switch {
	case f.Panic:
		what = "panicked"
	case f.Timeout:
		what = "timed out"
	}
	return fmt.Sprintf("%s/%s (%s) %s: %v", f.Plugin, f.Function, f.Feature, what, f.Err)
}

func (f *FunctionFailure) Unwrap() error { return f.Err }

// outcome labels the invocation metric.
func (f *FunctionFailure) outcome() string {
	switch {
	case f.Panic:
		return "panic"
	case f.Timeout:
		return "timeout"
	default:
		return "error"
	}
}
