// Package plugin hosts analyzers that contribute language features. A plugin
// declares features in its manifest and registers prioritized functions for
// them; the Manager dispatches feature requests to every invocable plugin,
// isolates their failures and tracks their health.
package plugin

import (
	"context"
	"fmt"

	"github.com/mvp-joe/cortex-lsp/internal/feature"
)

// Handler computes a plugin's contribution to one feature request. The
// request is shared with other handlers and must not be modified.
type Handler func(ctx context.Context, req *feature.Request) ([]feature.Item, error)

// Function is one handler registered for a feature. Higher priorities are
// invoked and merged first.
type Function struct {
	Feature  string
	Name     string
	Priority int
	Handler  Handler
}

// Plugin is implemented by Go plugins and by plugin hosts such as the Lua
// host.
type Plugin interface {
	// Manifest returns the plugin's manifest.
	Manifest() Manifest
	// Load registers the plugin's functions.
	Load(ctx context.Context, r *Registry) error
	// Close releases the plugin's resources after it is unregistered.
	Close() error
}

// Registry collects the functions a plugin registers while loading.
type Registry struct {
	manifest  Manifest
	functions []Function
}

func newRegistry(m Manifest) *Registry {
	return &Registry{manifest: m}
}

// Register adds a function. The feature must be declared in the manifest.
func (r *Registry) Register(fn Function) error {
	if fn.Handler == nil {
		return fmt.Errorf("%w: %s/%s", ErrNilHandler, r.manifest.ID, fn.Name)
	}
	if !r.manifest.Declares(fn.Feature) {
		return fmt.Errorf("%w: %s", ErrUndeclaredFeature, fn.Feature)
	}
	if fn.Name == "" {
		fn.Name = fmt.Sprintf("%s#%d", fn.Feature, len(r.functions))
	}
	r.functions = append(r.functions, fn)
	return nil
}

// Functions returns the registered functions in registration order.
func (r *Registry) Functions() []Function {
	return append([]Function(nil), r.functions...)
}

// Static is a Go plugin built from a manifest and a fixed function list.
type Static struct {
	manifest  Manifest
	functions []Function
}

// NewStatic creates a plugin that registers fns on load.
func NewStatic(m Manifest, fns ...Function) *Static {
	return &Static{manifest: m, functions: fns}
}

func (s *Static) Manifest() Manifest { return s.manifest }

func (s *Static) Load(ctx context.Context, r *Registry) error {
	for _, fn := range s.functions {
		if err := r.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Static) Close() error { return nil }
