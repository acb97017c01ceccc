package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/op/go-logging"
	"golang.org/x/sync/semaphore"

	"github.com/mvp-joe/cortex-lsp/internal/telemetry"
)

var log = logging.MustGetLogger("plugin")

// Dispatch defaults.
const (
	DefaultTimeout       = 2 * time.Second
	DefaultMaxConcurrent = 8
)

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// Timeout bounds each function invocation.
	Timeout time.Duration
	// MaxConcurrent bounds invocations running at once across all dispatches.
	MaxConcurrent int
	// Health holds the failure thresholds applied to every plugin.
	Health HealthConfig
}

// DefaultManagerConfig returns the default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Timeout:       DefaultTimeout,
		MaxConcurrent: DefaultMaxConcurrent,
		Health:        DefaultHealthConfig(),
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source used for cool-downs.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithFailureHook registers fn to be called for every failed invocation.
// fn must not block.
func WithFailureHook(fn func(*FunctionFailure)) Option {
	return func(m *Manager) {
		m.onFailure = fn
	}
}

// Info describes a registered plugin.
type Info struct {
	ID       string
	Name     string
	Version  string
	Features []string
	State    State
	// Functions counts registered functions per feature.
	Functions map[string]int
}

// entry is one registered plugin.
type entry struct {
	plugin    Plugin
	manifest  Manifest
	functions map[string][]registered

	// mu guards health.
	mu     sync.Mutex
	health *health
}

// registered is a function with its registration sequence.
type registered struct {
	Function
	seq int
}

// Manager registers plugins and dispatches feature requests to them.
type Manager struct {
	config    ManagerConfig
	sem       *semaphore.Weighted
	now       func() time.Time
	onFailure func(*FunctionFailure)

	mu      sync.RWMutex
	plugins map[string]*entry
	// Registration order (for deterministic dispatch)
	order []string
}

// NewManager creates a plugin manager.
func NewManager(config ManagerConfig, opts ...Option) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.Health.Validate() != nil {
		config.Health = DefaultHealthConfig()
	}

	m := &Manager{
		config:  config,
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
		now:     time.Now,
		plugins: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register validates the plugin's manifest, loads it and makes it active.
// Any failure, including a panic while loading, is returned as *LoadError.
func (m *Manager) Register(ctx context.Context, p Plugin) (err error) {
	manifest := p.Manifest()
	id := manifest.ID

	if verr := manifest.Validate(); verr != nil {
		return &LoadError{ID: id, Err: verr}
	}

	m.mu.RLock()
	_, exists := m.plugins[id]
	m.mu.RUnlock()
	if exists {
		return &LoadError{ID: id, Err: ErrAlreadyRegistered}
	}

	telemetry.SetPluginState(id, StateLoading.String())
	defer func() {
		if err != nil {
			telemetry.ForgetPlugin(id)
			log.Warningf("plugin %s not registered: %v", id, err)
		}
	}()

	registry := newRegistry(manifest)
	if lerr := load(ctx, p, registry); lerr != nil {
		return &LoadError{ID: id, Err: lerr}
	}

	e := &entry{
		plugin:    p,
		manifest:  manifest,
		functions: make(map[string][]registered),
		health:    newHealth(m.config.Health),
	}
	for i, fn := range registry.functions {
		e.functions[fn.Feature] = append(e.functions[fn.Feature], registered{Function: fn, seq: i})
	}
	for _, fns := range e.functions {
		sort.SliceStable(fns, func(i, j int) bool {
			if fns[i].Priority != fns[j].Priority {
				return fns[i].Priority > fns[j].Priority
			}
			return fns[i].seq < fns[j].seq
		})
	}

	m.mu.Lock()
	if _, exists := m.plugins[id]; exists {
		m.mu.Unlock()
		return &LoadError{ID: id, Err: ErrAlreadyRegistered}
	}
	m.plugins[id] = e
	m.order = append(m.order, id)
	m.mu.Unlock()

	telemetry.SetPluginState(id, StateActive.String())
	log.Infof("registered plugin %s %s (%d functions)", id, manifest.Version, len(registry.functions))
	return nil
}

// load runs the plugin's Load with panic recovery.
func load(ctx context.Context, p Plugin, r *Registry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while loading: %v", rec)
		}
	}()
	return p.Load(ctx, r)
}

// Unregister removes a plugin and closes it.
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	e, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	delete(m.plugins, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	telemetry.ForgetPlugin(id)
	if err := e.plugin.Close(); err != nil {
		log.Warningf("closing plugin %s: %v", id, err)
	}
	log.Infof("unregistered plugin %s", id)
	return nil
}

// Enable clears a plugin's failure history and makes it active.
func (m *Manager) Enable(id string) error {
	return m.withEntry(id, func(e *entry) {
		e.health.enable()
	})
}

// Disable makes a plugin disabled until Enable is called.
func (m *Manager) Disable(id string) error {
	return m.withEntry(id, func(e *entry) {
		e.health.disable(m.now(), true)
	})
}

// State returns a plugin's current state, applying an elapsed cool-down.
func (m *Manager) State(id string) (State, error) {
	var st State
	err := m.withEntry(id, func(e *entry) {
		st = e.health.admit(m.now())
	})
	return st, err
}

func (m *Manager) withEntry(id string, fn func(*entry)) error {
	m.mu.RLock()
	e, ok := m.plugins[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	e.mu.Lock()
	before := e.health.state
	fn(e)
	after := e.health.state
	e.mu.Unlock()

	if before != after {
		m.transitioned(id, before, after)
	}
	return nil
}

// Plugins describes every registered plugin in registration order.
func (m *Manager) Plugins() []Info {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, m.plugins[id])
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := e.health.state
		e.mu.Unlock()

		counts := make(map[string]int, len(e.functions))
		for name, fns := range e.functions {
			counts[name] = len(fns)
		}
		out = append(out, Info{
			ID:        e.manifest.ID,
			Name:      e.manifest.Name,
			Version:   e.manifest.Version,
			Features:  append([]string(nil), e.manifest.Features...),
			State:     st,
			Functions: counts,
		})
	}
	return out
}

// Close unregisters every plugin.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Unregister(id)
	}
}

func (m *Manager) transitioned(id string, from, to State) {
	telemetry.SetPluginState(id, to.String())
	switch to {
	case StateDisabled:
		log.Warningf("plugin %s %s -> %s", id, from, to)
	default:
		log.Infof("plugin %s %s -> %s", id, from, to)
	}
}
