package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-lsp/internal/feature"
)

// Test Plan for Manager:
// - Completion results follow plugin registration order and drop duplicate labels
// - Within a plugin, higher-priority functions come first, ties by registration order
// - A hover function that always fails degrades, then disables its plugin after 3 calls
// - Disabled plugins are skipped while other plugins keep contributing
// - Panics, errors and timeouts are absorbed and never returned from Dispatch
// - Degraded plugins' items are flagged low confidence; successes recover them
// - Caller cancellation returns gathered items plus the context error and counts no failure
// - Register rejects invalid manifests, undeclared features, panics and duplicate ids
// - A disabled plugin is retried after the cool-down, on probation
// - Manual Disable sticks until Enable
// - Unregister closes the plugin and removes it from dispatch

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func manifest(id string, features ...string) Manifest {
	return Manifest{ID: id, Name: id, Version: "1.0.0", Features: features}
}

func items(labels ...string) Handler {
	return func(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
		out := make([]feature.Item, 0, len(labels))
		for _, l := range labels {
			out = append(out, feature.Item{Label: l, Contents: l})
		}
		return out, nil
	}
}

func failing(calls *atomic.Int32) Handler {
	return func(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	}
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	cfg := DefaultManagerConfig()
	cfg.Timeout = 200 * time.Millisecond
	m := NewManager(cfg, opts...)
	t.Cleanup(m.Close)
	return m
}

func register(t *testing.T, m *Manager, p Plugin) {
	t.Helper()
	require.NoError(t, m.Register(context.Background(), p))
}

func labels(its []feature.Item) []string {
	out := make([]string, 0, len(its))
	for _, it := range its {
		out = append(out, it.Label)
	}
	return out
}

func dispatch(t *testing.T, m *Manager, name string) []feature.Item {
	t.Helper()
	got, err := m.Dispatch(context.Background(), name, &feature.Request{Feature: name})
	require.NoError(t, err)
	return got
}

func TestDispatch_OrderAndDedupe(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	register(t, m, NewStatic(manifest("p1", feature.Completion),
		Function{Feature: feature.Completion, Name: "p1", Handler: items("alpha", "beta")}))
	register(t, m, NewStatic(manifest("p2", feature.Completion),
		Function{Feature: feature.Completion, Name: "p2", Handler: items("beta", "gamma")}))

	got := dispatch(t, m, feature.Completion)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, labels(got))
	assert.Equal(t, "p1", got[1].Source, "duplicate keeps the first occurrence")
	assert.Equal(t, "p2", got[2].Source)
}

func TestDispatch_FunctionPriority(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	register(t, m, NewStatic(manifest("p1", feature.Completion),
		Function{Feature: feature.Completion, Name: "low", Priority: 0, Handler: items("low")},
		Function{Feature: feature.Completion, Name: "high", Priority: 10, Handler: items("high")},
		Function{Feature: feature.Completion, Name: "low2", Priority: 0, Handler: items("low2")},
	))

	assert.Equal(t, []string{"high", "low", "low2"}, labels(dispatch(t, m, feature.Completion)))
}

func TestDispatch_FailingPluginIsDisabled(t *testing.T) {
	t.Parallel()

	var failures atomic.Int32
	var hooked atomic.Int32
	m := newTestManager(t, WithFailureHook(func(f *FunctionFailure) {
		hooked.Add(1)
		assert.Equal(t, "p1", f.Plugin)
		assert.NotEmpty(t, f.DispatchID)
	}))
	register(t, m, NewStatic(manifest("p1", feature.Hover),
		Function{Feature: feature.Hover, Handler: failing(&failures)}))
	register(t, m, NewStatic(manifest("p2", feature.Hover),
		Function{Feature: feature.Hover, Handler: items("from p2")}))

	want := []struct {
		call  int
		state State
	}{{1, StateActive}, {2, StateDegraded}, {3, StateDisabled}}
	for _, step := range want {
		got := dispatch(t, m, feature.Hover)
		assert.Equal(t, []string{"from p2"}, labels(got), "call %d", step.call)

		st, err := m.State("p1")
		require.NoError(t, err)
		assert.Equal(t, step.state, st, "after call %d", step.call)
	}

	got := dispatch(t, m, feature.Hover)
	assert.Equal(t, []string{"from p2"}, labels(got))
	assert.Equal(t, int32(3), failures.Load(), "disabled plugin is not invoked")
	assert.Equal(t, int32(3), hooked.Load())
}

func TestDispatch_Isolation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var failures []*FunctionFailure
	var mu sync.Mutex
	cfg := DefaultManagerConfig()
	cfg.Timeout = 50 * time.Millisecond
	m := NewManager(cfg, WithFailureHook(func(f *FunctionFailure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	}))
	t.Cleanup(m.Close)

	register(t, m, NewStatic(manifest("panics", feature.Hover),
		Function{Feature: feature.Hover, Handler: func(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
			panic("handler bug")
		}}))
	register(t, m, NewStatic(manifest("hangs", feature.Hover),
		Function{Feature: feature.Hover, Handler: func(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
			<-release
			return nil, nil
		}}))
	register(t, m, NewStatic(manifest("good", feature.Hover),
		Function{Feature: feature.Hover, Handler: items("ok")}))

	for i := 0; i < 5; i++ {
		got := dispatch(t, m, feature.Hover)
		assert.Equal(t, []string{"ok"}, labels(got))
	}

	mu.Lock()
	defer mu.Unlock()
	var panics, timeouts int
	for _, f := range failures {
		if f.Panic {
			panics++
		}
		if f.Timeout {
			timeouts++
		}
	}
	assert.Equal(t, 3, panics, "disabled after three")
	assert.Equal(t, 3, timeouts)

	st, err := m.State("good")
	require.NoError(t, err)
	assert.Equal(t, StateActive, st)
}

func TestDispatch_LowConfidenceAndRecovery(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	m := newTestManager(t)
	register(t, m, NewStatic(manifest("flaky", feature.Completion),
		Function{Feature: feature.Completion, Handler: func(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
			if calls.Add(1) <= 2 {
				return nil, errors.New("warming up")
			}
			return []feature.Item{{Label: "x"}}, nil
		}}))

	dispatch(t, m, feature.Completion)
	dispatch(t, m, feature.Completion)
	st, _ := m.State("flaky")
	require.Equal(t, StateDegraded, st)

	got := dispatch(t, m, feature.Completion)
	require.Len(t, got, 1)
	assert.True(t, got[0].LowConfidence)

	// 2 failures out of 5 outcomes falls below the 0.5 rate.
	dispatch(t, m, feature.Completion)
	dispatch(t, m, feature.Completion)
	st, _ = m.State("flaky")
	assert.Equal(t, StateActive, st)

	got = dispatch(t, m, feature.Completion)
	require.Len(t, got, 1)
	assert.False(t, got[0].LowConfidence)
}

func TestDispatch_CallerCancellation(t *testing.T) {
	t.Parallel()

	cfg := DefaultManagerConfig()
	cfg.Timeout = 5 * time.Second
	m := NewManager(cfg)
	t.Cleanup(m.Close)

	register(t, m, NewStatic(manifest("fast", feature.Completion),
		Function{Feature: feature.Completion, Handler: items("quick")}))
	register(t, m, NewStatic(manifest("slow", feature.Completion),
		Function{Feature: feature.Completion, Handler: func(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	got, err := m.Dispatch(ctx, feature.Completion, &feature.Request{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"quick"}, labels(got))

	for i := 0; i < 3; i++ {
		_, _ = m.Dispatch(ctx, feature.Completion, &feature.Request{})
	}
	st, _ := m.State("slow")
	assert.Equal(t, StateActive, st, "cancellations are not failures")
}

func TestRegister_Errors(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		p     Plugin
		cause error
	}{
		{"no features", NewStatic(manifest("a")), ErrNoFeatures},
		{"no id", NewStatic(manifest("", feature.Hover)), ErrMissingID},
		{"unknown feature", NewStatic(manifest("f", "rename")), ErrUnknownFeature},
		{"undeclared feature", NewStatic(manifest("b", feature.Hover),
			Function{Feature: feature.Completion, Handler: items("x")}), ErrUndeclaredFeature},
		{"nil handler", NewStatic(manifest("c", feature.Hover),
			Function{Feature: feature.Hover}), ErrNilHandler},
		{"panicking load", panicPlugin{manifest("d", feature.Hover)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Register(ctx, tt.p)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPluginLoad)
			var le *LoadError
			require.ErrorAs(t, err, &le)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}

	assert.Empty(t, m.Plugins(), "failed plugins never become active")

	register(t, m, NewStatic(manifest("e", feature.Hover), Function{Feature: feature.Hover, Handler: items("x")}))
	err := m.Register(ctx, NewStatic(manifest("e", feature.Hover)))
	assert.ErrorIs(t, err, ErrPluginLoad)
	err = m.Register(ctx, NewStatic(manifest("e", feature.Hover), Function{Feature: feature.Hover, Handler: items("x")}))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

type panicPlugin struct{ m Manifest }

func (p panicPlugin) Manifest() Manifest { return p.m }

func (p panicPlugin) Load(ctx context.Context, r *Registry) error { panic("load bug") }

func (p panicPlugin) Close() error { return nil }

func TestHealth_CooldownProbation(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	var failures atomic.Int32
	m := newTestManager(t, WithClock(clock.Now))
	register(t, m, NewStatic(manifest("p1", feature.Hover),
		Function{Feature: feature.Hover, Handler: failing(&failures)}))

	for i := 0; i < 3; i++ {
		dispatch(t, m, feature.Hover)
	}
	st, _ := m.State("p1")
	require.Equal(t, StateDisabled, st)

	clock.Advance(DefaultCooldown - time.Second)
	dispatch(t, m, feature.Hover)
	assert.Equal(t, int32(3), failures.Load())

	clock.Advance(time.Second)
	st, _ = m.State("p1")
	assert.Equal(t, StateActive, st)

	dispatch(t, m, feature.Hover)
	assert.Equal(t, int32(4), failures.Load())
	st, _ = m.State("p1")
	assert.Equal(t, StateDisabled, st, "one failure on probation disables again")
}

func TestManager_DisableEnable(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newTestManager(t, WithClock(clock.Now))
	register(t, m, NewStatic(manifest("p1", feature.Completion),
		Function{Feature: feature.Completion, Handler: items("x")}))

	require.NoError(t, m.Disable("p1"))
	assert.Empty(t, dispatch(t, m, feature.Completion))

	clock.Advance(time.Hour)
	assert.Empty(t, dispatch(t, m, feature.Completion), "manual disable ignores the cool-down")

	require.NoError(t, m.Enable("p1"))
	assert.Equal(t, []string{"x"}, labels(dispatch(t, m, feature.Completion)))

	assert.ErrorIs(t, m.Enable("nope"), ErrPluginNotFound)
	_, err := m.State("nope")
	assert.ErrorIs(t, err, ErrPluginNotFound)
}

type closingPlugin struct {
	*Static
	closed atomic.Bool
}

func (p *closingPlugin) Close() error {
	p.closed.Store(true)
	return nil
}

func TestManager_Unregister(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	p := &closingPlugin{Static: NewStatic(manifest("p1", feature.Completion),
		Function{Feature: feature.Completion, Handler: items("x")})}
	register(t, m, p)

	info := m.Plugins()
	require.Len(t, info, 1)
	assert.Equal(t, map[string]int{feature.Completion: 1}, info[0].Functions)

	require.NoError(t, m.Unregister("p1"))
	assert.True(t, p.closed.Load())
	assert.Empty(t, dispatch(t, m, feature.Completion))
	assert.ErrorIs(t, m.Unregister("p1"), ErrPluginNotFound)
}
