package symbols

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/op/go-logging"
	"golang.org/x/sync/singleflight"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/telemetry"
	"github.com/mvp-joe/cortex-lsp/internal/worker"
	"github.com/mvp-joe/cortex-lsp/internal/workspace"
)

var log = logging.MustGetLogger("symbols")

// DefaultCacheSize is the number of tables kept when no size is configured.
const DefaultCacheSize = 1024

// ErrBuildFailed is returned when a build ends without producing a table.
var ErrBuildFailed = errors.New("symbol table build failed")

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers fn to be called once for every table the Manager
// caches, with the snapshot it was built against. fn must not block.
func WithObserver(fn func(*Table, *workspace.Snapshot)) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

// WithHitObserver registers fn to be called when Get serves a cached table,
// with the snapshot of that Get. A hit means the table is still valid for
// the snapshot. fn must not block.
func WithHitObserver(fn func(*Table, *workspace.Snapshot)) Option {
	return func(m *Manager) {
		m.hitObserver = fn
	}
}

// WithCacheSize bounds the number of cached tables.
func WithCacheSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.cacheSize = n
		}
	}
}

// Manager builds and caches symbol tables. A table is cached under its own
// version plus the version of every file in its import closure, so a table
// is reused only while all of those files are unchanged.
type Manager struct {
	asts        AstSource
	pool        *worker.Pool
	cache       otter.Cache[string, *Table]
	flight      singleflight.Group
	observer    func(*Table, *workspace.Snapshot)
	hitObserver func(*Table, *workspace.Snapshot)
	cacheSize   int

	mu     sync.Mutex
	latest map[string]*Table
	// keys maps a uri to the cache keys of tables built from it or
	// depending on it. Keys evicted from the cache are pruned on the next
	// build touching the uri.
	keys map[string][]string
}

// NewManager creates a Manager reading Asts from asts and building on pool.
func NewManager(asts AstSource, pool *worker.Pool, opts ...Option) (*Manager, error) {
	m := &Manager{
		asts:      asts,
		pool:      pool,
		cacheSize: DefaultCacheSize,
		latest:    make(map[string]*Table),
		keys:      make(map[string][]string),
	}
	for _, opt := range opts {
		opt(m)
	}

	cache, err := otter.MustBuilder[string, *Table](m.cacheSize).
		CollectStats().
		Cost(func(key string, value *Table) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create symbol cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// Get returns the table of uri as seen by snap.
func (m *Manager) Get(ctx context.Context, snap *workspace.Snapshot, uri string) (*Table, error) {
	rev, ok := snap.Revision(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workspace.ErrUnknownFile, uri)
	}

	r := newResolver(snap, m.asts)
	key, closure, err := r.dependencyKey(ctx, uri)
	if err != nil {
		return nil, err
	}

	if t, ok := m.cache.Get(key); ok {
		telemetry.CacheLookups.WithLabelValues("symbols", "hit").Inc()
		m.hit(t, snap)
		return t, nil
	}
	telemetry.CacheLookups.WithLabelValues("symbols", "miss").Inc()

	ch := m.flight.DoChan(key, func() (any, error) {
		if t, ok := m.cache.Get(key); ok {
			m.hit(t, snap)
			return t, nil
		}
		var (
			built    *Table
			buildErr error
		)
		err := m.pool.Do(context.Background(), uri, rev.Version, func(ctx context.Context) {
			built, buildErr = m.build(ctx, r, snap, rev, key, closure)
		})
		if err != nil {
			return nil, err
		}
		if buildErr != nil {
			return nil, buildErr
		}
		if built == nil {
			return nil, fmt.Errorf("%w: %s@%d", ErrBuildFailed, uri, rev.Version)
		}
		return built, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Table), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Latest returns the newest table built for uri. Its version never moves
// backwards.
func (m *Manager) Latest(uri string) (*Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.latest[uri]
	return t, ok
}

// Forget drops cached tables built from uri or depending on it.
func (m *Manager) Forget(uri string) {
	m.mu.Lock()
	keys := m.keys[uri]
	delete(m.keys, uri)
	delete(m.latest, uri)
	m.mu.Unlock()

	for _, key := range keys {
		m.cache.Delete(key)
	}
}

// Close releases the cache.
func (m *Manager) Close() {
	m.cache.Close()
}

func (m *Manager) build(ctx context.Context, r *resolver, snap *workspace.Snapshot, rev *document.Revision, key string, closure []string) (*Table, error) {
	start := time.Now()
	defer telemetry.ObserveBuild("symbols", start)

	a, err := m.asts.Get(ctx, rev)
	if err != nil {
		return nil, err
	}
	l := languageOf(rev.Language)

	t := &Table{
		uri:      rev.URI,
		version:  rev.Version,
		language: rev.Language,
		key:      key,
		tree:     a,
	}
	collect(t, a)
	wildcards, err := r.resolveImports(ctx, t, l)
	if err != nil {
		return nil, err
	}
	t.resolveReferences(l, wildcards)
	t.diagnose(l)

	m.cache.Set(key, t)
	m.mu.Lock()
	m.keys[t.uri] = append(m.live(m.keys[t.uri], key), key)
	for _, dep := range closure {
		m.keys[dep] = append(m.live(m.keys[dep], key), key)
	}
	m.mu.Unlock()
	m.advance(t)

	log.Debugf("built symbols %s@%d: %d decls, %d refs, %d diagnostics", t.uri, t.version, len(t.decls), len(t.refs), len(t.diagnostics))
	if m.observer != nil {
		m.observer(t, snap)
	}
	return t, nil
}

// live returns the keys other than added that are still cached, reusing
// keys' storage.
func (m *Manager) live(keys []string, added string) []string {
	out := keys[:0]
	for _, key := range keys {
		if key != added && m.cache.Has(key) {
			out = append(out, key)
		}
	}
	return out
}

func (m *Manager) hit(t *Table, snap *workspace.Snapshot) {
	m.advance(t)
	if m.hitObserver != nil {
		m.hitObserver(t, snap)
	}
}

// advance moves the latest table of t's uri forward, never back.
func (m *Manager) advance(t *Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.latest[t.uri]; ok && cur.version > t.version {
		return
	}
	m.latest[t.uri] = t
}
