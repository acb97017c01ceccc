package ast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/op/go-logging"
	"golang.org/x/sync/singleflight"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/parsetree"
	"github.com/mvp-joe/cortex-lsp/internal/telemetry"
	"github.com/mvp-joe/cortex-lsp/internal/worker"
)

var log = logging.MustGetLogger("ast")

// DefaultCacheSize is the number of Asts kept when no size is configured.
const DefaultCacheSize = 1024

// Key returns the cache key of a file version.
func Key(uri string, version int) string {
	return fmt.Sprintf("%s@%d", uri, version)
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers fn to be called once for every Ast the Manager
// caches. fn runs on a build worker and must not block.
func WithObserver(fn func(*Ast)) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

// WithCacheSize bounds the number of cached Asts.
func WithCacheSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.cacheSize = n
		}
	}
}

// WithRetain sets how many parse trees per file are kept for incremental
// reparse.
func WithRetain(n int) Option {
	return func(m *Manager) {
		m.retain = n
	}
}

// Manager builds and caches Asts per (uri, version). At most one build per
// key is in flight; callers that give up stop waiting without cancelling
// the shared build.
type Manager struct {
	parser    *parsetree.Parser
	trees     *parsetree.Retainer
	pool      *worker.Pool
	cache     otter.Cache[string, *Ast]
	flight    singleflight.Group
	observer  func(*Ast)
	cacheSize int
	retain    int

	mu sync.Mutex
	// versions lists the cached versions of each uri. Evicted versions are
	// pruned on the uri's next build.
	versions map[string][]int
}

// NewManager creates a Manager whose builds run on pool.
func NewManager(pool *worker.Pool, opts ...Option) (*Manager, error) {
	m := &Manager{
		parser:    parsetree.NewParser(),
		pool:      pool,
		cacheSize: DefaultCacheSize,
		retain:    parsetree.DefaultRetain,
		versions:  make(map[string][]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.trees = parsetree.NewRetainer(m.retain)

	cache, err := otter.MustBuilder[string, *Ast](m.cacheSize).
		CollectStats().
		Cost(func(key string, value *Ast) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create ast cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// Get returns the Ast of rev, building it if needed. Syntax errors never fail
// Get; they surface as Error nodes. The only errors are ctx's and a closed
// pool.
func (m *Manager) Get(ctx context.Context, rev *document.Revision) (*Ast, error) {
	key := Key(rev.URI, rev.Version)
	if a, ok := m.cache.Get(key); ok {
		telemetry.CacheLookups.WithLabelValues("ast", "hit").Inc()
		return a, nil
	}
	telemetry.CacheLookups.WithLabelValues("ast", "miss").Inc()

	ch := m.flight.DoChan(key, func() (any, error) {
		if a, ok := m.cache.Get(key); ok {
			return a, nil
		}
		var built *Ast
		err := m.pool.Do(context.Background(), rev.URI, rev.Version, func(ctx context.Context) {
			built = m.build(ctx, rev)
		})
		if err != nil {
			return nil, err
		}
		if built == nil {
			log.Errorf("build of %s@%d produced no ast", rev.URI, rev.Version)
			telemetry.DegradedBuilds.WithLabelValues("ast").Inc()
			built = Failed(rev)
		}
		return built, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Ast), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookup returns the cached Ast of (uri, version) without building.
func (m *Manager) Lookup(uri string, version int) (*Ast, bool) {
	return m.cache.Get(Key(uri, version))
}

// Forget drops every cached Ast and retained tree of uri.
func (m *Manager) Forget(uri string) {
	m.mu.Lock()
	versions := m.versions[uri]
	delete(m.versions, uri)
	m.mu.Unlock()

	for _, v := range versions {
		m.cache.Delete(Key(uri, v))
	}
	m.trees.Drop(uri)
}

// Close releases the cache and retained trees.
func (m *Manager) Close() {
	m.cache.Close()
	m.trees.Close()
}

func (m *Manager) build(ctx context.Context, rev *document.Revision) *Ast {
	start := time.Now()
	defer telemetry.ObserveBuild("ast", start)

	var prev *parsetree.Tree
	if rev.Incremental() {
		prev = m.trees.Base(rev.URI, rev.Base)
		if prev != nil {
			defer prev.Close()
		}
	}

	tree, err := m.parser.Parse(ctx, rev, prev)
	if err != nil {
		log.Warningf("parse of %s@%d failed: %v", rev.URI, rev.Version, err)
		telemetry.DegradedBuilds.WithLabelValues("ast").Inc()
		return Failed(rev)
	}

	a, err := Translate(rev, tree)
	m.trees.Put(tree)
	if err != nil {
		log.Errorf("translation of %s@%d failed: %v", rev.URI, rev.Version, err)
		telemetry.DegradedBuilds.WithLabelValues("ast").Inc()
		return Failed(rev)
	}

	m.cache.Set(Key(rev.URI, rev.Version), a)
	m.mu.Lock()
	m.versions[rev.URI] = append(m.live(rev.URI, rev.Version), rev.Version)
	m.mu.Unlock()

	log.Debugf("built ast %s@%d: %d nodes, %d errors", rev.URI, rev.Version, a.Len(), len(a.errors))
	if m.observer != nil {
		m.observer(a)
	}
	return a
}

// live returns the versions of uri other than added that are still cached.
// m.mu must be held.
func (m *Manager) live(uri string, added int) []int {
	versions := m.versions[uri]
	out := versions[:0]
	for _, v := range versions {
		if v != added && m.cache.Has(Key(uri, v)) {
			out = append(out, v)
		}
	}
	return out
}
