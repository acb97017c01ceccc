// Package backend ties the workspace, the Ast and symbol table managers and
// the plugin manager together behind the operations the protocol layers
// call. It keeps no derived state of its own.
package backend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/op/go-logging"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/discovery"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/index"
	"github.com/mvp-joe/cortex-lsp/internal/plugin"
	"github.com/mvp-joe/cortex-lsp/internal/plugin/core"
	"github.com/mvp-joe/cortex-lsp/internal/symbols"
	"github.com/mvp-joe/cortex-lsp/internal/watcher"
	"github.com/mvp-joe/cortex-lsp/internal/worker"
	"github.com/mvp-joe/cortex-lsp/internal/workspace"
)

var log = logging.MustGetLogger("backend")

var (
	// ErrUnknownFeature is returned for feature names no plugin can declare.
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrStaleVersion is returned when asking for a version that is neither
	// current nor cached.
	ErrStaleVersion = errors.New("version not available")

	// ErrNotInitialized is returned by operations that need a workspace root.
	ErrNotInitialized = errors.New("workspace root not initialized")

	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("backend shut down")
)

// Config configures a Backend.
type Config struct {
	// Workers bounds concurrent parse tree and Ast builds.
	Workers int
	// SymbolWorkers bounds concurrent symbol table builds.
	SymbolWorkers int
	// CacheSize bounds each artifact cache.
	CacheSize int
	// DefaultLanguage is used for files whose extension is not registered.
	DefaultLanguage string

	Plugins plugin.ManagerConfig
	// PluginDirs are searched for Lua plugins on Initialize, in addition to
	// .cortex-lsp/plugins under the root.
	PluginDirs []string

	// Preload opens every discovered file on Initialize.
	Preload bool
	Include []string
	Ignore  []string

	WatchDebounce       time.Duration
	DiagnosticsDebounce time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:             4,
		SymbolWorkers:       2,
		CacheSize:           ast.DefaultCacheSize,
		DefaultLanguage:     "python",
		Plugins:             plugin.DefaultManagerConfig(),
		Preload:             true,
		WatchDebounce:       watcher.DefaultDebounce,
		DiagnosticsDebounce: 200 * time.Millisecond,
	}
}

// Notifier receives diagnostics pushed after files change.
type Notifier interface {
	PublishDiagnostics(uri string, version int, items []feature.Item)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(uri string, version int, items []feature.Item)

// PublishDiagnostics calls f.
func (f NotifierFunc) PublishDiagnostics(uri string, version int, items []feature.Item) {
	f(uri, version, items)
}

// Option configures a Backend.
type Option func(*Backend)

// WithNotifier sets where diagnostics are pushed. Without one, diagnostics
// are only computed on request.
func WithNotifier(n Notifier) Option {
	return func(b *Backend) {
		b.notifier = n
	}
}

// WithPlugins registers Go plugins after the core plugin, in order.
func WithPlugins(plugins ...plugin.Plugin) Option {
	return func(b *Backend) {
		b.extra = append(b.extra, plugins...)
	}
}

// WithoutCore skips registering the built-in core plugin.
func WithoutCore() Option {
	return func(b *Backend) {
		b.skipCore = true
	}
}

// WithPluginOptions passes options to the plugin manager.
func WithPluginOptions(opts ...plugin.Option) Option {
	return func(b *Backend) {
		b.pluginOpts = append(b.pluginOpts, opts...)
	}
}

// Backend is one independent analysis instance.
type Backend struct {
	config Config

	ws       *workspace.Workspace
	astPool  *worker.Pool
	symPool  *worker.Pool
	asts     *ast.Manager
	syms     *symbols.Manager
	plugins  *plugin.Manager
	index    *index.Index
	diags    *publisher
	notifier Notifier

	extra      []plugin.Plugin
	skipCore   bool
	pluginOpts []plugin.Option

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	disc    *discovery.Discovery
	watcher *watcher.Watcher

	// bgMu guards closed and the Add side of background.
	bgMu       sync.Mutex
	closed     bool
	background sync.WaitGroup

	shutdownOnce sync.Once
}

// New creates a Backend and registers its Go plugins.
func New(config Config, opts ...Option) (*Backend, error) {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.SymbolWorkers <= 0 {
		config.SymbolWorkers = defaults.SymbolWorkers
	}
	if config.CacheSize <= 0 {
		config.CacheSize = defaults.CacheSize
	}
	if config.DiagnosticsDebounce <= 0 {
		config.DiagnosticsDebounce = defaults.DiagnosticsDebounce
	}

	b := &Backend{config: config}
	for _, opt := range opts {
		opt(b)
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.ws = workspace.New(config.DefaultLanguage)
	b.astPool = worker.New(config.Workers)
	b.symPool = worker.New(config.SymbolWorkers)

	var err error
	b.asts, err = ast.NewManager(b.astPool,
		ast.WithCacheSize(config.CacheSize),
		ast.WithObserver(b.astBuilt),
	)
	if err != nil {
		b.closePools()
		return nil, err
	}
	b.syms, err = symbols.NewManager(b.asts, b.symPool,
		symbols.WithCacheSize(config.CacheSize),
		symbols.WithObserver(b.tableBuilt),
		symbols.WithHitObserver(b.tableReused),
	)
	if err != nil {
		b.asts.Close()
		b.closePools()
		return nil, err
	}
	b.index, err = index.New()
	if err != nil {
		b.syms.Close()
		b.asts.Close()
		b.closePools()
		return nil, err
	}
	b.plugins = plugin.NewManager(config.Plugins, b.pluginOpts...)
	b.diags = newPublisher(b, config.DiagnosticsDebounce)

	plugins := b.extra
	if !b.skipCore {
		plugins = append([]plugin.Plugin{core.New()}, plugins...)
	}
	for _, p := range plugins {
		if err := b.plugins.Register(context.Background(), p); err != nil {
			b.Shutdown()
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) closePools() {
	b.symPool.Close()
	b.astPool.Close()
}

// astBuilt runs on an Ast build worker.
func (b *Backend) astBuilt(a *ast.Ast) {
	b.ws.MarkFresh(a.URI(), a.Version(), workspace.ArtifactAst)
}

// tableBuilt runs on a symbol build worker. Indexing happens off the worker.
func (b *Backend) tableBuilt(tbl *symbols.Table, snap *workspace.Snapshot) {
	b.ws.RecordDependencies(snap, tbl.URI(), tbl.Version(), tbl.Dependencies(), tbl.Missing())
	b.goBackground(func() {
		st, err := b.ws.Status(tbl.URI())
		if err != nil || st.Version != tbl.Version() {
			return
		}
		if err := b.index.Update(b.ctx, tbl); err != nil && b.ctx.Err() == nil {
			log.Warningf("failed to index %s: %v", tbl.URI(), err)
		}
	})
}

// tableReused marks a cached table fresh again for the snapshot that was
// served it.
func (b *Backend) tableReused(tbl *symbols.Table, snap *workspace.Snapshot) {
	b.ws.RecordDependencies(snap, tbl.URI(), tbl.Version(), tbl.Dependencies(), tbl.Missing())
}

// goBackground runs fn unless the backend is shutting down.
func (b *Backend) goBackground(fn func()) {
	b.bgMu.Lock()
	defer b.bgMu.Unlock()
	if b.closed {
		return
	}
	b.background.Add(1)
	go func() {
		defer b.background.Done()
		fn()
	}()
}

func (b *Backend) isShutdown() bool {
	b.bgMu.Lock()
	defer b.bgMu.Unlock()
	return b.closed
}

// Open starts tracking a file opened in the editor. A file already loaded
// from disk is adopted instead, keeping its history.
func (b *Backend) Open(uri, language, text string) (*document.Revision, error) {
	var (
		rev *document.Revision
		err error
	)
	if st, serr := b.ws.Status(uri); serr == nil && st.Origin == document.OriginDisk {
		rev, err = b.ws.Adopt(uri, text)
	} else {
		rev, err = b.ws.OpenFile(uri, text, workspace.WithLanguage(language))
	}
	if err != nil {
		return nil, err
	}
	b.changed(uri)
	return rev, nil
}

// Change applies edits to an open file, in order.
func (b *Backend) Change(uri string, edits []document.Edit) (*document.Revision, error) {
	rev, err := b.ws.ChangeFile(uri, edits)
	if err != nil {
		return nil, err
	}
	b.changed(uri)
	return rev, nil
}

// Close stops tracking a file closed in the editor. A workspace source file
// that still exists on disk goes back to its disk contents.
func (b *Backend) Close(uri string) error {
	st, err := b.ws.Status(uri)
	if err != nil {
		return err
	}
	if err := b.drop(uri); err != nil {
		return err
	}
	b.diags.clear(uri)

	if st.Origin == document.OriginEditor {
		if disc := b.discovery(); disc != nil && disc.Match(filepath.FromSlash(document.PathOf(uri))) {
			if _, err := b.loadFromDisk(uri); err != nil && !errors.Is(err, errNotOnDisk) {
				log.Warningf("failed to reload %s from disk: %v", uri, err)
			}
		}
	}
	b.refreshStale()
	return nil
}

// drop closes uri and forgets everything derived from it.
func (b *Backend) drop(uri string) error {
	if err := b.ws.CloseFile(uri); err != nil {
		return err
	}
	b.asts.Forget(uri)
	b.syms.Forget(uri)
	if err := b.index.Remove(uri); err != nil {
		log.Warningf("failed to remove %s from index: %v", uri, err)
	}
	return nil
}

// changed schedules diagnostics for uri and for every file whose symbol
// table the change may have invalidated.
func (b *Backend) changed(uri string) {
	b.diags.schedule(uri)
	b.refreshStale()
}

func (b *Backend) refreshStale() {
	for _, uri := range b.ws.Stale(workspace.ArtifactSymbols) {
		b.diags.schedule(uri)
	}
}

// GetAst returns the Ast of a version of uri. A negative version means the
// current one. Versions other than the current one are only available while
// cached.
func (b *Backend) GetAst(ctx context.Context, uri string, version int) (*ast.Ast, error) {
	rev, err := b.ws.Revision(uri)
	if err != nil {
		return nil, err
	}
	if version >= 0 && version != rev.Version {
		if a, ok := b.asts.Lookup(uri, version); ok {
			return a, nil
		}
		return nil, fmt.Errorf("%w: %s@%d (current %d)", ErrStaleVersion, uri, version, rev.Version)
	}
	return b.asts.Get(ctx, rev)
}

// GetSymbolTable returns the symbol table of a version of uri. A negative
// version means the current one, resolved against the current workspace.
// Another version is only available while it is the newest table built.
func (b *Backend) GetSymbolTable(ctx context.Context, uri string, version int) (*symbols.Table, error) {
	snap := b.ws.Snapshot()
	rev, ok := snap.Revision(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workspace.ErrUnknownFile, uri)
	}
	if version >= 0 && version != rev.Version {
		if tbl, ok := b.syms.Latest(uri); ok && tbl.Version() == version {
			return tbl, nil
		}
		return nil, fmt.Errorf("%w: %s@%d (current %d)", ErrStaleVersion, uri, version, rev.Version)
	}
	return b.syms.Get(ctx, snap, uri)
}

// RequestFeature computes a feature at a position of an open file. When ctx
// is cancelled during dispatch the items gathered so far are returned along
// with ctx's error.
func (b *Backend) RequestFeature(ctx context.Context, name, uri string, pos document.Position) (*feature.Result, error) {
	if b.isShutdown() {
		return nil, ErrShutdown
	}
	if !feature.Known(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, name)
	}

	snap := b.ws.Snapshot()
	rev, ok := snap.Revision(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workspace.ErrUnknownFile, uri)
	}
	a, err := b.asts.Get(ctx, rev)
	if err != nil {
		return nil, err
	}
	tbl, err := b.syms.Get(ctx, snap, uri)
	if err != nil {
		return nil, err
	}

	req := feature.NewRequest(name, a, tbl, pos)
	req.Locate = b.locate(snap)

	items, err := b.plugins.Dispatch(ctx, name, req)
	if items == nil {
		items = []feature.Item{}
	}
	return &feature.Result{
		Feature:  name,
		URI:      uri,
		Version:  rev.Version,
		Items:    items,
		Degraded: a.Degraded(),
	}, err
}

// locate converts targets in other files using the Ast built for the
// target's version, or the snapshot's text of that version.
func (b *Backend) locate(snap *workspace.Snapshot) func(symbols.Target) (document.Range, bool) {
	return func(t symbols.Target) (document.Range, bool) {
		if t.Builtin || t.URI == "" {
			return document.Range{}, false
		}
		if a, ok := b.asts.Lookup(t.URI, t.Version); ok {
			return a.Range(t.Span), true
		}
		if rev, ok := snap.Revision(t.URI); ok && rev.Version == t.Version {
			return rev.Lines().RangeOf(t.Span.Start, t.Span.End), true
		}
		return document.Range{}, false
	}
}

// Search queries the workspace symbol index.
func (b *Backend) Search(ctx context.Context, q string, opts index.SearchOptions) ([]index.Hit, error) {
	return b.index.Search(ctx, q, opts)
}

// Files returns the status of every tracked file.
func (b *Backend) Files() []workspace.FileStatus {
	return b.ws.Files()
}

// Plugins describes every registered plugin.
func (b *Backend) Plugins() []plugin.Info {
	return b.plugins.Plugins()
}

// EnablePlugin makes a plugin active again.
func (b *Backend) EnablePlugin(id string) error {
	return b.plugins.Enable(id)
}

// DisablePlugin stops dispatching to a plugin.
func (b *Backend) DisablePlugin(id string) error {
	return b.plugins.Disable(id)
}

// Root returns the workspace root set by Initialize.
func (b *Backend) Root() string {
	if disc := b.discovery(); disc != nil {
		return disc.Root()
	}
	return ""
}

func (b *Backend) discovery() *discovery.Discovery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disc
}

// Shutdown stops the watcher, pending diagnostics and every worker. It is
// safe to call more than once.
func (b *Backend) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.diags.close()

		b.mu.Lock()
		w := b.watcher
		b.watcher = nil
		b.mu.Unlock()
		if w != nil {
			if err := w.Stop(); err != nil {
				log.Warningf("failed to stop watcher: %v", err)
			}
		}

		b.cancel()
		b.bgMu.Lock()
		b.closed = true
		b.bgMu.Unlock()
		b.background.Wait()

		b.plugins.Close()
		b.closePools()
		b.syms.Close()
		b.asts.Close()
		if err := b.index.Close(); err != nil {
			log.Warningf("failed to close index: %v", err)
		}
		log.Infof("backend shut down")
	})
}
