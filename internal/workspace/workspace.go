// Package workspace owns the set of open files, their current revisions and
// the freshness of their derived artifacts, plus the dependency graph used
// to invalidate symbol tables across files.
package workspace

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/op/go-logging"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
	"github.com/mvp-joe/cortex-lsp/internal/telemetry"
)

var log = logging.MustGetLogger("workspace")

var (
	// ErrUnknownFile is returned for operations on a uri that is not open.
	ErrUnknownFile = errors.New("unknown file")

	// ErrDuplicateFile is returned when opening a uri that is already open.
	ErrDuplicateFile = errors.New("file already open")
)

// Artifact names a derived artifact of a file.
type Artifact int

const (
	ArtifactParseTree Artifact = iota
	ArtifactAst
	ArtifactSymbols
	numArtifacts
)

// String returns the artifact name.
func (a Artifact) String() string {
	switch a {
	case ArtifactParseTree:
		return "parse_tree"
	case ArtifactAst:
		return "ast"
	case ArtifactSymbols:
		return "symbols"
	default:
		return fmt.Sprintf("artifact(%d)", int(a))
	}
}

// Status is the freshness of an artifact for a file's current version.
type Status int

const (
	Stale Status = iota
	Fresh
)

// String returns the status name.
func (s Status) String() string {
	if s == Fresh {
		return "fresh"
	}
	return "stale"
}

// FileStatus is a point-in-time view of one file.
type FileStatus struct {
	URI       string
	Language  string
	Version   int
	Origin    document.Origin
	ParseTree Status
	Ast       Status
	Symbols   Status
	// Dependencies are the uris this file's imports resolved to.
	Dependencies []string
	// Missing are import specs that resolved to no open file.
	Missing []string
	// Fallback reports that Language is the workspace fallback because the
	// uri's extension is not registered.
	Fallback bool
}

type file struct {
	// edit serializes ChangeFile calls on this file.
	edit sync.Mutex

	uri      string
	language string
	fallback bool
	origin   document.Origin
	rev      *document.Revision

	// fresh holds the version each artifact was last built for, or -1.
	fresh [numArtifacts]int
	// staleSeq is the workspace sequence at which the symbol table was last
	// invalidated by a dependency.
	staleSeq uint64
	missing  []string
}

func (f *file) status(a Artifact) Status {
	if f.fresh[a] == f.rev.Version {
		return Fresh
	}
	return Stale
}

func (f *file) invalidate(seq uint64) {
	f.fresh[ArtifactSymbols] = -1
	f.staleSeq = seq
}

// OpenOption configures OpenFile.
type OpenOption func(*file)

// WithLanguage sets the language instead of detecting it from the uri.
func WithLanguage(language string) OpenOption {
	return func(f *file) {
		if language != "" {
			f.language = language
			f.fallback = false
		}
	}
}

// WithOrigin records who owns the file. The default is OriginEditor.
func WithOrigin(origin document.Origin) OpenOption {
	return func(f *file) {
		f.origin = origin
	}
}

// Workspace is the only creator and destroyer of files.
type Workspace struct {
	mu       sync.RWMutex
	files    map[string]*file
	seq      uint64
	deps     *depGraph
	fallback string
}

// New creates an empty Workspace. fallback is the language used for files
// whose extension is not registered.
func New(fallback string) *Workspace {
	return &Workspace{
		files:    make(map[string]*file),
		deps:     newDepGraph(),
		fallback: fallback,
	}
}

// OpenFile starts tracking uri at version 0 with every artifact stale.
// Files whose imports were unresolved, and files that depended on uri before
// it was last closed, get their symbol tables invalidated.
func (w *Workspace) OpenFile(uri, text string, opts ...OpenOption) (*document.Revision, error) {
	f := &file{
		uri:      uri,
		language: lang.Detect(document.PathOf(uri), ""),
		origin:   document.OriginEditor,
	}
	if f.language == "" {
		f.language = w.fallback
		f.fallback = true
	}
	for _, opt := range opts {
		opt(f)
	}
	for i := range f.fresh {
		f.fresh[i] = -1
	}
	f.rev = document.NewRevision(uri, f.language, 0, text)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.files[uri]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFile, uri)
	}
	w.seq++
	w.files[uri] = f

	for _, other := range w.files {
		if other != f && len(other.missing) > 0 {
			other.invalidate(w.seq)
		}
	}
	w.invalidateDependents(uri)

	telemetry.OpenFiles.WithLabelValues(f.origin.String()).Inc()
	log.Debugf("opened %s as %s (%s)", uri, f.language, f.origin)
	return f.rev, nil
}

// ChangeFile applies edits in order and publishes the next version. The
// file's own artifacts become stale, as do the symbol tables of every file
// that depends on it, directly or through re-exports.
func (w *Workspace) ChangeFile(uri string, edits []document.Edit) (*document.Revision, error) {
	f, err := w.lookup(uri)
	if err != nil {
		return nil, err
	}

	f.edit.Lock()
	defer f.edit.Unlock()

	w.mu.RLock()
	current := f.rev
	w.mu.RUnlock()

	next, err := current.Next(edits)
	if err != nil {
		return nil, fmt.Errorf("failed to apply edits to %s: %w", uri, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[uri] != f {
		// Closed while the edits were being applied.
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, uri)
	}
	w.seq++
	f.rev = next
	w.invalidateDependents(uri)
	return next, nil
}

// CloseFile stops tracking uri. Symbol tables of other files are left as
// they are.
func (w *Workspace) CloseFile(uri string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, ok := w.files[uri]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFile, uri)
	}
	delete(w.files, uri)
	w.seq++
	w.deps.remove(uri)

	telemetry.OpenFiles.WithLabelValues(f.origin.String()).Dec()
	log.Debugf("closed %s", uri)
	return nil
}

// Adopt makes the editor the owner of a disk-loaded file. When text differs
// from the current text it replaces it as a new version.
func (w *Workspace) Adopt(uri, text string) (*document.Revision, error) {
	f, err := w.lookup(uri)
	if err != nil {
		return nil, err
	}

	f.edit.Lock()
	defer f.edit.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[uri] != f {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, uri)
	}
	if f.origin != document.OriginEditor {
		telemetry.OpenFiles.WithLabelValues(f.origin.String()).Dec()
		telemetry.OpenFiles.WithLabelValues(document.OriginEditor.String()).Inc()
		f.origin = document.OriginEditor
	}
	if text == f.rev.Text {
		return f.rev, nil
	}
	next, err := f.rev.Next([]document.Edit{document.Replace(text)})
	if err != nil {
		return nil, err
	}
	w.seq++
	f.rev = next
	w.invalidateDependents(uri)
	return next, nil
}

// Revision returns the current revision of uri.
func (w *Workspace) Revision(uri string) (*document.Revision, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	f, ok := w.files[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, uri)
	}
	return f.rev, nil
}

// Status returns the current state of uri.
func (w *Workspace) Status(uri string) (FileStatus, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	f, ok := w.files[uri]
	if !ok {
		return FileStatus{}, fmt.Errorf("%w: %s", ErrUnknownFile, uri)
	}
	return w.statusOf(f), nil
}

// Files returns the status of every file, sorted by uri.
func (w *Workspace) Files() []FileStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]FileStatus, 0, len(w.files))
	for _, f := range w.files {
		out = append(out, w.statusOf(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Stale returns the uris whose artifact is stale, sorted.
func (w *Workspace) Stale(a Artifact) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []string
	for uri, f := range w.files {
		if f.status(a) == Stale {
			out = append(out, uri)
		}
	}
	sort.Strings(out)
	return out
}

// Dependents returns the open files that depend on uri, directly or
// transitively, sorted.
func (w *Workspace) Dependents(uri string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []string
	for _, dep := range w.deps.dependents(uri) {
		if _, ok := w.files[dep]; ok {
			out = append(out, dep)
		}
	}
	return out
}

// MarkFresh records that artifact was built for (uri, version). Reports for
// versions other than the current one are ignored.
func (w *Workspace) MarkFresh(uri string, version int, a Artifact) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[uri]
	if !ok || f.rev.Version != version {
		return
	}
	if a == ArtifactAst {
		// An Ast implies the tree it was translated from.
		f.fresh[ArtifactParseTree] = version
	}
	f.fresh[a] = version
}

// RecordDependencies stores the import edges of (uri, version) as resolved
// against snap, and marks the symbol table fresh unless a dependency changed
// after snap was taken.
func (w *Workspace) RecordDependencies(snap *Snapshot, uri string, version int, deps, missing []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[uri]
	if !ok || f.rev.Version != version {
		return
	}
	w.deps.set(uri, deps)
	f.missing = append([]string(nil), missing...)
	if snap.Seq() >= f.staleSeq {
		f.fresh[ArtifactSymbols] = version
	}
}

func (w *Workspace) lookup(uri string) (*file, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	f, ok := w.files[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, uri)
	}
	return f, nil
}

// invalidateDependents must be called with mu held for writing.
func (w *Workspace) invalidateDependents(uri string) {
	for _, dep := range w.deps.dependents(uri) {
		if f, ok := w.files[dep]; ok {
			f.invalidate(w.seq)
		}
	}
}

func (w *Workspace) statusOf(f *file) FileStatus {
	return FileStatus{
		URI:          f.uri,
		Language:     f.language,
		Version:      f.rev.Version,
		Origin:       f.origin,
		ParseTree:    f.status(ArtifactParseTree),
		Ast:          f.status(ArtifactAst),
		Symbols:      f.status(ArtifactSymbols),
		Dependencies: w.deps.dependencies(f.uri),
		Missing:      append([]string(nil), f.missing...),
		Fallback:     f.fallback,
	}
}
