package workspace

import (
	"path"
	"sort"
	"strings"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
)

// Snapshot is an immutable view of every file's revision at one instant.
type Snapshot struct {
	seq   uint64
	revs  map[string]*document.Revision
	uris  []string
	paths map[string]string
}

// Snapshot captures the current revision of every file. No edit is ever
// observed half-applied.
func (w *Workspace) Snapshot() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := &Snapshot{
		seq:   w.seq,
		revs:  make(map[string]*document.Revision, len(w.files)),
		uris:  make([]string, 0, len(w.files)),
		paths: make(map[string]string, len(w.files)),
	}
	for uri, f := range w.files {
		s.revs[uri] = f.rev
		s.uris = append(s.uris, uri)
		s.paths[document.PathOf(uri)] = uri
	}
	sort.Strings(s.uris)
	return s
}

// Seq orders snapshots: a later snapshot has a greater or equal Seq.
func (s *Snapshot) Seq() uint64 { return s.seq }

// Revision returns the revision of uri in the snapshot.
func (s *Snapshot) Revision(uri string) (*document.Revision, bool) {
	rev, ok := s.revs[uri]
	return rev, ok
}

// URIs returns every uri in the snapshot, sorted.
func (s *Snapshot) URIs() []string {
	return append([]string(nil), s.uris...)
}

// Len returns the number of files.
func (s *Snapshot) Len() int { return len(s.uris) }

// ResolveModule maps an import spec written in fromURI to a file in the
// snapshot. Candidates are tried in the language's order; a relative
// candidate matching several files resolves to the smallest uri.
func (s *Snapshot) ResolveModule(language, spec, fromURI string) (string, bool) {
	l, err := lang.Get(language)
	if err != nil {
		return "", false
	}
	for _, candidate := range l.Candidates(spec, document.PathOf(fromURI)) {
		if isAbs(candidate) {
			if uri, ok := s.paths[candidate]; ok {
				return uri, true
			}
			continue
		}
		suffix := "/" + strings.TrimPrefix(candidate, "/")
		for _, uri := range s.uris {
			p := document.PathOf(uri)
			if p == candidate || strings.HasSuffix(p, suffix) {
				// uris are sorted, so the first match is the smallest.
				return uri, true
			}
		}
	}
	return "", false
}

func isAbs(p string) bool {
	return path.IsAbs(p) || (len(p) > 1 && p[1] == ':')
}
