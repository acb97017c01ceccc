package symbols

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
	"github.com/mvp-joe/cortex-lsp/internal/workspace"
)

// AstSource provides the Ast of a revision.
type AstSource interface {
	Get(ctx context.Context, rev *document.Revision) (*ast.Ast, error)
}

// export is one name a module makes importable.
type export struct {
	target Target
	reason Reason
}

func (e export) status() Status {
	if e.reason == ReasonNone {
		return Resolved
	}
	return Unresolved
}

// binding is a module-scope import binding of a summarized file.
type binding struct {
	name      string
	imported  string
	spec      string
	namespace bool
	wildcard  bool
}

// summary is what other files need from a module: its top-level local
// declarations and its module-scope imports.
type summary struct {
	uri      string
	version  int
	lang     *lang.Language
	locals   map[string]Target
	bindings []binding
}

// resolver computes module exports against one snapshot. It is used by a
// single build and is not safe for concurrent use.
type resolver struct {
	snap      *workspace.Snapshot
	asts      AstSource
	summaries map[string]*summary
	memo      map[string]map[string]export
	stack     []string
	// cycles counts stack hits; export sets computed while it grew are
	// partial and not memoized.
	cycles int
	// lastCycle is the stack at the most recent hit, ending with the
	// re-entered file.
	lastCycle []string
}

func newResolver(snap *workspace.Snapshot, asts AstSource) *resolver {
	return &resolver{
		snap:      snap,
		asts:      asts,
		summaries: make(map[string]*summary),
		memo:      make(map[string]map[string]export),
	}
}

// summarize returns the summary of uri at its snapshot revision.
func (r *resolver) summarize(ctx context.Context, uri string) (*summary, error) {
	if s, ok := r.summaries[uri]; ok {
		return s, nil
	}
	rev, ok := r.snap.Revision(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workspace.ErrUnknownFile, uri)
	}
	l := languageOf(rev.Language)
	a, err := r.asts.Get(ctx, rev)
	if err != nil {
		return nil, err
	}

	s := &summary{
		uri:     uri,
		version: rev.Version,
		lang:    l,
		locals:  make(map[string]Target),
	}
	for _, id := range a.Children(a.Root()) {
		n := a.Node(id)
		switch n.Kind {
		case ast.KindFunction, ast.KindClass, ast.KindVariable:
			if n.Name == "" || (l.Exports == lang.ExportMarked && !n.Exported) {
				continue
			}
			// Later bindings win.
			s.locals[n.Name] = Target{URI: uri, Version: rev.Version, Name: n.Name, Kind: n.Kind, Node: n.ID, Span: n.NameSpan}
		case ast.KindImport:
			if l.Exports == lang.ExportMarked {
				continue
			}
			switch {
			case n.Wildcard:
				s.bindings = append(s.bindings, binding{spec: n.Name, wildcard: true})
			case n.Namespace:
				s.bindings = append(s.bindings, binding{name: n.Binding(), spec: n.Name, namespace: true})
			}
			for _, c := range n.Children {
				child := a.Node(c)
				s.bindings = append(s.bindings, binding{name: child.Binding(), imported: child.Name, spec: n.Name})
			}
		}
	}
	if l.Exports == lang.ExportNone {
		s.locals = map[string]Target{}
		s.bindings = nil
	}
	r.summaries[uri] = s
	return s, nil
}

// resolve maps an import spec written in fromURI to a snapshot file.
func (r *resolver) resolve(language, spec, fromURI string) (string, bool) {
	return r.snap.ResolveModule(language, spec, fromURI)
}

func (r *resolver) onStack(uri string) int {
	for i, s := range r.stack {
		if s == uri {
			return i
		}
	}
	return -1
}

// exports returns the names uri makes importable. A file already on the
// resolution stack contributes its local declarations only; names it would
// import are reported with ReasonCycle.
func (r *resolver) exports(ctx context.Context, uri string) (map[string]export, error) {
	if m, ok := r.memo[uri]; ok {
		return m, nil
	}
	s, err := r.summarize(ctx, uri)
	if err != nil {
		return nil, err
	}

	out := make(map[string]export, len(s.locals)+len(s.bindings))
	for name, tgt := range s.locals {
		out[name] = export{target: tgt}
	}

	if i := r.onStack(uri); i >= 0 {
		r.cycles++
		r.lastCycle = append(append([]string(nil), r.stack[i:]...), uri)
		for _, b := range s.bindings {
			if b.wildcard {
				continue
			}
			if _, local := out[b.name]; !local {
				out[b.name] = export{target: Target{Name: b.name, Node: ast.NoNode}, reason: ReasonCycle}
			}
		}
		return out, nil
	}

	r.stack = append(r.stack, uri)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()
	before := r.cycles

	for _, b := range s.bindings {
		if b.wildcard {
			continue
		}
		if _, local := out[b.name]; local {
			continue
		}
		e, err := r.importBinding(ctx, s, b)
		if err != nil {
			return nil, err
		}
		out[b.name] = e
	}
	for _, b := range s.bindings {
		if !b.wildcard {
			continue
		}
		target, ok := r.resolve(s.lang.Name, b.spec, uri)
		if !ok {
			continue
		}
		sub, err := r.exports(ctx, target)
		if err != nil {
			return nil, err
		}
		for _, name := range sortedNames(sub) {
			if _, exists := out[name]; !exists && s.lang.Visible(name) {
				out[name] = sub[name]
			}
		}
	}

	if r.cycles == before {
		r.memo[uri] = out
	}
	return out, nil
}

// importBinding resolves one named or namespace import of a summarized file.
func (r *resolver) importBinding(ctx context.Context, s *summary, b binding) (export, error) {
	target, ok := r.resolve(s.lang.Name, b.spec, s.uri)
	if !ok {
		return export{target: Target{Name: b.name, Node: ast.NoNode}, reason: ReasonModuleNotFound}, nil
	}
	if b.namespace {
		return export{target: r.moduleTarget(target)}, nil
	}
	sub, err := r.exports(ctx, target)
	if err != nil {
		return export{}, err
	}
	if e, ok := sub[b.imported]; ok {
		return e, nil
	}
	return export{target: Target{Name: b.imported, Node: ast.NoNode}, reason: ReasonNotExported}, nil
}

func (r *resolver) moduleTarget(uri string) Target {
	version := -1
	if rev, ok := r.snap.Revision(uri); ok {
		version = rev.Version
	}
	return Target{URI: uri, Version: version, Kind: ast.KindModule, Node: 0}
}

// wildcardScope is one resolved wildcard import of the file being built.
type wildcardScope struct {
	exports map[string]export
}

func lookupWildcards(ws []wildcardScope, name string) (export, bool) {
	for _, w := range ws {
		if e, ok := w.exports[name]; ok {
			return e, true
		}
	}
	return export{}, false
}

// resolveImports binds every import of t. The file itself is on the stack
// so cycles back into it are cut.
func (r *resolver) resolveImports(ctx context.Context, t *Table, l *lang.Language) ([]wildcardScope, error) {
	r.stack = append(r.stack, t.uri)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	deps := map[string]bool{}
	missing := map[string]bool{}
	var wildcards []wildcardScope

	for i := range t.imports {
		imp := &t.imports[i]
		target, ok := r.resolve(l.Name, imp.Spec, t.uri)
		if !ok {
			imp.Reason = ReasonModuleNotFound
			missing[imp.Spec] = true
			continue
		}
		imp.URI = target
		imp.Reason = ReasonNone
		if rev, ok := r.snap.Revision(target); ok {
			imp.Version = rev.Version
		}
		deps[target] = true

		before := r.cycles
		var sub map[string]export
		if !imp.Namespace || imp.Wildcard {
			var err error
			sub, err = r.exports(ctx, target)
			if err != nil {
				return nil, err
			}
		} else if r.onStack(target) >= 0 {
			r.cycles++
			r.lastCycle = []string{t.uri, target}
		}
		if r.cycles != before {
			imp.Cycle = r.lastCycle
		}

		if imp.Wildcard {
			visible := make(map[string]export, len(sub))
			for name, e := range sub {
				if l.Visible(name) {
					visible[name] = e
				}
			}
			wildcards = append(wildcards, wildcardScope{exports: visible})
		}

		for j := range t.decls {
			d := &t.decls[j]
			if d.Import != i {
				continue
			}
			var e export
			if imp.Namespace && t.tree.Node(d.Node).Kind == ast.KindImport {
				e = export{target: r.moduleTarget(target)}
			} else if found, ok := sub[importedName(t, *d)]; ok {
				e = found
			} else {
				e = export{target: Target{Name: importedName(t, *d), Node: ast.NoNode}, reason: ReasonNotExported}
			}
			d.Status, d.Target, d.Reason = e.status(), e.target, e.reason
		}
	}

	// Import bindings whose module was not found keep ReasonModuleNotFound.
	t.deps = sortedKeys(deps)
	t.missing = sortedKeys(missing)
	return wildcards, nil
}

// dependencyKey walks the import closure of uri in the snapshot and returns
// a key naming every file version and unresolved spec the table depends on,
// along with the uris of the closure.
func (r *resolver) dependencyKey(ctx context.Context, uri string) (string, []string, error) {
	s, err := r.summarize(ctx, uri)
	if err != nil {
		return "", nil, err
	}

	entries := map[string]bool{}
	seen := map[string]bool{uri: true}
	queue := []string{uri}
	rootSpecs, err := r.allImportSpecs(ctx, uri)
	if err != nil {
		return "", nil, err
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var specs []string
		if cur == uri {
			specs = rootSpecs
		} else {
			cs, err := r.summarize(ctx, cur)
			if err != nil {
				return "", nil, err
			}
			for _, b := range cs.bindings {
				specs = append(specs, b.spec)
			}
		}
		language := s.lang.Name
		if cs, ok := r.summaries[cur]; ok {
			language = cs.lang.Name
		}
		for _, spec := range specs {
			target, ok := r.resolve(language, spec, cur)
			if !ok {
				entries["?"+cur+"#"+spec] = true
				continue
			}
			rev, _ := r.snap.Revision(target)
			entries[fmt.Sprintf("%s@%d", target, rev.Version)] = true
			if !seen[target] {
				seen[target] = true
				queue = append(queue, target)
			}
		}
	}

	delete(seen, uri)
	key := fmt.Sprintf("%s@%d|%s", uri, s.version, strings.Join(sortedKeys(entries), ","))
	return key, sortedKeys(seen), nil
}

// allImportSpecs lists the specs of every import in uri, at any depth.
func (r *resolver) allImportSpecs(ctx context.Context, uri string) ([]string, error) {
	rev, ok := r.snap.Revision(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workspace.ErrUnknownFile, uri)
	}
	a, err := r.asts.Get(ctx, rev)
	if err != nil {
		return nil, err
	}
	var specs []string
	a.Walk(func(n ast.Node) bool {
		if n.Kind == ast.KindImport {
			specs = append(specs, n.Name)
			return false
		}
		return true
	})
	return specs, nil
}

// languageOf returns the descriptor of name, or an empty descriptor with no
// rules when name is not registered.
func languageOf(name string) *lang.Language {
	if l, err := lang.Get(name); err == nil {
		return l
	}
	return &lang.Language{Name: name}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedNames(m map[string]export) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
