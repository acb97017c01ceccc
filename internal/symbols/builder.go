package symbols

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
)

// collect walks a file's Ast and records scopes, declarations, imports and
// unresolved references.
func collect(t *Table, a *ast.Ast) {
	t.scopeOf = make(map[ast.NodeID]ScopeID)
	if a.Len() == 0 {
		return
	}

	root := a.Node(a.Root())
	t.scopes = append(t.scopes, Scope{ID: 0, Node: root.ID, Kind: ast.KindModule, Parent: NoScope, Span: root.Span})
	t.scopeOf[root.ID] = 0

	var visit func(id ast.NodeID, scope ScopeID)
	visit = func(id ast.NodeID, scope ScopeID) {
		n := a.Node(id)
		switch n.Kind {
		case ast.KindFunction, ast.KindClass:
			if n.Name != "" {
				t.declare(n, scope, -1)
			}
			inner := t.openScope(n, scope)
			for _, child := range n.Children {
				visit(child, inner)
			}
			return

		case ast.KindBlock:
			inner := t.openScope(n, scope)
			for _, child := range n.Children {
				visit(child, inner)
			}
			return

		case ast.KindVariable, ast.KindParameter:
			t.declare(n, scope, -1)

		case ast.KindImport:
			idx := len(t.imports)
			t.imports = append(t.imports, Import{
				Node:      n.ID,
				Spec:      n.Name,
				Span:      n.Span,
				NameSpan:  n.NameSpan,
				Wildcard:  n.Wildcard,
				Namespace: n.Namespace,
				Version:   -1,
			})
			if n.Namespace {
				t.declare(n, scope, idx)
			}
			for _, child := range n.Children {
				if c := a.Node(child); c.Kind == ast.KindImportName {
					t.declare(c, scope, idx)
				}
			}
			return

		case ast.KindReference:
			t.refs = append(t.refs, Reference{
				Node:   n.ID,
				Name:   n.Name,
				Span:   n.Span,
				Scope:  scope,
				Status: Unresolved,
				Reason: ReasonNotFound,
				Decl:   NoDecl,
			})
		}
		for _, child := range n.Children {
			visit(child, scope)
		}
	}
	for _, child := range root.Children {
		visit(child, 0)
	}

	sort.SliceStable(t.refs, func(i, j int) bool { return t.refs[i].Span.Start < t.refs[j].Span.Start })
}

func (t *Table) openScope(n ast.Node, parent ScopeID) ScopeID {
	id := ScopeID(len(t.scopes))
	t.scopes = append(t.scopes, Scope{ID: id, Node: n.ID, Kind: n.Kind, Parent: parent, Span: n.Span})
	t.scopeOf[n.ID] = id
	return id
}

func (t *Table) declare(n ast.Node, scope ScopeID, importIdx int) DeclID {
	id := DeclID(len(t.decls))
	name := n.Name
	if n.Kind == ast.KindImport || n.Kind == ast.KindImportName {
		name = n.Binding()
	}
	d := Decl{
		ID:       id,
		Name:     name,
		Kind:     n.Kind,
		Node:     n.ID,
		Scope:    scope,
		Span:     n.Span,
		NameSpan: n.NameSpan,
		Exported: n.Exported,
		Import:   importIdx,
		Status:   Resolved,
	}
	if importIdx >= 0 {
		d.Status = Unresolved
		d.Reason = ReasonModuleNotFound
	} else {
		d.Target = t.localTarget(d)
	}
	t.decls = append(t.decls, d)
	t.scopes[scope].Decls = append(t.scopes[scope].Decls, id)
	return id
}

func (t *Table) localTarget(d Decl) Target {
	return Target{
		URI:     t.uri,
		Version: t.version,
		Name:    d.Name,
		Kind:    d.Kind,
		Node:    d.Node,
		Span:    d.NameSpan,
	}
}

// lookup finds name in one scope: the last declaration before offset, or
// the first declaration when all of them come later.
func (t *Table) lookup(scope ScopeID, name string, offset int) (DeclID, bool) {
	found := NoDecl
	for _, id := range t.scopes[scope].Decls {
		d := t.decls[id]
		if d.Name != name {
			continue
		}
		if found == NoDecl || d.NameSpan.Start <= offset {
			found = id
		}
		if d.NameSpan.Start > offset {
			break
		}
	}
	return found, found != NoDecl
}

// resolveLocal walks the scope chain outward. Class scopes are skipped once
// a function scope has been crossed when the language says so.
func (t *Table) resolveLocal(l *lang.Language, scope ScopeID, name string, offset int) (DeclID, bool) {
	passedFunction := false
	for s := scope; s != NoScope; s = t.scopes[s].Parent {
		kind := t.scopes[s].Kind
		if !(l.OpaqueClassScope && passedFunction && kind == ast.KindClass) {
			if id, ok := t.lookup(s, name, offset); ok {
				return id, true
			}
		}
		if kind == ast.KindFunction {
			passedFunction = true
		}
	}
	return NoDecl, false
}

// resolveReferences binds every reference: scope chain first, then wildcard
// imports, then builtins.
func (t *Table) resolveReferences(l *lang.Language, wildcards []wildcardScope) {
	for i := range t.refs {
		ref := &t.refs[i]
		if id, ok := t.resolveLocal(l, ref.Scope, ref.Name, ref.Span.Start); ok {
			d := t.decls[id]
			ref.Decl = id
			ref.Status = d.Status
			ref.Target = d.Target
			ref.Reason = d.Reason
			continue
		}

		if e, ok := lookupWildcards(wildcards, ref.Name); ok {
			ref.Status, ref.Target, ref.Reason = e.status(), e.target, e.reason
			continue
		}

		if l.IsBuiltin(ref.Name) {
			ref.Status = Resolved
			ref.Target = Target{Name: ref.Name, Builtin: true, Node: ast.NoNode}
			ref.Reason = ReasonNone
			continue
		}

		ref.Status = Unresolved
		ref.Reason = ReasonNotFound
	}
}

// diagnose records semantic diagnostics. Undefined names are only reported
// for languages whose rule tables model every binding form.
func (t *Table) diagnose(l *lang.Language) {
	for _, imp := range t.imports {
		switch {
		case imp.Reason == ReasonModuleNotFound && isRelative(imp.Spec):
			t.diagnostics = append(t.diagnostics, Diagnostic{
				Span:     imp.NameSpan,
				Severity: SeverityWarning,
				Code:     CodeModuleNotFound,
				Message:  fmt.Sprintf("cannot resolve module %q", imp.Spec),
			})
		case len(imp.Cycle) > 0:
			t.diagnostics = append(t.diagnostics, Diagnostic{
				Span:     imp.NameSpan,
				Severity: SeverityInformation,
				Code:     CodeCycle,
				Message:  "import cycle: " + strings.Join(imp.Cycle, " -> "),
			})
		}
	}

	for _, d := range t.decls {
		if d.IsImport() && d.Reason == ReasonNotExported {
			t.diagnostics = append(t.diagnostics, Diagnostic{
				Span:     d.NameSpan,
				Severity: SeverityWarning,
				Code:     CodeNotExported,
				Message:  fmt.Sprintf("module %q has no export %q", t.imports[d.Import].Spec, importedName(t, d)),
			})
		}
	}

	if l.ReportUnresolved {
		for _, ref := range t.refs {
			if ref.Status == Unresolved && ref.Reason == ReasonNotFound {
				t.diagnostics = append(t.diagnostics, Diagnostic{
					Span:     ref.Span,
					Severity: SeverityWarning,
					Code:     CodeUndefined,
					Message:  fmt.Sprintf("undefined name %q", ref.Name),
				})
			}
		}
	}

	sort.SliceStable(t.diagnostics, func(i, j int) bool {
		return t.diagnostics[i].Span.Start < t.diagnostics[j].Span.Start
	})
}

func importedName(t *Table, d Decl) string {
	n := t.tree.Node(d.Node)
	return n.Name
}

func isRelative(spec string) bool {
	return strings.HasPrefix(spec, ".")
}
