// Package symbols builds per-file symbol tables: scoped declarations, every
// reference resolved or unresolved with a reason, and imports resolved
// against other files of one workspace snapshot.
package symbols

import (
	"fmt"
	"sort"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
)

// DeclID indexes a declaration in its Table.
type DeclID int32

// ScopeID indexes a scope in its Table. The module scope is 0.
type ScopeID int32

// NoScope is the parent of the module scope.
const NoScope ScopeID = -1

// NoDecl marks the absence of a declaration.
const NoDecl DeclID = -1

// Status is the resolution state of a reference or import binding.
type Status int

const (
	Unresolved Status = iota
	Resolved
)

// String returns the status name.
func (s Status) String() string {
	if s == Resolved {
		return "resolved"
	}
	return "unresolved"
}

// Reason explains why a name is unresolved.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonNotFound means no scope, import or builtin declares the name.
	ReasonNotFound
	// ReasonModuleNotFound means the import's module matched no file.
	ReasonModuleNotFound
	// ReasonNotExported means the module exists but exports no such name.
	ReasonNotExported
	// ReasonCycle means the name would only be known by re-entering a file
	// already being resolved.
	ReasonCycle
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNotFound:
		return "not_found"
	case ReasonModuleNotFound:
		return "module_not_found"
	case ReasonNotExported:
		return "not_exported"
	case ReasonCycle:
		return "cycle"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Target is where a resolved name is declared. Targets never point at Ast
// nodes of another version of the same file.
type Target struct {
	URI     string
	Version int
	Name    string
	Kind    ast.Kind
	// Node is the declaring node in the target file's Ast.
	Node ast.NodeID
	// Span is the declared name's span in the target file.
	Span ast.Span
	// Builtin targets are predefined by the language and have no location.
	Builtin bool
}

// Decl is a declaration in this file.
type Decl struct {
	ID       DeclID
	Name     string
	Kind     ast.Kind
	Node     ast.NodeID
	Scope    ScopeID
	Span     ast.Span
	NameSpan ast.Span
	Exported bool
	// Import is the index into Imports for import bindings, or -1.
	Import int
	// Status, Target and Reason describe where an import binding leads.
	Status Status
	Target Target
	Reason Reason
}

// IsImport reports whether d is bound by an import.
func (d Decl) IsImport() bool { return d.Import >= 0 }

// Scope is a lexical scope.
type Scope struct {
	ID     ScopeID
	Node   ast.NodeID
	Kind   ast.Kind
	Parent ScopeID
	Span   ast.Span
	Decls  []DeclID
}

// Reference is one use of a name. Every reference is either Resolved with
// a Target or Unresolved with a Reason.
type Reference struct {
	Node   ast.NodeID
	Name   string
	Span   ast.Span
	Scope  ScopeID
	Status Status
	Target Target
	Reason Reason
	// Decl is the local declaration the name bound to, or NoDecl.
	Decl DeclID
}

// Import is one import statement's resolution.
type Import struct {
	Node      ast.NodeID
	Spec      string
	Span      ast.Span
	NameSpan  ast.Span
	Wildcard  bool
	Namespace bool
	// URI and Version identify the resolved module, when Reason is none.
	URI     string
	Version int
	Reason  Reason
	// Cycle lists the files of an import cycle this import closes.
	Cycle []string
}

// Severity ranks diagnostics the way editors do.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

// Diagnostic codes.
const (
	CodeUndefined      = "undefined-name"
	CodeModuleNotFound = "module-not-found"
	CodeNotExported    = "not-exported"
	CodeCycle          = "import-cycle"
)

// Diagnostic is a semantic problem found while building the table.
type Diagnostic struct {
	Span     ast.Span
	Severity Severity
	Code     string
	Message  string
}

// Table is the immutable symbol table of one (uri, version).
type Table struct {
	uri      string
	version  int
	language string
	key      string
	tree     *ast.Ast

	scopes      []Scope
	decls       []Decl
	refs        []Reference
	imports     []Import
	diagnostics []Diagnostic
	deps        []string
	missing     []string
	scopeOf     map[ast.NodeID]ScopeID
}

func (t *Table) URI() string      { return t.uri }
func (t *Table) Version() int     { return t.version }
func (t *Table) Language() string { return t.language }

// Key is the cache key the table was built under.
func (t *Table) Key() string { return t.key }

// Ast returns the Ast the table was built from, of the same version.
func (t *Table) Ast() *ast.Ast { return t.tree }

// Scope returns a scope by id.
func (t *Table) Scope(id ScopeID) Scope { return t.scopes[id] }

// Decl returns a declaration by id.
func (t *Table) Decl(id DeclID) Decl { return t.decls[id] }

// Scopes returns every scope, module scope first.
func (t *Table) Scopes() []Scope { return append([]Scope(nil), t.scopes...) }

// Decls returns every declaration in document order.
func (t *Table) Decls() []Decl { return append([]Decl(nil), t.decls...) }

// References returns every reference in document order.
func (t *Table) References() []Reference { return append([]Reference(nil), t.refs...) }

// Imports returns every import in document order.
func (t *Table) Imports() []Import { return append([]Import(nil), t.imports...) }

// Diagnostics returns semantic diagnostics sorted by position.
func (t *Table) Diagnostics() []Diagnostic { return append([]Diagnostic(nil), t.diagnostics...) }

// Dependencies returns the uris this file's imports resolved to, sorted.
func (t *Table) Dependencies() []string { return append([]string(nil), t.deps...) }

// Missing returns the import specs that resolved to no file, sorted.
func (t *Table) Missing() []string { return append([]string(nil), t.missing...) }

// TopLevel returns the declarations of the module scope.
func (t *Table) TopLevel() []Decl {
	if len(t.scopes) == 0 {
		return nil
	}
	out := make([]Decl, 0, len(t.scopes[0].Decls))
	for _, id := range t.scopes[0].Decls {
		out = append(out, t.decls[id])
	}
	return out
}

// ReferenceAt returns the reference whose span contains offset.
func (t *Table) ReferenceAt(offset int) (Reference, bool) {
	i := sort.Search(len(t.refs), func(i int) bool { return t.refs[i].Span.End >= offset })
	for ; i < len(t.refs) && t.refs[i].Span.Start <= offset; i++ {
		if t.refs[i].Span.Contains(offset) {
			return t.refs[i], true
		}
	}
	return Reference{}, false
}

// DeclAt returns the declaration whose name span contains offset.
func (t *Table) DeclAt(offset int) (Decl, bool) {
	for _, d := range t.decls {
		if d.NameSpan.Len() > 0 && d.NameSpan.Contains(offset) {
			return d, true
		}
	}
	return Decl{}, false
}

// TargetAt returns what the name at offset denotes: a resolved reference's
// target, a resolved import binding's target or a local declaration.
func (t *Table) TargetAt(offset int) (Target, bool) {
	if ref, ok := t.ReferenceAt(offset); ok {
		return ref.Target, ref.Status == Resolved
	}
	d, ok := t.DeclAt(offset)
	switch {
	case !ok:
		return Target{}, false
	case d.IsImport():
		return d.Target, d.Status == Resolved
	default:
		return t.localTarget(d), true
	}
}

// ScopeAt returns the innermost scope containing offset.
func (t *Table) ScopeAt(offset int) ScopeID {
	if len(t.scopes) == 0 {
		return NoScope
	}
	node := t.tree.ScopeAt(offset)
	for node != ast.NoNode {
		if id, ok := t.scopeOf[node]; ok {
			return id
		}
		node = t.tree.Scope(node)
	}
	return 0
}

// Visible returns the declarations visible at offset, innermost first. A
// shadowed name appears once, as its innermost declaration.
func (t *Table) Visible(offset int, opaqueClasses bool) []Decl {
	var out []Decl
	seen := map[string]bool{}
	passedFunction := false
	for s := t.ScopeAt(offset); s != NoScope; s = t.scopes[s].Parent {
		scope := t.scopes[s]
		if !(opaqueClasses && passedFunction && scope.Kind == ast.KindClass) {
			for _, id := range scope.Decls {
				d := t.decls[id]
				if d.Name == "" || seen[d.Name] {
					continue
				}
				seen[d.Name] = true
				out = append(out, d)
			}
		}
		if scope.Kind == ast.KindFunction {
			passedFunction = true
		}
	}
	return out
}

// Occurrences returns the declaration spans and reference spans in this
// file that denote the same target as tgt, in document order.
func (t *Table) Occurrences(tgt Target) []ast.Span {
	var spans []ast.Span
	if tgt.URI == t.uri && !tgt.Builtin {
		spans = append(spans, tgt.Span)
	}
	for _, d := range t.decls {
		if d.IsImport() && d.Status == Resolved && d.Target == tgt {
			spans = append(spans, d.NameSpan)
		}
	}
	for _, r := range t.refs {
		if r.Status == Resolved && r.Target == tgt {
			spans = append(spans, r.Span)
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}
