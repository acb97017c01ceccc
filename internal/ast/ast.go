// Package ast builds language-agnostic abstract syntax trees from tree-sitter
// parse trees and caches them per file version.
//
// An Ast is a flat arena: nodes refer to each other by NodeID, never by
// pointer, and an Ast is never mutated after it is built.
package ast

import (
	"fmt"

	"github.com/mvp-joe/cortex-lsp/internal/document"
)

// NodeID indexes a node in its Ast. The root is always 0.
type NodeID int32

// NoNode is the parent of the root and the result of failed lookups.
const NoNode NodeID = -1

// Kind classifies Ast nodes.
type Kind uint8

const (
	KindModule Kind = iota
	KindFunction
	KindClass
	KindBlock
	KindVariable
	KindParameter
	KindImport
	KindImportName
	KindReference
	KindError
)

var kindNames = [...]string{
	KindModule:     "Module",
	KindFunction:   "Function",
	KindClass:      "Class",
	KindBlock:      "Block",
	KindVariable:   "Variable",
	KindParameter:  "Parameter",
	KindImport:     "Import",
	KindImportName: "ImportName",
	KindReference:  "Reference",
	KindError:      "Error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// IsScope reports whether nodes of this kind open a scope.
func (k Kind) IsScope() bool {
	return k == KindModule || k == KindFunction || k == KindClass || k == KindBlock
}

// IsDeclaration reports whether nodes of this kind bind a name.
func (k Kind) IsDeclaration() bool {
	switch k {
	case KindFunction, KindClass, KindVariable, KindParameter, KindImportName:
		return true
	}
	return false
}

// Span is a half-open byte range.
type Span struct {
	Start int
	End   int
}

// Contains reports whether offset lies in s, counting the end offset.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset <= s.End
}

// Len returns the span width in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Node is one arena entry. Nodes are values; treat Children as read-only.
//
// Name holds the declared or referenced name. For Import nodes it holds the
// module spec, and Alias holds the namespace binding. For ImportName nodes
// Name is the imported name and Alias the local rename.
type Node struct {
	ID       NodeID
	Kind     Kind
	Name     string
	Alias    string
	Span     Span
	NameSpan Span
	Parent   NodeID
	Children []NodeID

	// SyntaxKind is the tree-sitter node kind the node came from.
	SyntaxKind string
	// Exported marks declarations wrapped in an export marker.
	Exported bool
	// Wildcard and Namespace describe Import nodes.
	Wildcard  bool
	Namespace bool
}

// Binding returns the local name an ImportName or namespace Import binds.
func (n Node) Binding() string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Name
}

// Ast is an immutable tree for one (uri, version).
type Ast struct {
	uri      string
	version  int
	language string
	text     string
	lines    *document.Lines
	nodes    []Node
	errors   []NodeID
}

// URI returns the file the Ast was built from.
func (a *Ast) URI() string { return a.uri }

// Version returns the file version the Ast was built from.
func (a *Ast) Version() int { return a.version }

// Language returns the language name.
func (a *Ast) Language() string { return a.language }

// Text returns the source text.
func (a *Ast) Text() string { return a.text }

// Lines returns the line index of the source text.
func (a *Ast) Lines() *document.Lines { return a.lines }

// Root returns the module node id.
func (a *Ast) Root() NodeID { return 0 }

// Len returns the number of nodes.
func (a *Ast) Len() int { return len(a.nodes) }

// Node returns the node with the given id.
func (a *Ast) Node(id NodeID) Node {
	return a.nodes[id]
}

// Valid reports whether id names a node of this Ast.
func (a *Ast) Valid(id NodeID) bool {
	return id >= 0 && int(id) < len(a.nodes)
}

// Children returns a copy of the child ids of id.
func (a *Ast) Children(id NodeID) []NodeID {
	return append([]NodeID(nil), a.nodes[id].Children...)
}

// Errors returns the ids of every Error node in document order.
func (a *Ast) Errors() []NodeID {
	return append([]NodeID(nil), a.errors...)
}

// Degraded reports whether any region failed to parse.
func (a *Ast) Degraded() bool {
	return len(a.errors) > 0
}

// Range converts a span to an editor range.
func (a *Ast) Range(s Span) document.Range {
	return a.lines.RangeOf(s.Start, s.End)
}

// Offset converts an editor position to a byte offset.
func (a *Ast) Offset(p document.Position) int {
	return a.lines.Offset(p)
}

// Walk visits nodes depth-first in document order. Returning false from fn
// skips the node's children.
func (a *Ast) Walk(fn func(Node) bool) {
	var visit func(id NodeID)
	visit = func(id NodeID) {
		n := a.nodes[id]
		if !fn(n) {
			return
		}
		for _, child := range n.Children {
			visit(child)
		}
	}
	if len(a.nodes) > 0 {
		visit(0)
	}
}

// Find returns the ids of nodes with the given kind and name.
func (a *Ast) Find(kind Kind, name string) []NodeID {
	var ids []NodeID
	for _, n := range a.nodes {
		if n.Kind == kind && n.Name == name {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// NodeAt returns the innermost node whose span contains offset.
func (a *Ast) NodeAt(offset int) NodeID {
	if len(a.nodes) == 0 {
		return NoNode
	}
	current := NodeID(0)
	for {
		next := NoNode
		for _, child := range a.nodes[current].Children {
			span := a.nodes[child].Span
			if !span.Contains(offset) {
				continue
			}
			if next == NoNode || span.Len() <= a.nodes[next].Span.Len() {
				next = child
			}
		}
		if next == NoNode {
			return current
		}
		current = next
	}
}

// Scope returns the nearest scope node enclosing id, excluding id itself.
func (a *Ast) Scope(id NodeID) NodeID {
	for p := a.nodes[id].Parent; p != NoNode; p = a.nodes[p].Parent {
		if a.nodes[p].Kind.IsScope() {
			return p
		}
	}
	return NoNode
}

// ScopeAt returns the innermost scope node containing offset.
func (a *Ast) ScopeAt(offset int) NodeID {
	id := a.NodeAt(offset)
	if id == NoNode {
		return NoNode
	}
	n := a.nodes[id]
	if n.Kind.IsScope() && (n.NameSpan.Len() == 0 || !n.NameSpan.Contains(offset)) {
		return id
	}
	return a.Scope(id)
}
