package ast

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
	"github.com/mvp-joe/cortex-lsp/internal/parsetree"
)

// Translate derives an Ast from a parse tree of the same revision.
//
// Statements that fail to parse become Error nodes; consecutive broken
// statements collapse into one Error node. Complete declarations found inside
// a syntax error region are kept.
func Translate(rev *document.Revision, tree *parsetree.Tree) (a *Ast, err error) {
	if tree.URI != rev.URI || tree.Version != rev.Version {
		return nil, fmt.Errorf("tree %s@%d does not match revision %s@%d", tree.URI, tree.Version, rev.URI, rev.Version)
	}
	l, err := lang.Get(rev.Language)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			a = nil
			err = fmt.Errorf("ast translation panic: %v", r)
		}
	}()

	b := &builder{lang: l, src: tree.Source}
	root := tree.Root()
	b.add(NoNode, Node{
		Kind:       KindModule,
		Span:       Span{Start: 0, End: len(tree.Source)},
		SyntaxKind: root.Kind(),
	})
	b.statements(0, root)

	return &Ast{
		uri:      rev.URI,
		version:  rev.Version,
		language: rev.Language,
		text:     rev.Text,
		lines:    rev.Lines(),
		nodes:    b.nodes,
		errors:   b.errors,
	}, nil
}

// Failed returns the Ast used when no tree could be built at all: a single
// Error node spanning the whole text.
func Failed(rev *document.Revision) *Ast {
	return &Ast{
		uri:      rev.URI,
		version:  rev.Version,
		language: rev.Language,
		text:     rev.Text,
		lines:    rev.Lines(),
		nodes: []Node{{
			ID:         0,
			Kind:       KindError,
			Span:       Span{Start: 0, End: len(rev.Text)},
			Parent:     NoNode,
			SyntaxKind: "ERROR",
		}},
		errors: []NodeID{0},
	}
}

type builder struct {
	lang     *lang.Language
	src      []byte
	nodes    []Node
	errors   []NodeID
	exported int
}

func (b *builder) add(parent NodeID, n Node) NodeID {
	id := NodeID(len(b.nodes))
	n.ID = id
	n.Parent = parent
	if b.exported > 0 && n.Kind.IsDeclaration() {
		n.Exported = true
	}
	b.nodes = append(b.nodes, n)
	if parent != NoNode {
		b.nodes[parent].Children = append(b.nodes[parent].Children, id)
	}
	if n.Kind == KindError {
		b.errors = append(b.errors, id)
	}
	return id
}

// errorRun accumulates adjacent broken statements.
type errorRun struct {
	open bool
	span Span
}

func (r *errorRun) extend(n *sitter.Node) {
	s := spanOf(n)
	if !r.open {
		r.open = true
		r.span = s
		return
	}
	if s.End > r.span.End {
		r.span.End = s.End
	}
}

func (b *builder) flush(parent NodeID, run *errorRun) {
	if !run.open {
		return
	}
	b.add(parent, Node{Kind: KindError, Span: run.span, SyntaxKind: "ERROR"})
	*run = errorRun{}
}

// statements translates the children of a statement list.
func (b *builder) statements(parent NodeID, list *sitter.Node) {
	var run errorRun
	for i := uint(0); i < list.ChildCount(); i++ {
		child := list.Child(i)
		switch {
		case child.IsExtra():
		case child.IsError():
			b.salvage(parent, child, &run)
		case child.IsMissing():
			run.extend(child)
		case !child.IsNamed():
		case child.HasError() && !b.shallowClean(child):
			run.extend(child)
		default:
			b.flush(parent, &run)
			b.visit(parent, child)
		}
	}
	b.flush(parent, &run)
}

// salvage keeps complete statements found inside an error node and folds
// everything else into the surrounding error run.
func (b *builder) salvage(parent NodeID, errNode *sitter.Node, run *errorRun) {
	if errNode.ChildCount() == 0 {
		run.extend(errNode)
		return
	}
	for i := uint(0); i < errNode.ChildCount(); i++ {
		child := errNode.Child(i)
		switch {
		case child.IsExtra():
		case child.IsError():
			b.salvage(parent, child, run)
		case child.IsNamed() && !child.HasError() && !child.IsMissing() && b.salvageable(child.Kind()):
			b.flush(parent, run)
			b.visit(parent, child)
		default:
			run.extend(child)
		}
	}
}

func (b *builder) salvageable(kind string) bool {
	if r, ok := b.lang.Rule(kind); ok {
		switch r.Role {
		case lang.RoleFunction, lang.RoleClass, lang.RoleImport:
			return true
		}
	}
	for _, suffix := range []string{"_statement", "_definition", "_declaration", "_item"} {
		if strings.HasSuffix(kind, suffix) {
			return true
		}
	}
	return false
}

// shallowClean reports whether every error under n sits inside a nested
// statement list, which reports its own errors.
func (b *builder) shallowClean(n *sitter.Node) bool {
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if b.lang.StatementLists[child.Kind()] && !child.IsError() {
			if child.IsMissing() {
				return false
			}
			continue
		}
		if child.IsError() || child.IsMissing() {
			return false
		}
		if child.HasError() && !b.shallowClean(child) {
			return false
		}
	}
	return true
}

func (b *builder) visit(parent NodeID, n *sitter.Node) {
	if n.IsError() || n.IsMissing() {
		b.add(parent, Node{Kind: KindError, Span: spanOf(n), SyntaxKind: "ERROR"})
		return
	}

	kind := n.Kind()
	rule, _ := b.lang.Rule(kind)
	switch rule.Role {
	case lang.RoleSkip:
		return
	case lang.RoleFunction:
		b.scoped(parent, n, rule, KindFunction)
		return
	case lang.RoleClass:
		b.scoped(parent, n, rule, KindClass)
		return
	case lang.RoleAssignment:
		b.assignment(parent, n, rule)
		return
	case lang.RoleParameter:
		b.parameter(parent, n, rule)
		return
	case lang.RoleImport:
		b.imports(parent, n)
		return
	case lang.RoleScope:
		block := b.add(parent, Node{Kind: KindBlock, Span: spanOf(n), SyntaxKind: kind})
		b.body(block, n, rule)
		return
	}

	if b.lang.IsIdentifier(kind) {
		b.add(parent, Node{
			Kind:       KindReference,
			Name:       b.text(n),
			Span:       spanOf(n),
			NameSpan:   spanOf(n),
			SyntaxKind: kind,
		})
		return
	}

	if b.lang.ExportMarkers[kind] {
		b.exported++
		defer func() { b.exported-- }()
	}
	b.body(parent, n, rule)
}

// body translates n's children into parent, as statements when n is a
// statement list.
func (b *builder) body(parent NodeID, n *sitter.Node, rule lang.Rule) {
	if b.lang.StatementLists[n.Kind()] {
		b.statements(parent, n)
		return
	}
	skip := b.fieldSpans(n, rule.Skip...)
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if !child.IsNamed() || skip.has(child) {
			continue
		}
		b.visit(parent, child)
	}
}

// scoped translates functions and classes: the name is declared in the
// enclosing scope, outer fields are walked there too, and everything else
// lands inside the new scope.
func (b *builder) scoped(parent NodeID, n *sitter.Node, rule lang.Rule, kind Kind) {
	nameNode := b.locate(n, rule.Name)
	exclude := b.fieldSpans(n, rule.Skip...)
	exclude.add(n.ChildByFieldName(rule.Name))
	exclude.add(n.ChildByFieldName(rule.Params))

	for _, field := range rule.Outer {
		if outer := n.ChildByFieldName(field); outer != nil {
			exclude.add(outer)
			b.visit(parent, outer)
		}
	}

	node := Node{Kind: kind, Span: spanOf(n), SyntaxKind: n.Kind()}
	if nameNode != nil {
		node.Name = b.text(nameNode)
		node.NameSpan = spanOf(nameNode)
	}
	scope := b.add(parent, node)

	// Only the declaration itself is exported, not what it contains.
	exported := b.exported
	b.exported = 0
	defer func() { b.exported = exported }()

	if params := b.locate(n, rule.Params); params != nil {
		b.parameters(scope, params)
	}

	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if !child.IsNamed() || exclude.has(child) {
			continue
		}
		b.visit(scope, child)
	}
}

func (b *builder) assignment(parent NodeID, n *sitter.Node, rule lang.Rule) {
	targets := n.ChildByFieldName(rule.Targets)
	skip := b.fieldSpans(n, rule.Skip...)
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if !child.IsNamed() || skip.has(child) {
			continue
		}
		if targets != nil && sameNode(child, targets) {
			b.declare(parent, child, KindVariable)
			continue
		}
		b.visit(parent, child)
	}
}

// declare binds every name in a target pattern.
func (b *builder) declare(parent NodeID, n *sitter.Node, kind Kind) {
	k := n.Kind()
	switch {
	case b.lang.IsIdentifier(k):
		b.add(parent, Node{
			Kind:       kind,
			Name:       b.text(n),
			Span:       spanOf(n),
			NameSpan:   spanOf(n),
			SyntaxKind: k,
		})
	case b.lang.Patterns[k]:
		rule, _ := b.lang.Rule(k)
		skip := b.fieldSpans(n, rule.Skip...)
		for i := uint(0); i < n.ChildCount(); i++ {
			child := n.Child(i)
			if child.IsNamed() && !skip.has(child) {
				b.declare(parent, child, kind)
			}
		}
	default:
		b.visit(parent, n)
	}
}

func (b *builder) parameters(scope NodeID, list *sitter.Node) {
	if b.lang.IsIdentifier(list.Kind()) {
		b.declare(scope, list, KindParameter)
		return
	}
	for i := uint(0); i < list.ChildCount(); i++ {
		child := list.Child(i)
		if !child.IsNamed() {
			continue
		}
		k := child.Kind()
		rule, _ := b.lang.Rule(k)
		switch {
		case b.lang.IsIdentifier(k):
			b.declare(scope, child, KindParameter)
		case rule.Role == lang.RoleParameter:
			b.parameter(scope, child, rule)
		case b.lang.Patterns[k]:
			b.declare(scope, child, KindParameter)
		default:
			b.visit(scope, child)
		}
	}
}

// parameter declares the name of one parameter node; annotations and
// defaults are walked as ordinary expressions.
func (b *builder) parameter(scope NodeID, n *sitter.Node, rule lang.Rule) {
	var target *sitter.Node
	if rule.Name != "" {
		target = n.ChildByFieldName(rule.Name)
	} else {
		target = n.NamedChild(0)
	}
	skip := b.fieldSpans(n, rule.Skip...)
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if !child.IsNamed() || skip.has(child) {
			continue
		}
		if target != nil && sameNode(child, target) {
			b.declare(scope, child, KindParameter)
			continue
		}
		b.visit(scope, child)
	}
}

func (b *builder) imports(parent NodeID, n *sitter.Node) {
	if b.lang.ExtractImports == nil {
		return
	}
	for _, imp := range b.lang.ExtractImports(n, b.src) {
		id := b.add(parent, Node{
			Kind:       KindImport,
			Name:       imp.Module,
			Alias:      imp.Alias,
			Span:       Span{Start: int(imp.Start), End: int(imp.End)},
			NameSpan:   Span{Start: int(imp.NameStart), End: int(imp.NameEnd)},
			SyntaxKind: n.Kind(),
			Wildcard:   imp.Wildcard,
			Namespace:  imp.Namespace,
		})
		for _, name := range imp.Names {
			span := Span{Start: int(name.NameStart), End: int(name.NameEnd)}
			b.add(id, Node{
				Kind:       KindImportName,
				Name:       name.Name,
				Alias:      name.Alias,
				Span:       span,
				NameSpan:   span,
				SyntaxKind: n.Kind(),
			})
		}
	}
}

// locate finds a field on n, following C-style declarator chains.
func (b *builder) locate(n *sitter.Node, field string) *sitter.Node {
	if field == "" {
		return nil
	}
	for cur := n; cur != nil; cur = cur.ChildByFieldName("declarator") {
		found := cur.ChildByFieldName(field)
		if found == nil {
			continue
		}
		if field != "declarator" {
			return found
		}
		// Unwrap nested declarators down to the identifier.
		for found != nil && !b.lang.IsIdentifier(found.Kind()) {
			found = found.ChildByFieldName("declarator")
		}
		return found
	}
	return nil
}

func (b *builder) text(n *sitter.Node) string {
	return string(b.src[n.StartByte():n.EndByte()])
}

func spanOf(n *sitter.Node) Span {
	return Span{Start: int(n.StartByte()), End: int(n.EndByte())}
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Kind() == b.Kind()
}

// nodeSet matches child nodes by byte range and kind.
type nodeSet []*sitter.Node

func (s *nodeSet) add(n *sitter.Node) {
	if n != nil {
		*s = append(*s, n)
	}
}

func (s nodeSet) has(n *sitter.Node) bool {
	for _, m := range s {
		if sameNode(m, n) {
			return true
		}
	}
	return false
}

func (b *builder) fieldSpans(n *sitter.Node, fields ...string) nodeSet {
	var set nodeSet
	for _, f := range fields {
		set.add(n.ChildByFieldName(f))
	}
	return set
}
