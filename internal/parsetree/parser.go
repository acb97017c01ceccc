// Package parsetree wraps tree-sitter: it parses revisions from scratch or
// incrementally and retains recent trees so later edits can reuse them.
package parsetree

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
)

var (
	// ErrParseFailed indicates tree-sitter produced no tree at all.
	ErrParseFailed = errors.New("parser produced no tree")
)

// Tree is an immutable syntax tree for one (uri, version).
type Tree struct {
	URI      string
	Version  int
	Language string
	Source   []byte

	tree *sitter.Tree
}

// Root returns the root syntax node.
func (t *Tree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Close releases the underlying tree-sitter memory.
func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}

// clone returns an independent copy that the caller must Close.
func (t *Tree) clone() *Tree {
	return &Tree{
		URI:      t.URI,
		Version:  t.Version,
		Language: t.Language,
		Source:   t.Source,
		tree:     t.tree.Clone(),
	}
}

// Parser produces Trees. A tree-sitter parser is created per call since
// tree-sitter parsers are not safe for concurrent use.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses rev. When prev is the tree of rev's base version the parse
// is incremental: rev's changes are applied to a copy of prev first.
func (p *Parser) Parse(ctx context.Context, rev *document.Revision, prev *Tree) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l, err := lang.Get(rev.Language)
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(lang.Grammar(l)); err != nil {
		return nil, fmt.Errorf("failed to set %s grammar: %w", l.Name, err)
	}

	var old *sitter.Tree
	if prev != nil && rev.Incremental() && prev.Version == rev.Base && prev.Language == rev.Language {
		old = prev.tree.Clone()
		defer old.Close()
		for _, c := range rev.Changes {
			old.Edit(&sitter.InputEdit{
				StartByte:      c.StartByte,
				OldEndByte:     c.OldEndByte,
				NewEndByte:     c.NewEndByte,
				StartPosition:  sitter.Point{Row: c.StartPoint.Row, Column: c.StartPoint.Column},
				OldEndPosition: sitter.Point{Row: c.OldEndPoint.Row, Column: c.OldEndPoint.Column},
				NewEndPosition: sitter.Point{Row: c.NewEndPoint.Row, Column: c.NewEndPoint.Column},
			})
		}
	}

	source := []byte(rev.Text)
	tree := parser.Parse(source, old)
	if tree == nil {
		return nil, fmt.Errorf("%w: %s@%d", ErrParseFailed, rev.URI, rev.Version)
	}

	return &Tree{
		URI:      rev.URI,
		Version:  rev.Version,
		Language: rev.Language,
		Source:   source,
		tree:     tree,
	}, nil
}
