// Package core is the built-in Go plugin. It answers every feature from the
// Ast and SymbolTable of the request: completion of visible names, hover,
// definition, in-file references, document symbols and diagnostics.
package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
	"github.com/mvp-joe/cortex-lsp/internal/plugin"
	"github.com/mvp-joe/cortex-lsp/internal/symbols"
)

// ID is the core plugin's id.
const ID = "core"

// CodeSyntax is the code of syntax error diagnostics.
const CodeSyntax = "syntax-error"

// Manifest returns the core plugin's manifest.
func Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          ID,
		Name:        "Core analysis",
		Version:     "1.0.0",
		Description: "Scope-aware completion, navigation and diagnostics",
		Features:    feature.Names(),
	}
}

// New returns the core plugin.
func New() plugin.Plugin {
	return plugin.NewStatic(Manifest(),
		plugin.Function{Feature: feature.Completion, Name: "visible-names", Handler: Completion},
		plugin.Function{Feature: feature.Hover, Name: "describe", Handler: Hover},
		plugin.Function{Feature: feature.Definition, Name: "definition", Handler: Definition},
		plugin.Function{Feature: feature.References, Name: "references", Handler: References},
		plugin.Function{Feature: feature.DocumentSymbol, Name: "outline", Handler: DocumentSymbols},
		plugin.Function{Feature: feature.Diagnostics, Name: "diagnostics", Handler: Diagnostics},
	)
}

// completionRank orders completion groups.
func completionRank(d symbols.Decl) int {
	switch {
	case d.IsImport():
		return 4
	case d.Kind == ast.KindFunction:
		return 0
	case d.Kind == ast.KindClass:
		return 1
	case d.Kind == ast.KindParameter:
		return 3
	default:
		return 2
	}
}

// Completion lists the names visible at the cursor that start with the
// identifier being typed, grouped by kind and innermost first.
func Completion(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
	if req.Symbols == nil {
		return nil, nil
	}
	prefix := ""
	if req.Ast != nil {
		prefix = identifierBefore(req.Ast.Text(), req.Offset)
	}

	decls := req.Symbols.Visible(req.Offset, opaqueClasses(req.Symbols.Language()))
	sort.SliceStable(decls, func(i, j int) bool { return completionRank(decls[i]) < completionRank(decls[j]) })

	var items []feature.Item
	for _, d := range decls {
		if !strings.HasPrefix(d.Name, prefix) {
			continue
		}
		items = append(items, feature.Item{
			Label:  d.Name,
			Kind:   feature.KindOf(d.Kind),
			Detail: describeDecl(d),
		})
	}
	return items, nil
}

// Hover describes what the name under the cursor denotes. Off a name it
// reports the kind of the innermost node.
func Hover(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
	if req.Ast == nil {
		return nil, nil
	}
	if tbl := req.Symbols; tbl != nil {
		if ref, ok := tbl.ReferenceAt(req.Offset); ok {
			return []feature.Item{{
				Contents: describeReference(ref),
				Range:    req.Range(ref.Span),
			}}, nil
		}
		if d, ok := tbl.DeclAt(req.Offset); ok {
			return []feature.Item{{
				Contents: describeDecl(d),
				Range:    req.Range(d.NameSpan),
			}}, nil
		}
	}

	id := req.Ast.NodeAt(req.Offset)
	if id == ast.NoNode {
		return nil, nil
	}
	n := req.Ast.Node(id)
	return []feature.Item{{
		Contents: fmt.Sprintf("%s (%s)", n.Kind, n.SyntaxKind),
		Range:    req.Range(n.Span),
	}}, nil
}

// Definition locates the declaration of the name under the cursor.
func Definition(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
	if req.Symbols == nil {
		return nil, nil
	}
	tgt, ok := req.Symbols.TargetAt(req.Offset)
	if !ok || tgt.Builtin {
		return nil, nil
	}
	if tgt.URI == req.URI && req.Ast != nil {
		return []feature.Item{{Label: tgt.Name, URI: tgt.URI, Range: req.Range(tgt.Span)}}, nil
	}
	if req.Locate == nil {
		return nil, nil
	}
	rng, ok := req.Locate(tgt)
	if !ok {
		return nil, nil
	}
	return []feature.Item{{Label: tgt.Name, URI: tgt.URI, Range: rng}}, nil
}

// References lists the occurrences in this file of what the name under the
// cursor denotes.
func References(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
	if req.Symbols == nil || req.Ast == nil {
		return nil, nil
	}
	tgt, ok := req.Symbols.TargetAt(req.Offset)
	if !ok {
		return nil, nil
	}
	var items []feature.Item
	for _, span := range req.Symbols.Occurrences(tgt) {
		items = append(items, feature.Item{Label: tgt.Name, URI: req.URI, Range: req.Range(span)})
	}
	return items, nil
}

// DocumentSymbols outlines the file's functions, classes and variables.
func DocumentSymbols(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
	if req.Symbols == nil || req.Ast == nil {
		return nil, nil
	}
	tbl := req.Symbols
	var items []feature.Item
	for _, d := range tbl.Decls() {
		if d.IsImport() || d.Kind == ast.KindParameter || d.Name == "" {
			continue
		}
		items = append(items, feature.Item{
			Label:     d.Name,
			Kind:      feature.KindOf(d.Kind),
			Detail:    strings.ToLower(d.Kind.String()),
			URI:       req.URI,
			Range:     req.Range(d.Span),
			Container: container(tbl, d),
		})
	}
	return items, nil
}

// Diagnostics reports syntax errors and the table's semantic problems.
func Diagnostics(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
	if req.Ast == nil {
		return nil, nil
	}
	var items []feature.Item
	for _, id := range req.Ast.Errors() {
		n := req.Ast.Node(id)
		items = append(items, feature.Item{
			URI:      req.URI,
			Range:    req.Range(n.Span),
			Severity: int(symbols.SeverityError),
			Code:     CodeSyntax,
			Message:  "syntax error",
		})
	}
	if req.Symbols != nil {
		for _, d := range req.Symbols.Diagnostics() {
			items = append(items, feature.Item{
				URI:      req.URI,
				Range:    req.Range(d.Span),
				Severity: int(d.Severity),
				Code:     d.Code,
				Message:  d.Message,
			})
		}
	}
	return items, nil
}

func describeDecl(d symbols.Decl) string {
	if !d.IsImport() {
		return fmt.Sprintf("(%s) %s", strings.ToLower(d.Kind.String()), d.Name)
	}
	if d.Status == symbols.Resolved {
		return fmt.Sprintf("(import) %s from %s", d.Name, d.Target.URI)
	}
	return fmt.Sprintf("(import) %s: %s", d.Name, d.Reason)
}

func describeReference(ref symbols.Reference) string {
	switch {
	case ref.Status != symbols.Resolved:
		return fmt.Sprintf("(unresolved) %s: %s", ref.Name, ref.Reason)
	case ref.Target.Builtin:
		return fmt.Sprintf("(builtin) %s", ref.Name)
	default:
		return fmt.Sprintf("(%s) %s in %s", strings.ToLower(ref.Target.Kind.String()), ref.Name, ref.Target.URI)
	}
}

// container names the function or class a declaration is nested in.
func container(tbl *symbols.Table, d symbols.Decl) string {
	scope := tbl.Scope(d.Scope)
	for scope.Kind != ast.KindFunction && scope.Kind != ast.KindClass {
		if scope.Parent == symbols.NoScope {
			return ""
		}
		scope = tbl.Scope(scope.Parent)
	}
	return tbl.Ast().Node(scope.Node).Name
}

func opaqueClasses(language string) bool {
	l, err := lang.Get(language)
	return err == nil && l.OpaqueClassScope
}

// identifierBefore returns the identifier characters ending at offset.
func identifierBefore(text string, offset int) string {
	if offset > len(text) {
		offset = len(text)
	}
	start := offset
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		start -= size
	}
	return text[start:offset]
}
