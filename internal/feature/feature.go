// Package feature defines the language features plugins contribute, the
// read-only request a handler receives and the equality contract used to
// deduplicate merged results.
package feature

import (
	"fmt"
	"sort"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/symbols"
)

// Feature names.
const (
	Completion     = "completion"
	Hover          = "hover"
	Definition     = "definition"
	References     = "references"
	DocumentSymbol = "documentSymbol"
	Diagnostics    = "diagnostics"
)

// ItemKind classifies items the way editors present them.
type ItemKind string

const (
	KindFunction  ItemKind = "function"
	KindClass     ItemKind = "class"
	KindVariable  ItemKind = "variable"
	KindParameter ItemKind = "parameter"
	KindModule    ItemKind = "module"
	KindKeyword   ItemKind = "keyword"
	KindText      ItemKind = "text"
)

// KindOf maps an Ast kind to the item kind editors show for it.
func KindOf(k ast.Kind) ItemKind {
	switch k {
	case ast.KindFunction:
		return KindFunction
	case ast.KindClass:
		return KindClass
	case ast.KindParameter:
		return KindParameter
	case ast.KindImport, ast.KindImportName, ast.KindModule:
		return KindModule
	default:
		return KindVariable
	}
}

// Item is one contribution to a feature result. Which fields are meaningful
// depends on the feature: completion uses Label and Kind, hover uses
// Contents, location features use URI and Range, diagnostics use Range,
// Severity, Code and Message.
type Item struct {
	Label    string   `json:"label,omitempty"`
	Kind     ItemKind `json:"kind,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Contents string   `json:"contents,omitempty"`

	URI   string         `json:"uri,omitempty"`
	Range document.Range `json:"range"`
	// Container names the enclosing declaration of document symbols.
	Container string `json:"container,omitempty"`

	Severity int    `json:"severity,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`

	// Source is the id of the plugin that produced the item.
	Source string `json:"source,omitempty"`
	// LowConfidence marks items from degraded plugins.
	LowConfidence bool `json:"lowConfidence,omitempty"`
}

// Request is what a handler receives. It is shared by every handler of one
// dispatch and must be treated as read-only.
type Request struct {
	Feature  string
	URI      string
	Version  int
	Position document.Position
	// Offset is Position as a byte offset into the Ast's text.
	Offset  int
	Ast     *ast.Ast
	Symbols *symbols.Table
	// Locate converts a target in another file to an editor range. It is
	// nil when no cross-file lookup is available.
	Locate func(t symbols.Target) (document.Range, bool)
}

// NewRequest builds a request for a position in a file.
func NewRequest(name string, a *ast.Ast, tbl *symbols.Table, pos document.Position) *Request {
	return &Request{
		Feature:  name,
		URI:      a.URI(),
		Version:  a.Version(),
		Position: pos,
		Offset:   a.Offset(pos),
		Ast:      a,
		Symbols:  tbl,
	}
}

// Range returns the editor range of a span of the request's file.
func (r *Request) Range(s ast.Span) document.Range {
	return r.Ast.Range(s)
}

// Result is the merged outcome of a feature request.
type Result struct {
	Feature string `json:"feature"`
	URI     string `json:"uri"`
	Version int    `json:"version"`
	Items   []Item `json:"items"`
	// Degraded reports that the file had syntax errors.
	Degraded bool `json:"degraded,omitempty"`
}

// Contract returns the equality key of an item for one feature. Items with
// the same key are duplicates.
type Contract func(Item) string

func locationKey(it Item) string {
	return fmt.Sprintf("%s:%d:%d-%d:%d", it.URI, it.Range.Start.Line, it.Range.Start.Character, it.Range.End.Line, it.Range.End.Character)
}

func labelKey(it Item) string { return it.Label }

func contentsKey(it Item) string { return it.Contents }

func symbolKey(it Item) string { return it.Label + "@" + locationKey(it) }

func diagnosticKey(it Item) string { return locationKey(it) + "|" + it.Code + "|" + it.Message }

var contracts = map[string]Contract{
	Completion:     labelKey,
	Hover:          contentsKey,
	Definition:     locationKey,
	References:     locationKey,
	DocumentSymbol: symbolKey,
	Diagnostics:    diagnosticKey,
}

// Known reports whether name is a feature with a contract.
func Known(name string) bool {
	_, ok := contracts[name]
	return ok
}

// Names returns every known feature, sorted.
func Names() []string {
	out := make([]string, 0, len(contracts))
	for name := range contracts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Key returns the equality key of it under the contract of feature. Unknown
// features compare whole items.
func Key(name string, it Item) string {
	if c, ok := contracts[name]; ok {
		return c(it)
	}
	return fmt.Sprintf("%+v", it)
}

// Dedupe removes duplicates by the feature's contract, keeping the first
// occurrence and the order of the rest.
func Dedupe(name string, items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, it := range items {
		k := Key(name, it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}
