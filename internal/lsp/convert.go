package lsp

import (
	"fmt"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/index"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
)

// languageAliases maps LSP language ids that differ from registered names.
var languageAliases = map[string]string{
	"javascriptreact": "javascript",
}

// languageOf returns the registered language for an LSP language id, or ""
// to detect it from the uri.
func languageOf(id string) string {
	if alias, ok := languageAliases[id]; ok {
		return alias
	}
	if _, err := lang.Get(id); err == nil {
		return id
	}
	return ""
}

func fromPosition(p protocol.Position) document.Position {
	return document.Position{Line: int(p.Line), Character: int(p.Character)}
}

func fromRange(r protocol.Range) document.Range {
	return document.Range{Start: fromPosition(r.Start), End: fromPosition(r.End)}
}

func toPosition(p document.Position) protocol.Position {
	return protocol.Position{Line: protocol.UInteger(p.Line), Character: protocol.UInteger(p.Character)}
}

func toRange(r document.Range) protocol.Range {
	return protocol.Range{Start: toPosition(r.Start), End: toPosition(r.End)}
}

// toEdits converts content changes, which are applied in order.
func toEdits(changes []any) ([]document.Edit, error) {
	edits := make([]document.Edit, 0, len(changes))
	for _, change := range changes {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEvent:
			if c.Range == nil {
				edits = append(edits, document.Replace(c.Text))
				continue
			}
			r := fromRange(*c.Range)
			edits = append(edits, document.Edit{Range: &r, Text: c.Text})
		case protocol.TextDocumentContentChangeEventWhole:
			edits = append(edits, document.Replace(c.Text))
		default:
			return nil, fmt.Errorf("unsupported content change %T", change)
		}
	}
	return edits, nil
}

var completionKinds = map[feature.ItemKind]protocol.CompletionItemKind{
	feature.KindFunction:  protocol.CompletionItemKindFunction,
	feature.KindClass:     protocol.CompletionItemKindClass,
	feature.KindVariable:  protocol.CompletionItemKindVariable,
	feature.KindParameter: protocol.CompletionItemKindVariable,
	feature.KindModule:    protocol.CompletionItemKindModule,
	feature.KindKeyword:   protocol.CompletionItemKindKeyword,
}

var symbolKinds = map[feature.ItemKind]protocol.SymbolKind{
	feature.KindFunction:  protocol.SymbolKindFunction,
	feature.KindClass:     protocol.SymbolKindClass,
	feature.KindVariable:  protocol.SymbolKindVariable,
	feature.KindParameter: protocol.SymbolKindVariable,
	feature.KindModule:    protocol.SymbolKindModule,
}

func completionKind(k feature.ItemKind) *protocol.CompletionItemKind {
	if kind, ok := completionKinds[k]; ok {
		return &kind
	}
	kind := protocol.CompletionItemKindText
	return &kind
}

func symbolKind(k feature.ItemKind) protocol.SymbolKind {
	if kind, ok := symbolKinds[k]; ok {
		return kind
	}
	return protocol.SymbolKindVariable
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// toCompletionItems keeps the merged order with sort text, since clients
// sort by label otherwise.
func toCompletionItems(items []feature.Item) []protocol.CompletionItem {
	out := make([]protocol.CompletionItem, 0, len(items))
	for i, it := range items {
		sortText := fmt.Sprintf("%05d", i)
		ci := protocol.CompletionItem{
			Label:    it.Label,
			Kind:     completionKind(it.Kind),
			Detail:   optional(it.Detail),
			SortText: &sortText,
		}
		if it.Contents != "" {
			ci.Documentation = protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: it.Contents}
		}
		out = append(out, ci)
	}
	return out
}

// toHover joins every contribution. The range is the first contribution's.
func toHover(items []feature.Item) *protocol.Hover {
	var parts []string
	var rng *protocol.Range
	for _, it := range items {
		if it.Contents == "" {
			continue
		}
		parts = append(parts, it.Contents)
		if rng == nil && it.Range != (document.Range{}) {
			r := toRange(it.Range)
			rng = &r
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: strings.Join(parts, "\n\n---\n\n"),
		},
		Range: rng,
	}
}

func toLocations(items []feature.Item) []protocol.Location {
	out := make([]protocol.Location, 0, len(items))
	for _, it := range items {
		if it.URI == "" {
			continue
		}
		out = append(out, protocol.Location{URI: it.URI, Range: toRange(it.Range)})
	}
	return out
}

func toSymbolInformation(uri string, items []feature.Item) []protocol.SymbolInformation {
	out := make([]protocol.SymbolInformation, 0, len(items))
	for _, it := range items {
		target := it.URI
		if target == "" {
			target = uri
		}
		out = append(out, protocol.SymbolInformation{
			Name:          it.Label,
			Kind:          symbolKind(it.Kind),
			Location:      protocol.Location{URI: target, Range: toRange(it.Range)},
			ContainerName: optional(it.Container),
		})
	}
	return out
}

func toWorkspaceSymbols(hits []index.Hit) []protocol.SymbolInformation {
	out := make([]protocol.SymbolInformation, 0, len(hits))
	for _, h := range hits {
		out = append(out, protocol.SymbolInformation{
			Name:          h.Name,
			Kind:          symbolKind(h.Kind),
			Location:      protocol.Location{URI: h.URI, Range: toRange(h.Range)},
			ContainerName: optional(h.Container),
		})
	}
	return out
}

func toDiagnostics(items []feature.Item) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(items))
	for _, it := range items {
		d := protocol.Diagnostic{
			Range:   toRange(it.Range),
			Message: it.Message,
			Source:  optional(it.Source),
		}
		if it.Severity >= 1 && it.Severity <= 4 {
			severity := protocol.DiagnosticSeverity(it.Severity)
			d.Severity = &severity
		}
		if it.Code != "" {
			d.Code = &protocol.IntegerOrString{Value: it.Code}
		}
		out = append(out, d)
	}
	return out
}
