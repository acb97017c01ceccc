package lsp

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/mvp-joe/cortex-lsp/internal/backend"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/symbols"
)

// Test Plan for the LSP server:
// - initialize advertises incremental sync and every provider, initialized preloads the root
// - didOpen pushes diagnostics; incremental didChange updates them; didClose clears them
// - completion, hover, definition, references and document symbols map backend items to protocol types
// - workspace/symbol searches preloaded files
// - Content changes convert to edits in order; unknown change types are rejected

type notifications struct {
	mu   sync.Mutex
	got  []*protocol.PublishDiagnosticsParams
	sent chan struct{}
}

func (n *notifications) notify(method string, params any) {
	if method != protocol.ServerTextDocumentPublishDiagnostics {
		return
	}
	n.mu.Lock()
	n.got = append(n.got, params.(*protocol.PublishDiagnosticsParams))
	n.mu.Unlock()
	n.sent <- struct{}{}
}

// next waits for the next diagnostics push for uri.
func (n *notifications) next(t *testing.T, uri string) *protocol.PublishDiagnosticsParams {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		n.mu.Lock()
		for i, p := range n.got {
			if p.URI == uri {
				n.got = append(n.got[:i], n.got[i+1:]...)
				n.mu.Unlock()
				return p
			}
		}
		n.mu.Unlock()
		select {
		case <-n.sent:
		case <-deadline:
			t.Fatalf("no diagnostics published for %s", uri)
		}
	}
}

func newServer(t *testing.T) (*Server, *glsp.Context, *notifications) {
	t.Helper()
	cfg := backend.DefaultConfig()
	cfg.DiagnosticsDebounce = 10 * time.Millisecond
	s, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)
	t.Cleanup(s.Backend().Shutdown)

	n := &notifications{sent: make(chan struct{}, 64)}
	return s, &glsp.Context{Notify: n.notify}, n
}

func initialize(t *testing.T, s *Server, ctx *glsp.Context, root string) *protocol.InitializeResult {
	t.Helper()
	params := &protocol.InitializeParams{}
	if root != "" {
		uri := document.URIOf(root)
		params.RootURI = &uri
	}
	res, err := s.initialize(ctx, params)
	require.NoError(t, err)
	require.NoError(t, s.initialized(ctx, &protocol.InitializedParams{}))
	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("workspace not ready")
	}
	return res.(*protocol.InitializeResult)
}

func position(line, character int) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{Position: protocol.Position{
		Line:      protocol.UInteger(line),
		Character: protocol.UInteger(character),
	}}
}

func at(uri string, line, character int) protocol.TextDocumentPositionParams {
	p := position(line, character)
	p.TextDocument = protocol.TextDocumentIdentifier{URI: uri}
	return p
}

func TestServer_Initialize(t *testing.T) {
	t.Parallel()

	s, ctx, _ := newServer(t)
	res := initialize(t, s, ctx, "")

	syncOptions, ok := res.Capabilities.TextDocumentSync.(*protocol.TextDocumentSyncOptions)
	require.True(t, ok)
	assert.Equal(t, protocol.TextDocumentSyncKindIncremental, *syncOptions.Change)
	assert.True(t, *syncOptions.OpenClose)
	assert.NotNil(t, res.Capabilities.CompletionProvider)
	assert.NotNil(t, res.Capabilities.HoverProvider)
	assert.NotNil(t, res.Capabilities.DefinitionProvider)
	assert.NotNil(t, res.Capabilities.ReferencesProvider)
	assert.NotNil(t, res.Capabilities.DocumentSymbolProvider)
	assert.NotNil(t, res.Capabilities.WorkspaceSymbolProvider)
	assert.Equal(t, Name, res.ServerInfo.Name)
	assert.Equal(t, "test", *res.ServerInfo.Version)

	require.NoError(t, s.setTrace(ctx, &protocol.SetTraceParams{Value: protocol.TraceValueVerbose}))
	require.NoError(t, s.shutdown(ctx))
}

func TestServer_DocumentLifecycle(t *testing.T) {
	t.Parallel()

	s, ctx, n := newServer(t)
	initialize(t, s, ctx, "")
	const uri = "file:///p/a.py"

	require.NoError(t, s.didOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "python", Version: 1, Text: "print(missing)\n"},
	}))
	p := n.next(t, uri)
	require.Len(t, p.Diagnostics, 1)
	assert.Equal(t, symbols.CodeUndefined, p.Diagnostics[0].Code.Value)
	assert.Equal(t, protocol.DiagnosticSeverityWarning, *p.Diagnostics[0].Severity)
	assert.Equal(t, protocol.UInteger(6), p.Diagnostics[0].Range.Start.Character)

	// Replace "missing" with "1".
	replaced := protocol.Range{
		Start: protocol.Position{Line: 0, Character: 6},
		End:   protocol.Position{Line: 0, Character: 13},
	}
	require.NoError(t, s.didChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{Version: 2, TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri}},
		ContentChanges: []any{protocol.TextDocumentContentChangeEvent{Range: &replaced, Text: "1"}},
	}))
	p = n.next(t, uri)
	assert.Empty(t, p.Diagnostics)
	assert.Equal(t, protocol.UInteger(1), *p.Version)

	rev, err := s.Backend().GetAst(stdContext(), uri, -1)
	require.NoError(t, err)
	assert.Equal(t, "print(1)\n", rev.Text())

	require.NoError(t, s.didClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}))
	assert.Empty(t, s.Backend().Files())
}

const sourceText = `import os
def helper(value):
    return value
class Store:
    def save(self):
        helper(1)
`

func TestServer_LanguageFeatures(t *testing.T) {
	t.Parallel()

	s, ctx, _ := newServer(t)
	initialize(t, s, ctx, "")
	const uri = "file:///p/store.py"
	require.NoError(t, s.didOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "python", Text: sourceText},
	}))

	got, err := s.completion(ctx, &protocol.CompletionParams{TextDocumentPositionParams: at(uri, 5, 8)})
	require.NoError(t, err)
	var labels []string
	for _, ci := range got.([]protocol.CompletionItem) {
		labels = append(labels, ci.Label)
	}
	assert.Contains(t, labels, "helper")
	assert.Contains(t, labels, "Store")

	hover, err := s.hover(ctx, &protocol.HoverParams{TextDocumentPositionParams: at(uri, 5, 9)})
	require.NoError(t, err)
	require.NotNil(t, hover)
	assert.Contains(t, hover.Contents.(protocol.MarkupContent).Value, "helper")

	def, err := s.definition(ctx, &protocol.DefinitionParams{TextDocumentPositionParams: at(uri, 5, 9)})
	require.NoError(t, err)
	locations := def.([]protocol.Location)
	require.Len(t, locations, 1)
	assert.Equal(t, uri, locations[0].URI)
	assert.Equal(t, protocol.UInteger(1), locations[0].Range.Start.Line)
	assert.Equal(t, protocol.UInteger(4), locations[0].Range.Start.Character)

	refs, err := s.references(ctx, &protocol.ReferenceParams{TextDocumentPositionParams: at(uri, 1, 5)})
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	syms, err := s.documentSymbol(ctx, &protocol.DocumentSymbolParams{TextDocument: protocol.TextDocumentIdentifier{URI: uri}})
	require.NoError(t, err)
	var names []string
	for _, si := range syms.([]protocol.SymbolInformation) {
		names = append(names, si.Name)
	}
	assert.Equal(t, []string{"helper", "Store", "save"}, names)

	_, err = s.hover(ctx, &protocol.HoverParams{TextDocumentPositionParams: at("file:///p/none.py", 0, 0)})
	assert.Error(t, err)
}

func TestServer_WorkspaceSymbol(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "store.py"), []byte(sourceText), 0o644))

	s, ctx, _ := newServer(t)
	initialize(t, s, ctx, root)

	require.Eventually(t, func() bool {
		got, err := s.workspaceSymbol(ctx, &protocol.WorkspaceSymbolParams{Query: "save"})
		return err == nil && len(got) > 0 && got[0].Name == "save" && got[0].ContainerName != nil && *got[0].ContainerName == "Store"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestToEdits(t *testing.T) {
	t.Parallel()

	r := protocol.Range{End: protocol.Position{Character: 3}}
	edits, err := toEdits([]any{
		protocol.TextDocumentContentChangeEvent{Range: &r, Text: "abc"},
		protocol.TextDocumentContentChangeEventWhole{Text: "whole"},
		protocol.TextDocumentContentChangeEvent{Text: "no range"},
	})
	require.NoError(t, err)
	require.Len(t, edits, 3)
	assert.Equal(t, &document.Range{End: document.Position{Character: 3}}, edits[0].Range)
	assert.Equal(t, document.Replace("whole"), edits[1])
	assert.Equal(t, document.Replace("no range"), edits[2])

	_, err = toEdits([]any{"bogus"})
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	t.Parallel()

	items := []feature.Item{
		{Label: "b", Kind: feature.KindFunction, Detail: "Function"},
		{Label: "a", Kind: "unknown"},
	}
	completions := toCompletionItems(items)
	require.Len(t, completions, 2)
	assert.Equal(t, protocol.CompletionItemKindFunction, *completions[0].Kind)
	assert.Equal(t, protocol.CompletionItemKindText, *completions[1].Kind)
	assert.Less(t, *completions[0].SortText, *completions[1].SortText)
	assert.Nil(t, completions[1].Detail)

	assert.Nil(t, toHover(nil))
	assert.Nil(t, toHover([]feature.Item{{Label: "no contents"}}))
	h := toHover([]feature.Item{{Contents: "one"}, {Contents: "two"}})
	assert.Equal(t, "one\n\n---\n\ntwo", h.Contents.(protocol.MarkupContent).Value)
	assert.Nil(t, h.Range)

	assert.Equal(t, "python", languageOf("python"))
	assert.Equal(t, "javascript", languageOf("javascriptreact"))
	assert.Equal(t, "", languageOf("plaintext"))
}
