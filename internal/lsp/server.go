// Package lsp serves a Backend over the Language Server Protocol.
package lsp

import (
	"context"
	"errors"
	"sync"

	logging "github.com/op/go-logging"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/mvp-joe/cortex-lsp/internal/backend"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/index"
)

var log = logging.MustGetLogger("lsp")

// Name is reported to clients in the initialize result.
const Name = "cortex-lsp"

// Options configures a Server.
type Options struct {
	// Version is reported to clients.
	Version string
	// Watch keeps disk files in sync once the client is initialized.
	Watch bool
}

// Server adapts LSP requests to a Backend and pushes its diagnostics.
type Server struct {
	backend *backend.Backend
	handler protocol.Handler
	options Options

	mu     sync.Mutex
	notify glsp.NotifyFunc
	root   string

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a Server with its own Backend.
func New(config backend.Config, options Options, opts ...backend.Option) (*Server, error) {
	s := &Server{options: options, ready: make(chan struct{})}
	b, err := backend.New(config, append(opts, backend.WithNotifier(s))...)
	if err != nil {
		return nil, err
	}
	s.backend = b
	s.handler = protocol.Handler{
		Initialize:                 s.initialize,
		Initialized:                s.initialized,
		Shutdown:                   s.shutdown,
		SetTrace:                   s.setTrace,
		TextDocumentDidOpen:        s.didOpen,
		TextDocumentDidChange:      s.didChange,
		TextDocumentDidClose:       s.didClose,
		TextDocumentCompletion:     s.completion,
		TextDocumentHover:          s.hover,
		TextDocumentDefinition:     s.definition,
		TextDocumentReferences:     s.references,
		TextDocumentDocumentSymbol: s.documentSymbol,
		WorkspaceSymbol:            s.workspaceSymbol,
	}
	return s, nil
}

// Backend returns the server's backend.
func (s *Server) Backend() *backend.Backend { return s.backend }

// Handler returns the protocol handler table.
func (s *Server) Handler() *protocol.Handler { return &s.handler }

// Ready is closed once workspace preloading has finished after initialized.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// RunStdio serves on stdin and stdout until the client exits.
func (s *Server) RunStdio() error {
	srv := glspserver.NewServer(&s.handler, Name, false)
	defer s.backend.Shutdown()
	return srv.RunStdio()
}

// PublishDiagnostics implements backend.Notifier.
func (s *Server) PublishDiagnostics(uri string, version int, items []feature.Item) {
	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	if notify == nil {
		return
	}
	v := protocol.UInteger(version)
	notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Version:     &v,
		Diagnostics: toDiagnostics(items),
	})
}

func (s *Server) remember(context *glsp.Context) {
	if context == nil || context.Notify == nil {
		return
	}
	s.mu.Lock()
	s.notify = context.Notify
	s.mu.Unlock()
}

// protocol.InitializeFunc signature
func (s *Server) initialize(context *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.remember(context)
	if params.Trace != nil {
		protocol.SetTraceValue(*params.Trace)
	}

	s.mu.Lock()
	s.root = rootOf(params)
	s.mu.Unlock()

	capabilities := s.handler.CreateServerCapabilities()
	openClose := true
	change := protocol.TextDocumentSyncKindIncremental
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &openClose,
		Change:    &change,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	version := s.options.Version
	return &protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &version,
		},
	}, nil
}

// rootOf picks the workspace root: the first workspace folder, the root uri,
// then the deprecated root path.
func rootOf(params *protocol.InitializeParams) string {
	switch {
	case len(params.WorkspaceFolders) > 0:
		return document.PathOf(params.WorkspaceFolders[0].URI)
	case params.RootURI != nil && *params.RootURI != "":
		return document.PathOf(*params.RootURI)
	case params.RootPath != nil:
		return *params.RootPath
	}
	return ""
}

// protocol.InitializedFunc signature
func (s *Server) initialized(context *glsp.Context, params *protocol.InitializedParams) error {
	s.remember(context)

	s.mu.Lock()
	root := s.root
	s.mu.Unlock()
	if root == "" {
		s.markReady()
		return nil
	}

	go func() {
		defer s.markReady()
		ctx := stdContext()
		if err := s.backend.Initialize(ctx, root); err != nil {
			log.Warningf("failed to initialize workspace %s: %v", root, err)
			return
		}
		if s.options.Watch {
			if err := s.backend.Watch(ctx); err != nil {
				log.Warningf("%v", err)
			}
		}
	}()
	return nil
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// protocol.ShutdownFunc signature
func (s *Server) shutdown(context *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	s.backend.Shutdown()
	return nil
}

// protocol.SetTraceFunc signature
func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// protocol.TextDocumentDidOpenFunc signature
func (s *Server) didOpen(context *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.remember(context)
	doc := params.TextDocument
	_, err := s.backend.Open(doc.URI, languageOf(doc.LanguageID), doc.Text)
	return err
}

// protocol.TextDocumentDidChangeFunc signature
func (s *Server) didChange(context *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	s.remember(context)
	edits, err := toEdits(params.ContentChanges)
	if err != nil {
		return err
	}
	_, err = s.backend.Change(params.TextDocument.URI, edits)
	return err
}

// protocol.TextDocumentDidCloseFunc signature
func (s *Server) didClose(context *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	return s.backend.Close(params.TextDocument.URI)
}

func (s *Server) request(name string, params protocol.TextDocumentPositionParams) (*feature.Result, error) {
	res, err := s.backend.RequestFeature(stdContext(), name, params.TextDocument.URI, fromPosition(params.Position))
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return res, nil
}

// protocol.TextDocumentCompletionFunc signature
func (s *Server) completion(context *glsp.Context, params *protocol.CompletionParams) (any, error) {
	res, err := s.request(feature.Completion, params.TextDocumentPositionParams)
	if err != nil || res == nil {
		return nil, err
	}
	return toCompletionItems(res.Items), nil
}

// protocol.TextDocumentHoverFunc signature
func (s *Server) hover(context *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	res, err := s.request(feature.Hover, params.TextDocumentPositionParams)
	if err != nil || res == nil {
		return nil, err
	}
	return toHover(res.Items), nil
}

// protocol.TextDocumentDefinitionFunc signature
func (s *Server) definition(context *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	res, err := s.request(feature.Definition, params.TextDocumentPositionParams)
	if err != nil || res == nil {
		return nil, err
	}
	return toLocations(res.Items), nil
}

// protocol.TextDocumentReferencesFunc signature
func (s *Server) references(context *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	res, err := s.request(feature.References, params.TextDocumentPositionParams)
	if err != nil || res == nil {
		return nil, err
	}
	return toLocations(res.Items), nil
}

// protocol.TextDocumentDocumentSymbolFunc signature
func (s *Server) documentSymbol(context *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	res, err := s.backend.RequestFeature(stdContext(), feature.DocumentSymbol, params.TextDocument.URI, document.Position{})
	if err != nil {
		return nil, err
	}
	return toSymbolInformation(params.TextDocument.URI, res.Items), nil
}

// protocol.WorkspaceSymbolFunc signature
func (s *Server) workspaceSymbol(context *glsp.Context, params *protocol.WorkspaceSymbolParams) ([]protocol.SymbolInformation, error) {
	hits, err := s.backend.Search(stdContext(), params.Query, index.SearchOptions{})
	if err != nil {
		return nil, err
	}
	return toWorkspaceSymbols(hits), nil
}

// stdContext is the context requests run under. glsp passes no
// cancellation to handlers.
func stdContext() context.Context {
	return context.Background()
}
