// Package mcp exposes a workspace's analysis results as MCP tools.
package mcp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	logging "github.com/op/go-logging"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/index"
	"github.com/mvp-joe/cortex-lsp/internal/plugin"
	"github.com/mvp-joe/cortex-lsp/internal/workspace"
)

var log = logging.MustGetLogger("mcp")

// Name is the MCP server name.
const Name = "cortex-lsp"

// Analyzer is the part of backend.Backend the tools query.
type Analyzer interface {
	RequestFeature(ctx context.Context, name, uri string, pos document.Position) (*feature.Result, error)
	GetAst(ctx context.Context, uri string, version int) (*ast.Ast, error)
	Search(ctx context.Context, q string, opts index.SearchOptions) ([]index.Hit, error)
	Files() []workspace.FileStatus
	Plugins() []plugin.Info
	EnablePlugin(id string) error
	DisablePlugin(id string) error
	Root() string
}

// Server manages the MCP server lifecycle.
type Server struct {
	analyzer Analyzer
	mcp      *server.MCPServer
}

// New creates an MCP server with every tool registered.
func New(analyzer Analyzer, version string) *Server {
	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	AddSearchSymbolsTool(s, analyzer)
	AddRequestFeatureTool(s, analyzer)
	AddDiagnosticsTool(s, analyzer)
	AddAstTool(s, analyzer)
	AddFilesTool(s, analyzer)
	AddPluginTools(s, analyzer)

	return &Server{analyzer: analyzer, mcp: s}
}

// MCP returns the underlying mcp-go server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve runs the server on stdio and blocks until the client disconnects,
// a shutdown signal arrives, or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting MCP server on stdio")
		if err := server.ServeStdio(s.mcp); err != nil {
			errCh <- fmt.Errorf("MCP server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-sigCh:
		log.Info("received shutdown signal, stopping")
		return nil
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
