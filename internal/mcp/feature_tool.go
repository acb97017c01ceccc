package mcp

import (
	"context"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
)

// AddRequestFeatureTool registers the request_feature tool with an MCP server.
func AddRequestFeatureTool(s *server.MCPServer, analyzer Analyzer) {
	tool := mcp.NewTool(
		"request_feature",
		mcp.WithDescription("Compute a language feature at a position of an analyzed file: completion, hover, definition, references, documentSymbol or diagnostics. Results of every enabled plugin are merged."),
		mcp.WithString("feature",
			mcp.Required(),
			mcp.Description("Feature to compute"),
			mcp.Enum(feature.Names()...)),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("File uri, absolute path, or path relative to the workspace root")),
		mcp.WithNumber("line",
			mcp.Description("Zero-based line (default: 0)")),
		mcp.WithNumber("character",
			mcp.Description("Zero-based UTF-16 column (default: 0)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, counted("request_feature", createRequestFeatureHandler(analyzer)))
}

func createRequestFeatureHandler(analyzer Analyzer) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("feature")
		if err != nil {
			return mcp.NewToolResultError("feature parameter is required"), nil
		}
		if !feature.Known(name) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown feature: %s", name)), nil
		}
		file, err := request.RequireString("file")
		if err != nil || file == "" {
			return mcp.NewToolResultError("file parameter is required"), nil
		}

		pos := document.Position{
			Line:      max(request.GetInt("line", 0), 0),
			Character: max(request.GetInt("character", 0), 0),
		}
		res, err := analyzer.RequestFeature(ctx, name, resolveURI(analyzer.Root(), file), pos)
		if err != nil {
			return mcp.NewToolResultErrorFromErr(name+" failed", err), nil
		}
		return marshalToolResponse(res)
	}
}

// FileDiagnostics are the diagnostics of one file.
type FileDiagnostics struct {
	URI         string         `json:"uri"`
	Version     int            `json:"version"`
	Diagnostics []feature.Item `json:"diagnostics"`
}

// DiagnosticsResponse is the get_diagnostics result.
type DiagnosticsResponse struct {
	Files []FileDiagnostics `json:"files"`
	Total int               `json:"total"`
}

// AddDiagnosticsTool registers the get_diagnostics tool with an MCP server.
func AddDiagnosticsTool(s *server.MCPServer, analyzer Analyzer) {
	tool := mcp.NewTool(
		"get_diagnostics",
		mcp.WithDescription("Report syntax errors, unresolved names, failed imports and import cycles. Without a file, reports every analyzed file that has diagnostics."),
		mcp.WithString("file",
			mcp.Description("File uri, absolute path, or path relative to the workspace root")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, counted("get_diagnostics", createDiagnosticsHandler(analyzer)))
}

func createDiagnosticsHandler(analyzer Analyzer) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var uris []string
		file := request.GetString("file", "")
		if file != "" {
			uris = []string{resolveURI(analyzer.Root(), file)}
		} else {
			for _, f := range analyzer.Files() {
				uris = append(uris, f.URI)
			}
			sort.Strings(uris)
		}

		response := &DiagnosticsResponse{Files: []FileDiagnostics{}}
		for _, uri := range uris {
			res, err := analyzer.RequestFeature(ctx, feature.Diagnostics, uri, document.Position{})
			if err != nil {
				if file != "" {
					return mcp.NewToolResultErrorFromErr("diagnostics failed", err), nil
				}
				log.Debugf("skipping diagnostics for %s: %v", uri, err)
				continue
			}
			if len(res.Items) == 0 && file == "" {
				continue
			}
			response.Files = append(response.Files, FileDiagnostics{
				URI:         uri,
				Version:     res.Version,
				Diagnostics: res.Items,
			})
			response.Total += len(res.Items)
		}

		return marshalToolResponse(response)
	}
}
