package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/index"
)

// SearchSymbolsResponse is the search_symbols result.
type SearchSymbolsResponse struct {
	Results []index.Hit `json:"results"`
	Total   int         `json:"total"`
}

// AddSearchSymbolsTool registers the search_symbols tool with an MCP server.
func AddSearchSymbolsTool(s *server.MCPServer, analyzer Analyzer) {
	tool := mcp.NewTool(
		"search_symbols",
		mcp.WithDescription("Search the declarations of every analyzed file by name. Matches exact names, prefixes and close misspellings, exact matches first."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Symbol name or prefix (e.g., 'UserStore', 'load_conf')")),
		mcp.WithString("kind",
			mcp.Description("Only return symbols of this kind"),
			mcp.Enum(string(feature.KindFunction), string(feature.KindClass), string(feature.KindVariable), string(feature.KindModule))),
		mcp.WithString("language",
			mcp.Description("Only return symbols from files of this language (e.g., 'python', 'typescript')")),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (1-500, default: 50)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, counted("search_symbols", createSearchSymbolsHandler(analyzer)))
}

func createSearchSymbolsHandler(analyzer Analyzer) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || query == "" {
			return mcp.NewToolResultError("query parameter is required"), nil
		}

		limit := request.GetInt("limit", index.DefaultLimit)
		if limit < 1 {
			limit = 1
		} else if limit > 500 {
			limit = 500
		}

		hits, err := analyzer.Search(ctx, query, index.SearchOptions{
			Kind:     feature.ItemKind(request.GetString("kind", "")),
			Language: request.GetString("language", ""),
			Limit:    limit,
		})
		if err != nil {
			return mcp.NewToolResultErrorFromErr("search failed", err), nil
		}
		if hits == nil {
			hits = []index.Hit{}
		}

		return marshalToolResponse(&SearchSymbolsResponse{Results: hits, Total: len(hits)})
	}
}
