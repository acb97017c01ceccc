package mcp

import (
	"context"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// AstResponse is the get_ast result.
type AstResponse struct {
	URI      string `json:"uri"`
	Version  int    `json:"version"`
	Language string `json:"language"`
	Nodes    int    `json:"nodes"`
	Errors   int    `json:"errors"`
	Degraded bool   `json:"degraded"`
	Tree     string `json:"tree"`
}

// AddAstTool registers the get_ast tool with an MCP server.
func AddAstTool(s *server.MCPServer, analyzer Analyzer) {
	tool := mcp.NewTool(
		"get_ast",
		mcp.WithDescription("Render the language-neutral syntax tree of an analyzed file, one node per line with its kind, name and range."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("File uri, absolute path, or path relative to the workspace root")),
		mcp.WithNumber("version",
			mcp.Description("File version (default: current)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, counted("get_ast", createAstHandler(analyzer)))
}

func createAstHandler(analyzer Analyzer) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		file, err := request.RequireString("file")
		if err != nil || file == "" {
			return mcp.NewToolResultError("file parameter is required"), nil
		}

		a, err := analyzer.GetAst(ctx, resolveURI(analyzer.Root(), file), request.GetInt("version", -1))
		if err != nil {
			return mcp.NewToolResultErrorFromErr("get_ast failed", err), nil
		}
		return marshalToolResponse(&AstResponse{
			URI:      a.URI(),
			Version:  a.Version(),
			Language: a.Language(),
			Nodes:    a.Len(),
			Errors:   len(a.Errors()),
			Degraded: a.Degraded(),
			Tree:     a.DebugString(),
		})
	}
}

// FileResponse describes one analyzed file.
type FileResponse struct {
	URI          string   `json:"uri"`
	Language     string   `json:"language"`
	Version      int      `json:"version"`
	Origin       string   `json:"origin"`
	Ast          string   `json:"ast"`
	Symbols      string   `json:"symbols"`
	Dependencies []string `json:"dependencies,omitempty"`
	Missing      []string `json:"missing,omitempty"`
}

// FilesResponse is the list_files result.
type FilesResponse struct {
	Files []FileResponse `json:"files"`
	Total int            `json:"total"`
}

// AddFilesTool registers the list_files tool with an MCP server.
func AddFilesTool(s *server.MCPServer, analyzer Analyzer) {
	tool := mcp.NewTool(
		"list_files",
		mcp.WithDescription("List the files of the workspace with their version, origin (editor or disk), artifact freshness and resolved dependencies."),
		mcp.WithString("language",
			mcp.Description("Only list files of this language")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, counted("list_files", createFilesHandler(analyzer)))
}

func createFilesHandler(analyzer Analyzer) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		language := request.GetString("language", "")

		response := &FilesResponse{Files: []FileResponse{}}
		for _, f := range analyzer.Files() {
			if language != "" && f.Language != language {
				continue
			}
			response.Files = append(response.Files, FileResponse{
				URI:          f.URI,
				Language:     f.Language,
				Version:      f.Version,
				Origin:       f.Origin.String(),
				Ast:          f.Ast.String(),
				Symbols:      f.Symbols.String(),
				Dependencies: f.Dependencies,
				Missing:      f.Missing,
			})
		}
		sort.Slice(response.Files, func(i, j int) bool { return response.Files[i].URI < response.Files[j].URI })
		response.Total = len(response.Files)

		return marshalToolResponse(response)
	}
}

// PluginResponse describes one registered plugin.
type PluginResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	State     string         `json:"state"`
	Features  []string       `json:"features"`
	Functions map[string]int `json:"functions"`
}

// PluginsResponse is the list_plugins and set_plugin_state result.
type PluginsResponse struct {
	Plugins []PluginResponse `json:"plugins"`
}

// AddPluginTools registers the list_plugins and set_plugin_state tools with
// an MCP server.
func AddPluginTools(s *server.MCPServer, analyzer Analyzer) {
	list := mcp.NewTool(
		"list_plugins",
		mcp.WithDescription("List registered plugins in dispatch order with their health state (active, degraded, disabled) and functions per feature."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
	s.AddTool(list, counted("list_plugins", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return marshalToolResponse(pluginsResponse(analyzer))
	}))

	set := mcp.NewTool(
		"set_plugin_state",
		mcp.WithDescription("Enable or disable a plugin. Enabling resets its failure history."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Plugin id")),
		mcp.WithBoolean("enabled",
			mcp.Required(),
			mcp.Description("true to enable, false to disable")),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	)
	s.AddTool(set, counted("set_plugin_state", createSetPluginStateHandler(analyzer)))
}

func createSetPluginStateHandler(analyzer Analyzer) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil || id == "" {
			return mcp.NewToolResultError("id parameter is required"), nil
		}
		enabled, err := request.RequireBool("enabled")
		if err != nil {
			return mcp.NewToolResultError("enabled parameter is required"), nil
		}

		if enabled {
			err = analyzer.EnablePlugin(id)
		} else {
			err = analyzer.DisablePlugin(id)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to set state of %s: %v", id, err)), nil
		}
		return marshalToolResponse(pluginsResponse(analyzer))
	}
}

func pluginsResponse(analyzer Analyzer) *PluginsResponse {
	response := &PluginsResponse{Plugins: []PluginResponse{}}
	for _, info := range analyzer.Plugins() {
		response.Plugins = append(response.Plugins, PluginResponse{
			ID:        info.ID,
			Name:      info.Name,
			Version:   info.Version,
			State:     info.State.String(),
			Features:  info.Features,
			Functions: info.Functions,
		})
	}
	return response
}
