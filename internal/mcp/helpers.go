package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/telemetry"
)

// marshalToolResponse marshals a response object to JSON and returns it as an MCP tool result.
func marshalToolResponse(response interface{}) (*mcp.CallToolResult, error) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

// resolveURI accepts a file uri, an absolute path, or a path relative to root.
func resolveURI(root, target string) string {
	if strings.HasPrefix(target, "file://") {
		return target
	}
	if !filepath.IsAbs(target) && root != "" {
		target = filepath.Join(root, target)
	}
	return document.URIOf(target)
}

// counted wraps a tool handler to record its outcome.
func counted(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := handler(ctx, request)
		outcome := "ok"
		if err != nil || (result != nil && result.IsError) {
			outcome = "error"
		}
		telemetry.ToolCalls.WithLabelValues(tool, outcome).Inc()
		return result, err
	}
}
