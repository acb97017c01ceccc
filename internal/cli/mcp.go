package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-lsp/internal/backend"
	"github.com/mvp-joe/cortex-lsp/internal/mcp"
)

var mcpNoWatch bool

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp [dir]",
	Short: "Start the MCP server for a workspace",
	Long: `Start the Model Context Protocol (MCP) server that lets coding assistants
query the analysis of a workspace.

The MCP server:
- Loads every source file under dir (default: the working directory)
- Keeps them in sync with disk unless --no-watch is given
- Provides search_symbols, request_feature, get_diagnostics, get_ast,
  list_files, list_plugins and set_plugin_state
- Communicates via stdio (standard MCP transport)

Example:
  cortex-lsp mcp ./my-project`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpNoWatch, "no-watch", false, "do not follow disk changes (overrides workspace.watch)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	root, cfg, done, err := prepare(args)
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	serveMetrics(ctx, cfg)

	b, err := backend.New(cfg.ToBackendConfig())
	if err != nil {
		return err
	}
	defer b.Shutdown()

	if err := b.Initialize(ctx, root); err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}
	if cfg.Workspace.Watch && !mcpNoWatch {
		if err := b.Watch(ctx); err != nil {
			log.Warningf("not watching %s: %v", root, err)
		}
	}

	log.Infof("cortex-lsp %s serving MCP on stdio for %s (%d files)", Version, root, len(b.Files()))
	return mcp.New(b, Version).Serve(ctx)
}
