package cli

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"grantwatch/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the grant tools over MCP on stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing
search_grants, summarize_grant, run_workflow, ask and grant_stats.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	a, err := newApp(cfg, GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpserver.New(cfg.MCP.Name, cfg.MCP.Version, a.agent, a.store, cfg.Search.DefaultTopK, logger)
	logger.Info("mcp server listening on stdio")
	return srv.Run(cmd.Context(), &mcp.StdioTransport{})
}
