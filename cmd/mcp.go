package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/schovi/mediarec/internal/config"
	"github.com/schovi/mediarec/internal/daemon"
	"github.com/schovi/mediarec/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve recording tools over MCP (stdio)",
	Long: `Run an MCP server on stdin/stdout exposing slot operations as tools.

The daemon is started on the first tool call if it is not already running.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	client := daemon.NewClient(config.Dir())
	server := mcp.NewServer(mcp.NewToolRegistry(client, daemonArgs()...), version, os.Stdin, os.Stdout)
	return server.Run()
}
