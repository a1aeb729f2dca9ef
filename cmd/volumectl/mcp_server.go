package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/volumectl/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI coding assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI coding assistant integration",
	Long: `Start a read-only MCP server over the volume registry.

The server implements the Model Context Protocol (MCP) over stdio transport.
Verification hashes and ivs are never returned.

Available tools:
  - volume_list:        List volumes with their metadata
  - volume_exists:      Check whether a volume is registered
  - volume_hash_status: Report whether a verification hash is stored

Policy:
  Create ~/.volumectl/mcp-policy.yaml (mode 0600) to deny tools or expose
  hidden volumes. Without a policy all tools are available and hidden
  volumes stay invisible.

Example MCP configuration (~/.claude.json):
  {
    "mcpServers": {
      "volumectl": {
        "type": "stdio",
        "command": "/path/to/volumectl",
        "args": ["mcp-server"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer()
	},
}

func runMCPServer() error {
	server, err := mcp.NewServer(&mcp.ServerOptions{
		Registry: reg,
		Home:     cfg.Home,
		Version:  version,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
			server.Close()
		case <-ctx.Done():
		}
	}()

	logger.Info("starting MCP server", "tools", server.Tools())
	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
