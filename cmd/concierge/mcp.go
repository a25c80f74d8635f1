package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/aretw0/concierge/internal/cli"
	"github.com/aretw0/concierge/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the session machine as MCP tools (handle_message, get_session,
list_sessions, reset_session) and the agent graph as a resource.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Run: func(cmd *cobra.Command, args []string) {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("Error: %v", err)
		}
		// Logs go to stderr so they never corrupt JSON-RPC on stdout.
		logger := newLogger(cfg)
		log.SetOutput(os.Stderr)

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		d, err := cli.Build(sigCtx, cfg, logger, os.Stderr)
		if err != nil {
			fail("Error initializing concierge: %v", err)
		}
		defer d.Close()

		srv := mcp.NewServer(d, d.Agents().All(), logger)

		switch transport {
		case "stdio":
			logger.Info("Starting MCP server", "transport", "stdio")
			if err := srv.ServeStdio(); err != nil {
				fail("MCP server failed: %v", err)
			}
		case "sse":
			logger.Info("Starting MCP server", "transport", "sse", "port", port)
			if err := srv.ServeSSE(sigCtx, port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fail("MCP server failed: %v", err)
			}
			logger.Info("MCP server stopped gracefully")
		default:
			fail("Unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
}
