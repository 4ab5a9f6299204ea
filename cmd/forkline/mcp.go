package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/forkline/internal/adapters/mcp"
	"github.com/aretw0/forkline/internal/cli"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the fork chain and the rotation check as MCP tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")
		baseURL, _ := cmd.Flags().GetString("base-url")

		return withApp(cmd.Context(), func(ctx context.Context, app *cli.App) error {
			srv := mcp.NewServer(app.Store, app.Rotation, app.QuotaAll, app.Logger)

			switch transport {
			case "stdio":
				// Logs go to stderr so they never corrupt JSON-RPC on stdout.
				app.Logger.Info("starting forkline MCP server", "transport", "stdio")
				return srv.ServeStdio()
			case "sse":
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				app.Logger.Info("starting forkline MCP server", "transport", "sse", "addr", addr)
				if err := srv.ServeSSE(ctx, addr, baseURL); err != nil {
					return err
				}
				app.Logger.Info("MCP server stopped")
				return nil
			default:
				return fmt.Errorf("unknown transport %q, supported: stdio, sse", transport)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "transport protocol: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", ":8081", "address to listen on (only for SSE)")
	mcpCmd.Flags().String("base-url", "", "public base URL advertised to SSE clients")
}
