package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/warden/pkg/adapters/mcp"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts Warden as an MCP Server so AI agents can create, simulate, validate and
execute spans as tools. Governance still applies: an agent cannot approve its own work
unless it names an approver.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("transport") {
			cfg.MCP.Transport, _ = cmd.Flags().GetString("transport")
		}
		if cmd.Flags().Changed("port") {
			cfg.MCP.Port, _ = cmd.Flags().GetInt("port")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = st.Close(shutdownCtx)
		}()
		go func() { _ = st.warden.Maintain(ctx, cfg.Maintenance.SweepInterval) }()

		srv := mcp.NewServer(st.warden,
			mcp.WithAgent(domain.Actor{ID: cfg.MCP.Agent, Roles: []string{"agent"}}),
			mcp.WithLogger(logger.With("component", "mcp")),
		)

		switch cfg.MCP.Transport {
		case "sse":
			slog.Info("Starting Warden MCP Server (SSE)", "port", cfg.MCP.Port)
			if err := srv.ServeSSE(ctx, cfg.MCP.Port); err != nil {
				return err
			}
			slog.Info("MCP Server stopped gracefully")
		default:
			// Logs must not corrupt JSON-RPC on Stdout.
			log.SetOutput(os.Stderr)
			slog.Info("Starting Warden MCP Server (Stdio)")
			return srv.ServeStdio()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8081, "Port to listen on (only for SSE)")
}
