package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zamburak/zamburak/internal/mcp"
)

var (
	servePolicy   string
	serveAuditLog string
	serveNoReload bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy document (required)")
	serveCmd.Flags().StringVar(&serveAuditLog, "audit-log", "", "Path to decision log JSONL file")
	serveCmd.Flags().BoolVar(&serveNoReload, "no-reload", false, "Disable policy hot-reload")
	serveCmd.MarkFlagRequired("policy")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP decision server for agent integration",
	Long: "Runs zamburak as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools to record values, manage authority tokens, and evaluate\n" +
		"tool-call requests. The policy file hot-reloads on change.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	srv, err := mcp.New(mcp.Config{
		PolicyPath:   servePolicy,
		AuditLogPath: serveAuditLog,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !serveNoReload {
		reloader, err := mcp.NewReloader(srv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hot-reload disabled: %v\n", err)
		} else {
			go reloader.Run(ctx)
		}
	}

	return srv.Run(ctx)
}
