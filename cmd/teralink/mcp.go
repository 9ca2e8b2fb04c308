package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/teralink/resolver"
)

func newMCPCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the teralink_resolve tool over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			logger := newLogger(cfg, os.Stderr, true)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc, err := resolver.Open(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close(context.Background())

			srv := mcp.NewServer(&mcp.Implementation{Name: "teralink", Version: version}, nil)
			svc.RegisterMCP(srv)

			logger.Info("teralink: mcp on stdio")
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}
