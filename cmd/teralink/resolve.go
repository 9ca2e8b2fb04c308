package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/teralink/kit"
	"github.com/hazyhaar/teralink/resolver"
)

func newResolveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <share-url>",
		Short: "Resolve one share link and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr, false)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc, err := resolver.Open(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close(context.Background())

			res := svc.Resolve(kit.WithTransport(ctx, "cli"), args[0])

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			return res.Err()
		},
	}
}
