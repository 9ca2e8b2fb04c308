package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/teralink/resolver"
)

func newLoginCmd(load configLoader) *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a visible browser, log in by hand, and save the session snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr, false)

			headful := false
			cfg.Browser.Headless = &headful

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			store, err := resolver.OpenStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			backend := resolver.NewBackend(cfg, logger)
			defer backend.Close()

			opts := resolver.LoginOptionsFrom(cfg, logger)
			if url != "" {
				opts.URL = url
			}
			if timeout > 0 {
				opts.Timeout = timeout
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Log in at %s in the browser window (waiting up to %s)\n", opts.URL, opts.Timeout)
			snap, err := resolver.CaptureLogin(ctx, backend, store, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d cookies to %s\n", len(snap.Records), cfg.Session.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "login page (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the login (default from config)")
	return cmd
}
