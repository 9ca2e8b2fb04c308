package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/teralink/resolver"
	"github.com/hazyhaar/teralink/shield"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr, true)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			metrics := resolver.NewMetrics()
			svc, err := resolver.Open(cfg, logger, resolver.WithMetrics(metrics))
			if err != nil {
				return err
			}

			var rl *shield.RateLimiter
			if cfg.RateLimit.RPS > 0 {
				rl = shield.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, "/health", "/metrics")
				rl.StartGC(ctx.Done())
			}

			srv := &http.Server{
				Addr:              cfg.ListenAddr(),
				Handler:           svc.Router(metrics, rl),
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      cfg.Resolve.Deadline + 30*time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("teralink: listening", "addr", srv.Addr,
					"authority", cfg.Domain.Authoritative, "sessions", cfg.Browser.MaxSessions)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				logger.Info("teralink: shutting down")
			}

			shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Resolve.Deadline+5*time.Second)
			defer shutCancel()
			if serr := srv.Shutdown(shutCtx); serr != nil {
				logger.Warn("teralink: http shutdown", "error", serr)
			}
			if cerr := svc.Close(shutCtx); cerr != nil {
				logger.Warn("teralink: resolver shutdown", "error", cerr)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
