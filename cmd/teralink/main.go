// Command teralink resolves TeraBox share links into direct download URLs.
//
//	teralink serve               HTTP API on $PORT (default 10000)
//	teralink resolve <url>       one-shot resolution, JSON on stdout
//	teralink login               headful Chrome, capture a session snapshot
//	teralink mcp                 MCP server on stdio
//	teralink env                 list recognised environment variables
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/teralink/resolver"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "teralink",
		Short:         "Resolve TeraBox share links into direct download URLs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TERALINK_CONFIG"), "YAML config file")

	load := func() (*resolver.Config, error) {
		cfg, err := resolver.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newResolveCmd(load),
		newLoginCmd(load),
		newMCPCmd(load),
		newEnvCmd(),
	)
	return root
}

type configLoader func() (*resolver.Config, error)

// newLogger builds the process logger. JSON for long-running services,
// text for interactive commands. Logs go to w so stdout stays clean for
// command output.
func newLogger(cfg *resolver.Config, w io.Writer, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables teralink reads",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return resolver.PrintEnvUsage()
		},
	}
}
