package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-assistant/pkg/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the websocket state feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			a, err := app.New(cfg, app.WithLogger(logger))
			if err != nil {
				reportMissing(cfg)
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := a.Init(ctx); err != nil {
				return err
			}
			defer a.Close()

			stopLifecycle := watchLifecycle(ctx, a.Assistant(), logger)
			defer stopLifecycle()

			return a.Serve(ctx)
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("static-dir", "", "directory holding a web client to serve at /")
	return cmd
}
