package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-assistant/pkg/app"
	"github.com/teslashibe/go-assistant/pkg/recorder"
)

func newTranscribeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe a 16-bit PCM WAV file and print the text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			art, err := recorder.ReadArtifact(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			t, _, err := app.NewTranscriber(ctx, cfg, logger, nil)
			if err != nil {
				reportMissing(cfg)
				return err
			}

			tr, err := t.Transcribe(ctx, art)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tr.Text)
			return nil
		},
	}
}
