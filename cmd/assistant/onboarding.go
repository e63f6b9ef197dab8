package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-assistant/pkg/prefs"
)

func newOnboardingCmd(opts *rootOptions) *cobra.Command {
	var complete bool

	cmd := &cobra.Command{
		Use:   "onboarding",
		Short: "Show or complete the onboarding state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			path := cfg.Prefs.Path
			if path == "" {
				if path, err = prefs.DefaultPath(); err != nil {
					return err
				}
			}
			store, err := prefs.Open(path)
			if err != nil {
				return err
			}

			if complete {
				if err := store.CompleteOnboarding(); err != nil {
					return err
				}
			}

			p := store.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "prefs:          %s\n", store.Path())
			fmt.Fprintf(out, "onboarded:      %v\n", p.OnboardingCompleted)
			fmt.Fprintf(out, "muted:          %v\n", p.Muted)
			fmt.Fprintf(out, "initial screen: %s\n", store.InitialScreen())
			return nil
		},
	}

	cmd.Flags().BoolVar(&complete, "complete", false, "mark onboarding as completed")
	return cmd
}
