package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newHealthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health [endpoint]",
		Short: "Ping one endpoint, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), flags, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			results, err := s.mux.CheckHealth(cmd.Context(), name)
			if err != nil {
				return err
			}

			failed := 0

			for _, r := range results {
				if !r.OK {
					failed++
				}
			}

			if flags.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()

				for _, r := range results {
					switch {
					case r.OK:
						fmt.Fprintf(out, "%s %s (%s)\n", color.GreenString("✓"), r.Endpoint, r.Latency.Round(time.Millisecond))
					case r.Skipped:
						fmt.Fprintf(out, "%s %s: %s\n", color.YellowString("-"), r.Endpoint, r.Error)
					default:
						fmt.Fprintf(out, "%s %s: %s\n", color.RedString("✗"), r.Endpoint, r.Error)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d endpoints unhealthy", failed, len(results))
			}

			return nil
		},
	}
}
