package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagiedev/stdiomux/internal/config"
	"github.com/wagiedev/stdiomux/internal/journal"
)

func newJournalCmd(flags *globalFlags) *cobra.Command {
	var (
		limit     int
		exhausted bool
	)

	cmd := &cobra.Command{
		Use:   "journal [endpoint]",
		Short: "Show recorded lifecycle events",
		Long: `journal prints the lifecycle journal configured under journal.path:
state transitions, failed health probes and abandoned endpoints.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}

			if f.Journal.Path == "" {
				return errors.New("no journal configured (set journal.path)")
			}

			store, err := journal.Open(f.Journal.Path, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			var entries []journal.Entry

			if exhausted {
				entries, err = store.Exhaustions(cmd.Context())
			} else {
				name := ""
				if len(args) == 1 {
					name = args[0]
				}

				entries, err = store.Entries(cmd.Context(), name, limit)
			}

			if err != nil {
				return err
			}

			if flags.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tENDPOINT\tKIND\tDETAIL\tCAUSE")

			for _, e := range entries {
				detail := e.From + " -> " + e.To

				switch e.Kind {
				case journal.KindExhaustion:
					detail = fmt.Sprintf("%d attempts", e.Attempts)
				case journal.KindProbeFailure:
					detail = "-"
				}

				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Endpoint, e.Kind, detail, e.Cause)
			}

			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n entries")
	cmd.Flags().BoolVar(&exhausted, "exhausted", false, "only abandoned endpoints")

	return cmd
}
