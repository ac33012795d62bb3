package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wagiedev/stdiomux/internal/endpoint"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Attach every endpoint once and print its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), flags, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			status := s.mux.Status()

			if flags.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), status)
			}

			printStatus(cmd.OutOrStdout(), status)

			return nil
		},
	}
}

// stateColor picks the color a state is printed in.
func stateColor(s endpoint.State) *color.Color {
	switch s {
	case endpoint.StateReady:
		return color.New(color.FgGreen)
	case endpoint.StateConnecting, endpoint.StateHandshaking, endpoint.StateDegraded, endpoint.StateReconnecting:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func printStatus(w io.Writer, status []endpoint.Status) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tCONTAINER\tSTATE\tPID\tSERVER\tLAST HEALTH\tLAST ERROR")

	for _, st := range status {
		server := "-"
		if st.ServerName != "" {
			server = st.ServerName + " " + st.ServerVersion
		}

		health := "-"
		if !st.LastHealthCheck.IsZero() {
			health = time.Since(st.LastHealthCheck).Round(time.Second).String() + " ago"
		}

		pid := "-"
		if st.Pid != 0 {
			pid = fmt.Sprint(st.Pid)
		}

		lastErr := st.LastError
		if lastErr == "" {
			lastErr = "-"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Name, st.Container, stateColor(st.State).Sprint(st.StateName), pid, server, health, lastErr)
	}

	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
