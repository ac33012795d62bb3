package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Attach every endpoint and keep them healthy until interrupted",
		Long: `serve attaches every configured endpoint, runs the health monitor and
reconnects endpoints that fail, until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)

			out := cmd.OutOrStdout()

			fmt.Fprintln(out, color.CyanString("stdiomux"), gray.Sprintf("version %s", Version))

			s, err := openSession(ctx, flags, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(out, "%s Config:    %s\n", green.Sprint("▶"), flags.configPath)
			fmt.Fprintf(out, "%s Endpoints: %d\n", green.Sprint("▶"), len(s.mux.Names()))

			if s.file.Journal.Path != "" {
				fmt.Fprintf(out, "%s Journal:   %s\n", green.Sprint("▶"), s.file.Journal.Path)
			}

			fmt.Fprintln(out)
			printStatus(out, s.mux.Status())

			s.log.Info("Serving", "endpoints", len(s.mux.Names()))

			<-ctx.Done()

			fmt.Fprintln(out, gray.Sprint("Shutting down"))

			return nil
		},
	}
}
