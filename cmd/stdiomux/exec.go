package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wagiedev/stdiomux/internal/fanout"
)

// stepSpec is a step as written in a steps file.
type stepSpec struct {
	ID        string         `json:"id"`
	Endpoint  string         `json:"endpoint"`
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
	Timeout   string         `json:"timeout"`
}

// parseSteps reads a JSON array of steps. Timeouts are duration strings
// such as "5s".
func parseSteps(r io.Reader) ([]fanout.Step, error) {
	var specs []stepSpec
	if err := json.NewDecoder(r).Decode(&specs); err != nil {
		return nil, fmt.Errorf("decoding steps: %w", err)
	}

	steps := make([]fanout.Step, 0, len(specs))

	for i, spec := range specs {
		if spec.Endpoint == "" || spec.Method == "" {
			return nil, fmt.Errorf("step %d: endpoint and method are required", i)
		}

		step := fanout.Step{
			ID:        spec.ID,
			Endpoint:  spec.Endpoint,
			Method:    spec.Method,
			Arguments: spec.Arguments,
		}

		if spec.Timeout != "" {
			d, err := time.ParseDuration(spec.Timeout)
			if err != nil {
				return nil, fmt.Errorf("step %d: timeout: %w", i, err)
			}

			step.Timeout = d
		}

		steps = append(steps, step)
	}

	return steps, nil
}

func newExecCmd(flags *globalFlags) *cobra.Command {
	var (
		stepsPath  string
		sequential bool
	)

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a batch of steps and print one result per step",
		Long: `exec reads a JSON array of steps and runs them as tools/call requests:

  [
    {"id": "1", "endpoint": "alpha", "method": "search", "arguments": {"q": "go"}, "timeout": "5s"},
    {"id": "2", "endpoint": "beta", "method": "summarize"}
  ]

Steps run in parallel unless --sequential is set. Results are printed as JSON
in step order. Use "-" to read steps from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()

			if stepsPath != "-" {
				f, err := os.Open(stepsPath)
				if err != nil {
					return fmt.Errorf("opening steps file: %w", err)
				}
				defer f.Close()

				in = f
			}

			steps, err := parseSteps(in)
			if err != nil {
				return err
			}

			mode := fanout.Parallel
			if sequential {
				mode = fanout.Sequential
			}

			s, err := openSession(cmd.Context(), flags, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := s.mux.Execute(cmd.Context(), steps, mode)
			if err != nil {
				return err
			}

			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}

			failed := 0

			for i := range results {
				if !results[i].OK() {
					failed++
				}
			}

			summary := fmt.Sprintf("%d steps, %d failed", len(results), failed)
			if failed > 0 {
				summary = color.YellowString(summary)
			}

			fmt.Fprintln(cmd.ErrOrStderr(), summary)

			return nil
		},
	}

	cmd.Flags().StringVarP(&stepsPath, "steps", "f", "-", "steps file, or - for stdin")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "run steps one at a time")

	return cmd
}
