package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wagiedev/stdiomux/internal/config"
	"github.com/wagiedev/stdiomux/internal/container"
	"github.com/wagiedev/stdiomux/internal/logging"
	"github.com/wagiedev/stdiomux/internal/mux"
	"github.com/wagiedev/stdiomux/internal/tracing"
)

// Version is set at build time with -ldflags.
var Version = "0.0.0-dev"

// newRuntime builds the container runtime. Tests replace it.
var newRuntime = func(ctx context.Context, f *config.File, log *slog.Logger) (config.Runtime, error) {
	return container.New(ctx, container.Options{
		Logger:     log,
		Engine:     f.Runtime.Engine,
		EnginePath: f.Runtime.EnginePath,
		DockerHost: f.Runtime.DockerHost,
	})
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

// newRootCmd builds the command tree. Each call returns an independent
// tree with its own flag values.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "stdiomux",
		Short: "Multiplex JSON-RPC calls over stdio backends in containers",
		Long: `stdiomux attaches to JSON-RPC 2.0 backends running inside already-running
containers, keeps them healthy, and runs batches of tool calls across them.

Endpoints are read from a YAML file (--config, or $STDIOMUX_CONFIG).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	defaultConfig := os.Getenv("STDIOMUX_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "stdiomux.yaml"
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfig, "path to the configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newServeCmd(flags),
		newStatusCmd(flags),
		newHealthCmd(flags),
		newToolsCmd(flags),
		newExecCmd(flags),
		newJournalCmd(flags),
	)

	return root
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// session is a started manager plus everything that must be torn down
// with it.
type session struct {
	mux     *mux.Manager
	file    *config.File
	log     *slog.Logger
	cleanup []func()
}

func (s *session) Close() {
	if err := s.mux.Close(); err != nil {
		s.log.Warn("Failed to close mux", "error", err)
	}

	s.runCleanup()
}

func (s *session) runCleanup() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// openSession loads the config, wires logging, tracing and the runtime,
// and starts every endpoint. Endpoints that fail to attach are reported on
// stderr and do not abort the command.
func openSession(ctx context.Context, flags *globalFlags, stderr io.Writer, monitor bool) (*session, error) {
	f, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	if flags.logLevel != "" {
		f.Logging.Level = flags.logLevel
	}

	log, closeLog, err := logging.New(f.Logging)
	if err != nil {
		return nil, err
	}

	s := &session{file: f, log: log, cleanup: []func(){func() { _ = closeLog() }}}

	shutdownTracing, err := tracing.Setup(ctx, f.Tracing)
	if err != nil {
		s.runCleanup()

		return nil, err
	}

	s.cleanup = append(s.cleanup, func() { _ = shutdownTracing(context.Background()) })

	runtime, err := newRuntime(ctx, f, log)
	if err != nil {
		s.runCleanup()

		return nil, err
	}

	if closer, ok := runtime.(io.Closer); ok {
		s.cleanup = append(s.cleanup, func() {
			if err := closer.Close(); err != nil {
				log.Warn("Failed to close container runtime", "error", err)
			}
		})
	}

	opts := f.Options()
	opts.Logger = log
	opts.Runtime = runtime
	opts.DisableHealthMonitor = opts.DisableHealthMonitor || !monitor

	m, err := mux.New(opts)
	if err != nil {
		s.runCleanup()

		return nil, err
	}

	s.mux = m

	if err := m.Start(ctx); err != nil {
		fmt.Fprintln(stderr, color.YellowString("Warning:"), err)
	}

	return s, nil
}
