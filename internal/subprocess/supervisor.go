package subprocess

import (
	"context"
	"log/slog"

	"github.com/wagiedev/stdiomux/internal/config"
	"github.com/wagiedev/stdiomux/internal/errors"
)

// StderrSink receives each stderr line of a backend, tagged with its endpoint.
type StderrSink func(endpoint, line string)

// Supervisor attaches backend processes through a container runtime.
type Supervisor struct {
	log     *slog.Logger
	runtime config.Runtime
	stderr  StderrSink
}

// NewSupervisor creates a Supervisor. stderr may be nil, in which case
// backend stderr is logged at debug level.
func NewSupervisor(log *slog.Logger, runtime config.Runtime, stderr StderrSink) *Supervisor {
	return &Supervisor{
		log:     log.With("component", "supervisor"),
		runtime: runtime,
		stderr:  stderr,
	}
}

// EnsureRunning returns ContainerUnavailableError unless the container is
// running.
func (s *Supervisor) EnsureRunning(ctx context.Context, container string) error {
	running, err := s.runtime.IsContainerRunning(ctx, container)
	if err != nil {
		return &errors.ContainerUnavailableError{Container: container, Err: err}
	}

	if !running {
		return &errors.ContainerUnavailableError{Container: container}
	}

	return nil
}

// Attach starts the endpoint's command inside its container.
//
// The container check runs first, so a stopped container fails with
// ContainerUnavailableError before anything is spawned. A runtime failure
// to start the command is returned as SpawnError.
func (s *Supervisor) Attach(ctx context.Context, ep config.EndpointConfig) (*Process, error) {
	log := s.log.With("endpoint", ep.Name, "container", ep.Container)

	if err := s.EnsureRunning(ctx, ep.Container); err != nil {
		log.Warn("Container unavailable", "error", err)

		return nil, err
	}

	proc, err := s.runtime.SpawnAttached(ctx, ep.Container, ep.WorkDir, ep.Command)
	if err != nil {
		log.Error("Failed to spawn backend", "error", err)

		return nil, &errors.SpawnError{Endpoint: ep.Name, Err: err}
	}

	log.Info("Backend process attached", "pid", proc.Pid())

	var sink func(string)
	if s.stderr != nil {
		sink = func(line string) { s.stderr(ep.Name, line) }
	}

	return newProcess(log, ep.Name, proc, sink), nil
}
