package config

import (
	"context"
	"io"
)

// Runtime is the container-engine boundary. Implement this to attach
// processes through something other than the local Docker engine, or to
// inject in-memory backends in tests.
type Runtime interface {
	// IsContainerRunning reports whether the named container is running.
	// An error means the engine could not be asked, not that the container
	// is stopped.
	IsContainerRunning(ctx context.Context, name string) (bool, error)

	// SpawnAttached starts command inside the container with stdin, stdout
	// and stderr piped independently. workdir may be empty.
	SpawnAttached(ctx context.Context, container, workdir string, command []string) (AttachedProcess, error)
}

// AttachedProcess is a running process with three independent streams.
type AttachedProcess interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser

	// Pid returns the local process id, or 0 if there is none.
	Pid() int

	// Wait blocks until the process exits. It must be called at most once,
	// after Stdout and Stderr have been drained.
	Wait() error

	// Kill terminates the process. It is safe to call more than once.
	Kill() error
}
