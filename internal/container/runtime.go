// Package container implements the container-engine boundary on top of a
// local Docker (or Podman) engine.
//
// Liveness is read through the Docker Engine API; processes are attached by
// running "<engine> exec -i" as a child process so that stdin, stdout and
// stderr are three independent pipes.
package container

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"

	"github.com/wagiedev/stdiomux/internal/cli"
	"github.com/wagiedev/stdiomux/internal/config"
)

// Inspector is the subset of the Docker client used for liveness checks.
type Inspector interface {
	ContainerInspect(ctx context.Context, container string) (types.ContainerJSON, error)
}

// Options configures the engine runtime.
type Options struct {
	Logger *slog.Logger

	// Engine is "docker" or "podman". Empty searches both.
	Engine string

	// EnginePath is an explicit path to the engine binary.
	EnginePath string

	// DockerHost overrides DOCKER_HOST for both the API client and the CLI.
	DockerHost string

	// Inspector replaces the Docker API client. Mostly useful in tests.
	Inspector Inspector
}

// Runtime implements config.Runtime.
type Runtime struct {
	log        *slog.Logger
	enginePath string
	dockerHost string
	inspector  Inspector

	// client is set only when New created the API client itself.
	client    *client.Client
	closeOnce sync.Once
	closeErr  error
}

// Compile-time verification that Runtime implements config.Runtime.
var _ config.Runtime = (*Runtime)(nil)

// New discovers the engine binary and connects the API client.
//
// When no Docker API is reachable (for example under Podman without its
// compatibility socket), liveness falls back to "<engine> inspect".
func New(ctx context.Context, opts Options) (*Runtime, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	log = log.With("component", "container_runtime")

	enginePath, err := cli.NewDiscoverer(&cli.Config{
		EnginePath: opts.EnginePath,
		Engine:     opts.Engine,
		Logger:     log,
	}).Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover engine: %w", err)
	}

	r := &Runtime{
		log:        log,
		enginePath: enginePath,
		dockerHost: opts.DockerHost,
		inspector:  opts.Inspector,
	}

	if r.inspector == nil && opts.Engine != "podman" {
		clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if opts.DockerHost != "" {
			clientOpts = append(clientOpts, client.WithHost(opts.DockerHost))
		}

		dockerClient, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			log.Warn("Docker API client unavailable, using engine CLI for inspection", "error", err)
		} else {
			r.inspector = dockerClient
			r.client = dockerClient
		}
	}

	return r, nil
}

// Close releases the Docker API client created by New. An Inspector passed
// in Options belongs to the caller and is left open. Attached processes are
// not affected.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		if r.client != nil {
			r.closeErr = r.client.Close()
		}
	})

	return r.closeErr
}

// EnginePath returns the discovered engine binary.
func (r *Runtime) EnginePath() string {
	return r.enginePath
}

// IsContainerRunning reports whether the named container is running.
// A container that does not exist is reported as not running.
func (r *Runtime) IsContainerRunning(ctx context.Context, name string) (bool, error) {
	if r.inspector == nil {
		return r.inspectViaCLI(ctx, name)
	}

	info, err := r.inspector.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			r.log.Debug("Container not found", "container", name)

			return false, nil
		}

		return false, fmt.Errorf("inspect container %s: %w", name, err)
	}

	if info.ContainerJSONBase == nil || info.State == nil {
		return false, nil
	}

	return info.State.Running, nil
}

func (r *Runtime) inspectViaCLI(ctx context.Context, name string) (bool, error) {
	//nolint:gosec // G204: engine path comes from discovery
	cmd := exec.CommandContext(ctx, r.enginePath, "inspect", "-f", "{{.State.Running}}", name)
	cmd.Env = cli.BuildEnvironment(os.Environ(), r.dockerHost)

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
			r.log.Debug("Engine inspect failed", "container", name, "stderr", string(exitErr.Stderr))

			return false, nil
		}

		return false, fmt.Errorf("inspect container %s: %w", name, err)
	}

	return strings.TrimSpace(string(out)) == "true", nil
}

// SpawnAttached starts command inside the container. The process is not tied
// to ctx: it lives until Kill is called or it exits on its own.
func (r *Runtime) SpawnAttached(
	ctx context.Context,
	container, workdir string,
	command []string,
) (config.AttachedProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := cli.BuildExecArgs(container, workdir, command)
	r.log.Debug("Attaching process", "container", container, "args", args)

	//nolint:gosec // G204: subprocess launching with configured args is the purpose of this runtime
	cmd := exec.Command(r.enginePath, args...)
	cmd.Env = cli.BuildEnvironment(os.Environ(), r.dockerHost)

	return startCommand(cmd)
}

// cmdProcess adapts an exec.Cmd to config.AttachedProcess.
type cmdProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	killOnce sync.Once
	killErr  error
}

// startCommand wires three pipes and starts cmd.
func startCommand(cmd *exec.Cmd) (*cmdProcess, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	return &cmdProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func (p *cmdProcess) Stdin() io.WriteCloser  { return p.stdin }
func (p *cmdProcess) Stdout() io.ReadCloser  { return p.stdout }
func (p *cmdProcess) Stderr() io.ReadCloser  { return p.stderr }
func (p *cmdProcess) Pid() int               { return p.cmd.Process.Pid }
func (p *cmdProcess) Wait() error            { return p.cmd.Wait() }

// Kill sends SIGKILL to the engine client process; the engine then tears
// down the exec session inside the container.
func (p *cmdProcess) Kill() error {
	p.killOnce.Do(func() {
		_ = p.stdin.Close()

		if err := p.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			p.killErr = fmt.Errorf("kill process (pid %d): %w", p.cmd.Process.Pid, err)
		}
	})

	return p.killErr
}
