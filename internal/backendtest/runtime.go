package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/wagiedev/stdiomux/internal/config"
)

// Runtime is an in-memory config.Runtime. Every container named at
// construction starts out running.
type Runtime struct {
	mu         sync.Mutex
	running    map[string]bool
	inspectErr map[string]error
	spawnErr   error
	onSpawn    func(*Backend)
	backends   map[string][]*Backend
	nextPid    int
}

// Compile-time verification that Runtime implements config.Runtime.
var _ config.Runtime = (*Runtime)(nil)

// NewRuntime creates a runtime with the given containers running.
func NewRuntime(containers ...string) *Runtime {
	r := &Runtime{
		running:    make(map[string]bool, len(containers)),
		inspectErr: make(map[string]error),
		backends:   make(map[string][]*Backend),
		nextPid:    1000,
	}

	for _, c := range containers {
		r.running[c] = true
	}

	return r
}

// SetRunning marks a container as running or stopped.
func (r *Runtime) SetRunning(container string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running[container] = running
}

// SetInspectError makes liveness checks for container fail with err.
func (r *Runtime) SetInspectError(container string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inspectErr[container] = err
}

// FailSpawn makes every following spawn fail with err. A nil err clears it.
func (r *Runtime) FailSpawn(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.spawnErr = err
}

// OnSpawn registers fn to configure each new backend before it starts
// serving.
func (r *Runtime) OnSpawn(fn func(*Backend)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onSpawn = fn
}

// Backends returns every backend spawned in container, oldest first.
func (r *Runtime) Backends(container string) []*Backend {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*Backend(nil), r.backends[container]...)
}

// Latest returns the most recently spawned backend in container, or nil.
func (r *Runtime) Latest(container string) *Backend {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.backends[container]
	if len(list) == 0 {
		return nil
	}

	return list[len(list)-1]
}

// Spawns returns how many backends were spawned in container.
func (r *Runtime) Spawns(container string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.backends[container])
}

// Close kills every backend.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, list := range r.backends {
		for _, b := range list {
			_ = b.Kill()
		}
	}
}

// IsContainerRunning implements config.Runtime.
func (r *Runtime) IsContainerRunning(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.inspectErr[name]; err != nil {
		return false, err
	}

	return r.running[name], nil
}

// SpawnAttached implements config.Runtime.
func (r *Runtime) SpawnAttached(
	ctx context.Context,
	container, _ string,
	command []string,
) (config.AttachedProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()

	if r.spawnErr != nil {
		err := r.spawnErr
		r.mu.Unlock()

		return nil, err
	}

	if !r.running[container] {
		r.mu.Unlock()

		return nil, fmt.Errorf("container %s is not running", container)
	}

	r.nextPid++
	b := NewBackend(container, r.nextPid)
	b.Command = command
	r.backends[container] = append(r.backends[container], b)
	onSpawn := r.onSpawn

	r.mu.Unlock()

	if onSpawn != nil {
		onSpawn(b)
	}

	b.Serve()

	return b, nil
}
