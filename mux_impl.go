package stdiomux

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wagiedev/stdiomux/internal/mux"
)

// muxWrapper adapts the internal manager to the public interface.
type muxWrapper struct {
	mu     sync.Mutex
	impl   *mux.Manager
	closed bool
}

// Compile-time check that *muxWrapper implements the Mux interface.
var _ Mux = (*muxWrapper)(nil)

func newMuxImpl() Mux {
	return &muxWrapper{}
}

func (m *muxWrapper) manager() (*mux.Manager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMuxClosed
	}

	if m.impl == nil {
		return nil, ErrMuxNotStarted
	}

	return m.impl, nil
}

// Start builds the manager from opts and connects every endpoint.
func (m *muxWrapper) Start(ctx context.Context, opts ...Option) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return ErrMuxClosed
	}

	if m.impl != nil {
		m.mu.Unlock()

		return ErrMuxAlreadyStarted
	}

	impl, err := mux.New(applyOptions(opts))
	if err != nil {
		m.mu.Unlock()

		return err
	}

	m.impl = impl
	m.mu.Unlock()

	return impl.Start(ctx)
}

func (m *muxWrapper) Execute(ctx context.Context, steps []Step, mode Mode) ([]Result, error) {
	impl, err := m.manager()
	if err != nil {
		return nil, err
	}

	return impl.Execute(ctx, steps, mode)
}

func (m *muxWrapper) Call(
	ctx context.Context,
	endpoint, method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	impl, err := m.manager()
	if err != nil {
		return nil, err
	}

	return impl.Call(ctx, endpoint, method, params, timeout)
}

func (m *muxWrapper) Status() []EndpointStatus {
	impl, err := m.manager()
	if err != nil {
		return nil
	}

	return impl.Status()
}

func (m *muxWrapper) CheckHealth(ctx context.Context, name string) ([]ProbeResult, error) {
	impl, err := m.manager()
	if err != nil {
		return nil, err
	}

	return impl.CheckHealth(ctx, name)
}

func (m *muxWrapper) HealthStats(name string) (HealthStats, error) {
	impl, err := m.manager()
	if err != nil {
		return HealthStats{}, err
	}

	return impl.HealthStats(name)
}

func (m *muxWrapper) ListTools(ctx context.Context, name string, refresh bool) ([]*Tool, error) {
	impl, err := m.manager()
	if err != nil {
		return nil, err
	}

	return impl.ListTools(ctx, name, refresh)
}

func (m *muxWrapper) Exhaustions(ctx context.Context) ([]JournalEntry, error) {
	impl, err := m.manager()
	if err != nil {
		return nil, err
	}

	return impl.Exhaustions(ctx)
}

// Close is idempotent.
func (m *muxWrapper) Close() error {
	m.mu.Lock()
	m.closed = true
	impl := m.impl
	m.mu.Unlock()

	if impl == nil {
		return nil
	}

	return impl.Close()
}
