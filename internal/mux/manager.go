// Package mux owns the set of endpoints and exposes the operations callers
// use: execute a batch, list endpoint status, probe health and list tools.
package mux

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/stdiomux/internal/config"
	"github.com/wagiedev/stdiomux/internal/container"
	"github.com/wagiedev/stdiomux/internal/endpoint"
	"github.com/wagiedev/stdiomux/internal/errors"
	"github.com/wagiedev/stdiomux/internal/fanout"
	"github.com/wagiedev/stdiomux/internal/health"
	"github.com/wagiedev/stdiomux/internal/journal"
	"github.com/wagiedev/stdiomux/internal/subprocess"
)

// Manager is the single owner of every endpoint. Nothing outside it holds
// an endpoint across calls; lookups always go through Get or Route.
type Manager struct {
	log     *slog.Logger
	options *config.Options

	endpoints map[string]*endpoint.Endpoint
	order     []string

	monitor  *health.Monitor
	executor *fanout.Executor
	journal  *journal.Store

	// ownedRuntime is the container runtime built by Start when none was
	// configured; Close releases it.
	ownedRuntime *container.Runtime

	mu        sync.Mutex
	started   bool
	closed    bool
	closeOnce sync.Once
}

// Compile-time verification that Manager routes fan-out steps.
var _ fanout.Router = (*Manager)(nil)

// New validates options and creates a manager. Nothing is attached until
// Start.
func New(options *config.Options) (*Manager, error) {
	opts := options.WithDefaults()

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
		opts.Logger = log
	}

	m := &Manager{
		log:       log.With("component", "mux"),
		options:   opts,
		endpoints: make(map[string]*endpoint.Endpoint, len(opts.Endpoints)),
		order:     make([]string, 0, len(opts.Endpoints)),
		monitor:   health.NewMonitor(log),
	}

	m.executor = fanout.NewExecutor(m, fanout.Options{
		Logger:            log,
		ValidateArguments: opts.ValidateArguments,
		MaxConcurrency:    opts.MaxConcurrency,
	})

	return m, nil
}

// Start connects every endpoint concurrently and starts the health
// monitor.
//
// Endpoints that fail their first attach are left Disconnected and their
// errors joined into the returned error; the others keep running, so a
// non-nil error does not mean the manager is unusable.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return errors.ErrMuxClosed
	}

	if m.started {
		m.mu.Unlock()

		return errors.ErrMuxAlreadyStarted
	}

	if err := m.buildLocked(ctx); err != nil {
		m.mu.Unlock()

		return err
	}

	m.started = true
	endpoints := m.snapshotLocked()

	m.mu.Unlock()

	m.log.Info("Starting endpoints", "count", len(endpoints))

	startErrs := make([]error, len(endpoints))

	var g errgroup.Group

	for i, ep := range endpoints {
		g.Go(func() error {
			if err := ep.Start(ctx); err != nil {
				m.log.Warn("Endpoint failed to start", "endpoint", ep.Name(), "error", err)
				startErrs[i] = fmt.Errorf("endpoint %s: %w", ep.Name(), err)
			}

			return nil
		})
	}

	_ = g.Wait()

	m.mu.Lock()
	if !m.closed && !m.options.DisableHealthMonitor {
		m.monitor.Start(context.Background())
	}
	m.mu.Unlock()

	m.log.Info("Mux started")

	return stderrors.Join(startErrs...)
}

// buildLocked resolves the runtime, opens the journal and creates the
// endpoints.
func (m *Manager) buildLocked(ctx context.Context) error {
	runtime := m.options.Runtime
	if runtime == nil {
		rt, err := container.New(ctx, container.Options{Logger: m.options.Logger})
		if err != nil {
			return fmt.Errorf("create container runtime: %w", err)
		}

		m.ownedRuntime = rt
		runtime = rt
	}

	var recorder endpoint.Recorder

	if m.options.JournalPath != "" {
		store, err := journal.Open(m.options.JournalPath, m.options.Logger)
		if err != nil {
			m.closeOwnedRuntime()

			return fmt.Errorf("open journal: %w", err)
		}

		m.journal = store
		recorder = store
	}

	supervisor := subprocess.NewSupervisor(m.options.Logger, runtime, m.options.Stderr)

	for _, cfg := range m.options.Endpoints {
		ep := endpoint.New(endpoint.Options{
			Logger:           m.options.Logger,
			Config:           cfg,
			Supervisor:       supervisor,
			Backoff:          endpoint.NewBackoff(m.options.Backoff),
			CallTimeout:      m.options.CallTimeoutFor(cfg),
			HandshakeTimeout: m.options.HandshakeTimeout,
			ProtocolVersion:  m.options.ProtocolVersion,
			ClientName:       m.options.ClientInfo.Name,
			ClientVersion:    m.options.ClientInfo.Version,
			Recorder:         recorder,
			PrefetchTools:    true,
		})

		m.endpoints[cfg.Name] = ep
		m.order = append(m.order, cfg.Name)
		m.monitor.Add(ep, m.options.HealthIntervalFor(cfg), m.options.HealthTimeoutFor(cfg))
	}

	return nil
}

func (m *Manager) closeOwnedRuntime() {
	if m.ownedRuntime == nil {
		return
	}

	if err := m.ownedRuntime.Close(); err != nil {
		m.log.Warn("Failed to close container runtime", "error", err)
	}

	m.ownedRuntime = nil
}

func (m *Manager) snapshotLocked() []*endpoint.Endpoint {
	out := make([]*endpoint.Endpoint, 0, len(m.order))

	for _, name := range m.order {
		out = append(out, m.endpoints[name])
	}

	return out
}

func (m *Manager) snapshot() []*endpoint.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotLocked()
}

func (m *Manager) lookup(name string) (*endpoint.Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, ok := m.endpoints[name]

	return ep, ok
}

// checkRunning returns ErrMuxNotStarted or ErrMuxClosed when the manager
// cannot serve calls.
func (m *Manager) checkRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.ErrMuxClosed
	}

	if !m.started {
		return errors.ErrMuxNotStarted
	}

	return nil
}

// Get returns the named endpoint.
func (m *Manager) Get(name string) (*endpoint.Endpoint, error) {
	if err := m.checkRunning(); err != nil {
		return nil, err
	}

	ep, ok := m.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrEndpointNotFound, name)
	}

	return ep, nil
}

// Route implements fanout.Router: only Ready endpoints are routable.
func (m *Manager) Route(name string) (fanout.Target, bool) {
	ep, ok := m.lookup(name)
	if !ok || ep.State() != endpoint.StateReady {
		return nil, false
	}

	return ep, true
}

// Names returns the endpoint names in configuration order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.order...)
}

// Status lists every endpoint in configuration order.
func (m *Manager) Status() []endpoint.Status {
	endpoints := m.snapshot()
	out := make([]endpoint.Status, 0, len(endpoints))

	for _, ep := range endpoints {
		out = append(out, ep.Status())
	}

	return out
}

// Call issues a raw JSON-RPC call on the named endpoint. A zero timeout
// uses the endpoint's call timeout.
func (m *Manager) Call(
	ctx context.Context,
	name, method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	ep, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	return ep.Call(ctx, method, params, timeout)
}

// Execute runs a batch of steps. It returns exactly one result per step.
func (m *Manager) Execute(ctx context.Context, steps []fanout.Step, mode fanout.Mode) ([]fanout.Result, error) {
	if err := m.checkRunning(); err != nil {
		return nil, err
	}

	return m.executor.Execute(ctx, steps, mode), nil
}

// CheckHealth probes one endpoint now, or every endpoint when name is
// empty. Failures move endpoints to Degraded exactly as scheduled probes do.
func (m *Manager) CheckHealth(ctx context.Context, name string) ([]health.Result, error) {
	if err := m.checkRunning(); err != nil {
		return nil, err
	}

	if name == "" {
		return m.monitor.ProbeAll(ctx), nil
	}

	res, err := m.monitor.Probe(ctx, name)
	if err != nil {
		return nil, err
	}

	return []health.Result{res}, nil
}

// HealthStats returns the probe counters of the named endpoint.
func (m *Manager) HealthStats(name string) (health.Stats, error) {
	stats, ok := m.monitor.Stats(name)
	if !ok {
		return health.Stats{}, fmt.Errorf("%w: %s", errors.ErrEndpointNotFound, name)
	}

	return stats, nil
}

// ListTools returns the tools of the named endpoint, fetching them from
// the live connection when refresh is set or nothing is cached.
func (m *Manager) ListTools(ctx context.Context, name string, refresh bool) ([]*mcp.Tool, error) {
	ep, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	catalog, err := ep.Tools(ctx, refresh)
	if err != nil {
		return nil, err
	}

	return catalog.Tools(), nil
}

// Exhaustions lists abandoned endpoints. With a journal it returns the
// full history; otherwise it reports the endpoints abandoned in this run.
func (m *Manager) Exhaustions(ctx context.Context) ([]journal.Entry, error) {
	if store := m.Journal(); store != nil {
		return store.Exhaustions(ctx)
	}

	var out []journal.Entry

	for _, st := range m.Status() {
		if st.Exhausted {
			out = append(out, journal.Entry{
				Endpoint: st.Name,
				Kind:     journal.KindExhaustion,
				Attempts: st.Attempts,
				Cause:    st.LastError,
			})
		}
	}

	return out, nil
}

// Journal returns the lifecycle journal, or nil when it is disabled.
func (m *Manager) Journal() *journal.Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.journal
}

// Close stops the health monitor and shuts down every endpoint. Pending
// calls fail with TransportClosed. Close is idempotent.
func (m *Manager) Close() error {
	var closeErr error

	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		wasStarted := m.started
		m.started = false
		m.mu.Unlock()

		if !wasStarted {
			return
		}

		m.log.Info("Closing mux")

		m.monitor.Stop()

		var wg sync.WaitGroup

		for _, ep := range m.snapshot() {
			wg.Go(ep.Close)
		}

		wg.Wait()

		if m.journal != nil {
			closeErr = m.journal.Close()
		}

		m.mu.Lock()
		m.closeOwnedRuntime()
		m.mu.Unlock()

		m.log.Info("Mux closed")
	})

	return closeErr
}
