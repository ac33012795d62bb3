// Package health probes endpoints on a schedule and on demand.
//
// Each target gets its own ticker goroutine, so a probe that hangs until
// its timeout never delays the probes of other targets.
package health

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/stdiomux/internal/errors"
	"github.com/wagiedev/stdiomux/internal/tracing"
)

// Target is something that can be pinged. Probe returns
// errors.ErrEndpointNotAvailable when the target is not Ready; such a probe
// is skipped rather than counted as a failure.
type Target interface {
	Name() string
	Probe(ctx context.Context, timeout time.Duration) error
}

// Result is the outcome of one probe.
type Result struct {
	Endpoint string        `json:"endpoint"`
	OK       bool          `json:"ok"`
	Skipped  bool          `json:"skipped,omitempty"`
	Latency  time.Duration `json:"latency"`
	Error    string        `json:"error,omitempty"`

	Err error `json:"-"`
}

// Stats are the running counters of one target.
type Stats struct {
	Probes      int64         `json:"probes"`
	Failures    int64         `json:"failures"`
	LastLatency time.Duration `json:"last_latency"`
}

type counters struct {
	probes      atomic.Int64
	failures    atomic.Int64
	lastLatency atomic.Int64
}

type target struct {
	Target

	interval time.Duration
	timeout  time.Duration
	counters counters
}

// Monitor schedules probes.
type Monitor struct {
	log *slog.Logger

	mu      sync.RWMutex
	targets []*target
	byName  map[string]*target

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewMonitor creates a monitor with no targets.
func NewMonitor(log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Monitor{
		log:    log.With("component", "health"),
		byName: make(map[string]*target),
	}
}

// Add registers t with its own probe interval and timeout. Targets added
// after Start are not scheduled until the next Start.
func (m *Monitor) Add(t Target, interval, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tg := &target{Target: t, interval: interval, timeout: timeout}
	m.targets = append(m.targets, tg)
	m.byName[t.Name()] = tg
}

// Start launches one probe loop per target. It is a no-op when already
// running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	for _, tg := range m.targets {
		m.wg.Go(func() { m.loop(ctx, tg) })
	}

	m.log.Debug("Health monitor started", "targets", len(m.targets))
}

// Stop ends every probe loop and waits for in-flight probes.
func (m *Monitor) Stop() {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()

		return
	}

	m.running = false
	m.cancel()

	m.mu.Unlock()

	m.wg.Wait()

	m.log.Debug("Health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, tg *target) {
	ticker := time.NewTicker(tg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, tg)
		}
	}
}

// probe runs one probe and updates the counters.
func (m *Monitor) probe(ctx context.Context, tg *target) Result {
	name := tg.Name()

	ctx, span := tracing.StartSpan(ctx, tracing.SpanProbe, attribute.String("endpoint", name))

	start := time.Now()
	err := tg.Probe(ctx, tg.timeout)
	latency := time.Since(start)

	res := Result{Endpoint: name, Latency: latency, Err: err}

	switch {
	case err == nil:
		res.OK = true

		tg.counters.probes.Add(1)
		tg.counters.lastLatency.Store(int64(latency))

		m.log.Debug("Probe ok", "endpoint", name, "latency", latency)
		tracing.End(span, nil)
	case stderrors.Is(err, errors.ErrEndpointNotAvailable):
		res.Skipped = true
		res.Error = err.Error()

		span.SetAttributes(attribute.Bool("skipped", true))
		tracing.End(span, nil)
	case ctx.Err() != nil:
		// Shutdown, not a verdict on the target.
		res.Error = err.Error()

		tracing.End(span, err)
	default:
		res.Error = err.Error()

		tg.counters.probes.Add(1)
		tg.counters.failures.Add(1)
		tg.counters.lastLatency.Store(int64(latency))

		m.log.Warn("Probe failed", "endpoint", name, "latency", latency, "error", err)
		tracing.End(span, err)
	}

	return res
}

// ProbeAll probes every target concurrently and returns the results in the
// order targets were added.
func (m *Monitor) ProbeAll(ctx context.Context) []Result {
	m.mu.RLock()
	targets := append([]*target(nil), m.targets...)
	m.mu.RUnlock()

	results := make([]Result, len(targets))

	var g errgroup.Group

	for i, tg := range targets {
		g.Go(func() error {
			results[i] = m.probe(ctx, tg)

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// Probe probes the named target now.
func (m *Monitor) Probe(ctx context.Context, name string) (Result, error) {
	m.mu.RLock()
	tg, ok := m.byName[name]
	m.mu.RUnlock()

	if !ok {
		return Result{}, fmt.Errorf("%w: %s", errors.ErrEndpointNotFound, name)
	}

	return m.probe(ctx, tg), nil
}

// Stats returns the counters of the named target.
func (m *Monitor) Stats(name string) (Stats, bool) {
	m.mu.RLock()
	tg, ok := m.byName[name]
	m.mu.RUnlock()

	if !ok {
		return Stats{}, false
	}

	return Stats{
		Probes:      tg.counters.probes.Load(),
		Failures:    tg.counters.failures.Load(),
		LastLatency: time.Duration(tg.counters.lastLatency.Load()),
	}, true
}
