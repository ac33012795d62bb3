package health

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/stdiomux/internal/errors"
)

type fakeTarget struct {
	name  string
	calls atomic.Int32

	mu    sync.Mutex
	err   error
	delay time.Duration
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) Probe(ctx context.Context, timeout time.Duration) error {
	f.calls.Add(1)

	f.mu.Lock()
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(min(delay, timeout)):
		case <-ctx.Done():
			return ctx.Err()
		}

		if delay >= timeout {
			return &errors.RPCTimeoutError{Method: "ping", Timeout: timeout}
		}
	}

	return err
}

func (f *fakeTarget) set(err error, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.err, f.delay = err, delay
}

func TestMonitor_ScheduledProbes(t *testing.T) {
	m := NewMonitor(nil)
	alpha := &fakeTarget{name: "alpha"}
	m.Add(alpha, 10*time.Millisecond, time.Second)

	m.Start(context.Background())
	m.Start(context.Background())

	require.Eventually(t, func() bool { return alpha.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()

	after := alpha.calls.Load()
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, after, alpha.calls.Load(), "no probes after Stop")

	stats, ok := m.Stats("alpha")
	require.True(t, ok)
	require.Equal(t, int64(after), stats.Probes)
	require.Zero(t, stats.Failures)
}

func TestMonitor_SlowTargetDoesNotDelayOthers(t *testing.T) {
	m := NewMonitor(nil)

	slow := &fakeTarget{name: "slow"}
	slow.set(nil, time.Hour)

	fast := &fakeTarget{name: "fast"}

	m.Add(slow, 10*time.Millisecond, 500*time.Millisecond)
	m.Add(fast, 10*time.Millisecond, time.Second)

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return fast.calls.Load() >= 5 }, 400*time.Millisecond, 5*time.Millisecond)
	require.LessOrEqual(t, slow.calls.Load(), int32(1))
}

func TestMonitor_FailuresAreCounted(t *testing.T) {
	m := NewMonitor(nil)
	alpha := &fakeTarget{name: "alpha"}
	alpha.set(nil, time.Hour)
	m.Add(alpha, time.Hour, 20*time.Millisecond)

	res, err := m.Probe(context.Background(), "alpha")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.ErrorIs(t, res.Err, errors.ErrRPCTimeout)
	require.Contains(t, res.Error, "ping")
	require.GreaterOrEqual(t, res.Latency, 20*time.Millisecond)

	stats, _ := m.Stats("alpha")
	require.Equal(t, int64(1), stats.Probes)
	require.Equal(t, int64(1), stats.Failures)
}

func TestMonitor_NotReadyIsSkipped(t *testing.T) {
	m := NewMonitor(nil)
	alpha := &fakeTarget{name: "alpha"}
	alpha.set(errors.ErrEndpointNotAvailable, 0)
	m.Add(alpha, time.Hour, time.Second)

	res, err := m.Probe(context.Background(), "alpha")
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.False(t, res.OK)
	require.Equal(t, "endpoint not available", res.Error)

	stats, _ := m.Stats("alpha")
	require.Zero(t, stats.Probes)
	require.Zero(t, stats.Failures)
}

func TestMonitor_ProbeAll(t *testing.T) {
	m := NewMonitor(nil)

	alpha := &fakeTarget{name: "alpha"}
	alpha.set(nil, 40*time.Millisecond)

	beta := &fakeTarget{name: "beta"}
	beta.set(stderrors.New("connection reset"), 0)

	gamma := &fakeTarget{name: "gamma"}
	gamma.set(nil, 40*time.Millisecond)

	m.Add(alpha, time.Hour, time.Second)
	m.Add(beta, time.Hour, time.Second)
	m.Add(gamma, time.Hour, time.Second)

	start := time.Now()
	results := m.ProbeAll(context.Background())

	require.Less(t, time.Since(start), 75*time.Millisecond, "probes run concurrently")
	require.Len(t, results, 3)

	require.Equal(t, "alpha", results[0].Endpoint)
	require.True(t, results[0].OK)
	require.Equal(t, "beta", results[1].Endpoint)
	require.False(t, results[1].OK)
	require.Equal(t, "connection reset", results[1].Error)
	require.Equal(t, "gamma", results[2].Endpoint)
	require.True(t, results[2].OK)
}

func TestMonitor_UnknownTarget(t *testing.T) {
	m := NewMonitor(nil)

	_, err := m.Probe(context.Background(), "nope")
	require.ErrorIs(t, err, errors.ErrEndpointNotFound)

	_, ok := m.Stats("nope")
	require.False(t, ok)
}

func TestMonitor_StopDoesNotCountCancelledProbe(t *testing.T) {
	m := NewMonitor(nil)
	alpha := &fakeTarget{name: "alpha"}
	alpha.set(nil, time.Hour)
	m.Add(alpha, 5*time.Millisecond, time.Hour)

	m.Start(context.Background())

	require.Eventually(t, func() bool { return alpha.calls.Load() == 1 }, time.Second, time.Millisecond)

	m.Stop()

	stats, _ := m.Stats("alpha")
	require.Zero(t, stats.Failures)
}
