//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	stdiomux "github.com/wagiedev/stdiomux"
)

// TestCalls_HealthAndTools pings the backend and lists its tools.
func TestCalls_HealthAndTools(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err := stdiomux.WithMux(ctx, func(m stdiomux.Mux) error {
		results, err := m.CheckHealth(ctx, "it")
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.True(t, results[0].OK, "probe failed: %s", results[0].Error)

		tools, err := m.ListTools(ctx, "it", true)
		require.NoError(t, err)
		t.Logf("Backend advertises %d tools", len(tools))

		stats, err := m.HealthStats("it")
		require.NoError(t, err)
		require.Equal(t, int64(1), stats.Probes)

		return nil
	},
		stdiomux.WithEndpoints(testEndpoint(t, "it")),
		stdiomux.WithoutHealthMonitor(),
	)
	if err != nil {
		skipIfEngineNotInstalled(t, err)
		t.Fatalf("WithMux failed: %v", err)
	}
}

// TestCalls_FanOutAcrossAvailableAndMissing runs one batch across a live
// endpoint and a missing one.
func TestCalls_FanOutAcrossAvailableAndMissing(t *testing.T) {
	tool := os.Getenv("STDIOMUX_IT_TOOL")
	if tool == "" {
		t.Skip("STDIOMUX_IT_TOOL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err := stdiomux.WithMux(ctx, func(m stdiomux.Mux) error {
		results, err := m.Execute(ctx, []stdiomux.Step{
			{ID: "live", Endpoint: "it", Method: tool, Arguments: map[string]any{}},
			{ID: "dead", Endpoint: "ghost", Method: tool},
			{ID: "live-again", Endpoint: "it", Method: tool, Arguments: map[string]any{}},
		}, stdiomux.Parallel)
		require.NoError(t, err)
		require.Len(t, results, 3)

		require.Equal(t, "live", results[0].StepID)
		require.Equal(t, stdiomux.StatusSuccess, results[0].Status, results[0].Error)
		require.Equal(t, "dead", results[1].StepID)
		require.ErrorIs(t, results[1].Err, stdiomux.ErrEndpointNotAvailable)
		require.Equal(t, "live-again", results[2].StepID)
		require.Equal(t, stdiomux.StatusSuccess, results[2].Status, results[2].Error)

		return nil
	},
		stdiomux.WithEndpoints(testEndpoint(t, "it"), missingEndpoint("ghost")),
		stdiomux.WithoutHealthMonitor(),
	)
	if err != nil {
		skipIfEngineNotInstalled(t, err)
		t.Fatalf("WithMux failed: %v", err)
	}
}

// TestCalls_StderrIsForwarded checks that the stderr sink is wired to the
// real process. Servers that never write to stderr pass trivially.
func TestCalls_StderrIsForwarded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	lines := make(chan string, 64)

	err := stdiomux.WithMux(ctx, func(m stdiomux.Mux) error {
		require.Equal(t, stdiomux.StateReady, m.Status()[0].State)

		return nil
	},
		stdiomux.WithEndpoints(testEndpoint(t, "it")),
		stdiomux.WithoutHealthMonitor(),
		stdiomux.WithStderr(func(endpoint, line string) {
			select {
			case lines <- endpoint + ": " + line:
			default:
			}
		}),
	)
	if err != nil {
		skipIfEngineNotInstalled(t, err)
		t.Fatalf("WithMux failed: %v", err)
	}

	for len(lines) > 0 {
		t.Log(<-lines)
	}
}
