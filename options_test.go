package stdiomux

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyOptions(t *testing.T) {
	log := slog.Default()
	stderr := func(string, string) {}

	opts := applyOptions([]Option{
		WithLogger(log),
		WithEndpoints(endpointConfig("alpha")),
		WithEndpoints(endpointConfig("beta")),
		WithCallTimeout(15 * time.Second),
		WithHandshakeTimeout(10 * time.Second),
		WithHealthInterval(20 * time.Second),
		WithHealthTimeout(2 * time.Second),
		WithBackoff(time.Second, 8*time.Second, 3),
		WithClientInfo("router", "2.0.0"),
		WithProtocolVersion("2025-03-26"),
		WithStderr(stderr),
		WithJournal("/tmp/journal.db"),
		WithArgumentValidation(),
		WithoutHealthMonitor(),
		WithMaxConcurrency(4),
	})

	require.Same(t, log, opts.Logger)
	require.Equal(t, 4, opts.MaxConcurrency)
	require.Len(t, opts.Endpoints, 2)
	require.Equal(t, "beta", opts.Endpoints[1].Name)
	require.Equal(t, 15*time.Second, opts.CallTimeout)
	require.Equal(t, 10*time.Second, opts.HandshakeTimeout)
	require.Equal(t, 20*time.Second, opts.HealthInterval)
	require.Equal(t, 2*time.Second, opts.HealthTimeout)
	require.Equal(t, BackoffConfig{BaseDelay: time.Second, MaxDelay: 8 * time.Second, MaxAttempts: 3}, opts.Backoff)
	require.Equal(t, ClientInfo{Name: "router", Version: "2.0.0"}, opts.ClientInfo)
	require.Equal(t, "2025-03-26", opts.ProtocolVersion)
	require.NotNil(t, opts.Stderr)
	require.Equal(t, "/tmp/journal.db", opts.JournalPath)
	require.True(t, opts.ValidateArguments)
	require.True(t, opts.DisableHealthMonitor)
}

func TestApplyOptions_Empty(t *testing.T) {
	opts := applyOptions(nil)

	require.Nil(t, opts.Logger)
	require.Empty(t, opts.Endpoints)
	require.Zero(t, opts.CallTimeout)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("sequential")
	require.NoError(t, err)
	require.Equal(t, Sequential, mode)

	_, err = ParseMode("both")
	require.Error(t, err)
}
