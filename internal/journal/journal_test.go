package journal

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/stdiomux/internal/endpoint"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, s.Close()) })

	return s
}

func TestStore_RecordsLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.RecordTransition("alpha", endpoint.StateReady, endpoint.StateDegraded, endpoint.EventProbeFailed,
		errors.New("rpc timeout"))
	s.RecordProbeFailure("alpha", errors.New("rpc timeout"))
	s.RecordTransition("beta", endpoint.StateDisconnected, endpoint.StateConnecting, endpoint.EventConnect, nil)

	all, err := s.Entries(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	alpha, err := s.Entries(ctx, "alpha", 0)
	require.NoError(t, err)
	require.Len(t, alpha, 2)

	require.Equal(t, KindTransition, alpha[0].Kind)
	require.Equal(t, "ready", alpha[0].From)
	require.Equal(t, "degraded", alpha[0].To)
	require.Equal(t, "probe_failed", alpha[0].Event)
	require.Equal(t, "rpc timeout", alpha[0].Cause)
	require.False(t, alpha[0].CreatedAt.IsZero())

	require.Equal(t, KindProbeFailure, alpha[1].Kind)
	require.Empty(t, alpha[1].From)

	beta, err := s.Entries(ctx, "beta", 1)
	require.NoError(t, err)
	require.Len(t, beta, 1)
	require.Empty(t, beta[0].Cause)
}

func TestStore_Exhaustions(t *testing.T) {
	s := openTestStore(t)

	none, err := s.Exhaustions(context.Background())
	require.NoError(t, err)
	require.Empty(t, none)

	s.RecordExhaustion("alpha", 5, errors.New(`container "alpha-svc" unavailable`))
	s.RecordTransition("alpha", endpoint.StateDisconnected, endpoint.StateClosed, endpoint.EventGiveUp, nil)

	got, err := s.Exhaustions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "alpha", got[0].Endpoint)
	require.Equal(t, 5, got[0].Attempts)
	require.Contains(t, got[0].Cause, "alpha-svc")
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := openTestStore(t)

	var wg sync.WaitGroup

	for range 8 {
		wg.Go(func() {
			for range 10 {
				s.RecordProbeFailure("alpha", errors.New("timeout"))
			}
		})
	}

	wg.Wait()

	entries, err := s.Entries(context.Background(), "alpha", 0)
	require.NoError(t, err)
	require.Len(t, entries, 80)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	s.RecordExhaustion("alpha", 5, nil)
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)

	defer s.Close()

	got, err := s.Exhaustions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
}
