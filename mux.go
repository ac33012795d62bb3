package stdiomux

import (
	"context"
	"encoding/json"
	"time"
)

// Mux is the upstream surface of the multiplexer.
//
// Lifecycle: a Mux is single-use. After Close, create a new one with
// NewMux.
//
// Example usage:
//
//	m := stdiomux.NewMux()
//	defer m.Close()
//
//	if err := m.Start(ctx, stdiomux.WithEndpoints(alpha, beta)); err != nil {
//	    log.Print(err)
//	}
//
//	for _, st := range m.Status() {
//	    fmt.Println(st.Name, st.StateName)
//	}
type Mux interface {
	// Start attaches every endpoint concurrently and starts the health
	// monitor. Endpoints whose first attach fails are reported in the
	// returned error and left Disconnected; the rest are usable.
	Start(ctx context.Context, opts ...Option) error

	// Execute runs steps and returns exactly one Result per step, in input
	// order. Step failures are reported in the results, not as an error.
	Execute(ctx context.Context, steps []Step, mode Mode) ([]Result, error)

	// Call issues a raw JSON-RPC call on the named endpoint and returns
	// the raw result. A zero timeout uses the endpoint's call timeout.
	Call(ctx context.Context, endpoint, method string, params any, timeout time.Duration) (json.RawMessage, error)

	// Status lists every endpoint in configuration order.
	Status() []EndpointStatus

	// CheckHealth probes the named endpoint, or every endpoint when name
	// is empty. A failed probe moves the endpoint to Degraded.
	CheckHealth(ctx context.Context, name string) ([]ProbeResult, error)

	// HealthStats returns the probe counters of the named endpoint.
	HealthStats(name string) (HealthStats, error)

	// ListTools returns the tools advertised by the named endpoint. The
	// list is cached per connection; refresh forces a tools/list call.
	ListTools(ctx context.Context, name string, refresh bool) ([]*Tool, error)

	// Exhaustions lists endpoints abandoned after running out of reconnect
	// attempts.
	Exhaustions(ctx context.Context) ([]JournalEntry, error)

	// Close shuts every process down. Pending calls fail with
	// ErrTransportClosed.
	Close() error
}

// NewMux creates a new, unstarted Mux.
func NewMux() Mux {
	return newMuxImpl()
}
