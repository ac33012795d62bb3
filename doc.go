// Package stdiomux multiplexes JSON-RPC 2.0 calls over the standard streams
// of backend processes running inside containers.
//
// Each configured endpoint is one process, attached with "<engine> exec -i"
// inside an already-running container, that speaks newline-delimited
// JSON-RPC on stdin and stdout. The mux performs the initialize handshake,
// correlates responses with requests, probes every endpoint on a schedule,
// and reconnects with exponential backoff when a process dies or stops
// answering.
//
// # Basic Usage
//
//	m := stdiomux.NewMux()
//	defer m.Close()
//
//	err := m.Start(ctx,
//	    stdiomux.WithLogger(slog.Default()),
//	    stdiomux.WithEndpoints(
//	        stdiomux.EndpointConfig{Name: "alpha", Container: "alpha-svc", Command: []string{"node", "server.js"}},
//	        stdiomux.EndpointConfig{Name: "beta", Container: "beta-svc", Command: []string{"python", "-m", "beta"}},
//	    ),
//	)
//	if err != nil {
//	    // Endpoints that could not be attached stay Disconnected; the
//	    // others are usable.
//	    log.Print(err)
//	}
//
//	results, err := m.Execute(ctx, []stdiomux.Step{
//	    {Endpoint: "alpha", Method: "search", Arguments: map[string]any{"q": "go"}},
//	    {Endpoint: "beta", Method: "summarize"},
//	}, stdiomux.Parallel)
//
// Execute always returns one Result per step. A step against an endpoint
// that is missing or not Ready fails with "endpoint not available" without
// touching the wire.
//
// # Lifecycle
//
// Endpoints move through Disconnected, Connecting, Handshaking, Ready,
// Degraded, Reconnecting and Closed. A failed health probe or an unexpected
// process exit moves a Ready endpoint to Degraded and schedules a reconnect
// after min(5s*2^n, 60s). After five consecutive failed cycles the endpoint
// is Closed for good and reported by Exhaustions.
//
// # Error Handling
//
// Calls fail with typed errors that can be inspected with errors.Is and
// errors.As:
//
//	var timeout *stdiomux.RPCTimeoutError
//	if errors.As(res.Err, &timeout) {
//	    // no response within timeout.Timeout
//	}
//
//	if errors.Is(res.Err, stdiomux.ErrTransportClosed) {
//	    // the process went away while the call was pending
//	}
package stdiomux
