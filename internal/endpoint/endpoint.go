package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/stdiomux/internal/config"
	"github.com/wagiedev/stdiomux/internal/errors"
	internalmcp "github.com/wagiedev/stdiomux/internal/mcp"
	"github.com/wagiedev/stdiomux/internal/subprocess"
)

// Recorder receives the lifecycle events worth keeping after the fact.
type Recorder interface {
	RecordTransition(endpoint string, from, to State, event Event, cause error)
	RecordProbeFailure(endpoint string, cause error)
	RecordExhaustion(endpoint string, attempts int, cause error)
}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(string, State, State, Event, error) {}
func (nopRecorder) RecordProbeFailure(string, error)                   {}
func (nopRecorder) RecordExhaustion(string, int, error)                {}

// Options configures an Endpoint.
type Options struct {
	Logger     *slog.Logger
	Config     config.EndpointConfig
	Supervisor *subprocess.Supervisor
	Backoff    Backoff

	// CallTimeout applies when a call passes no timeout of its own.
	CallTimeout      time.Duration
	HandshakeTimeout time.Duration

	ProtocolVersion string
	ClientName      string
	ClientVersion   string

	// Recorder is optional.
	Recorder Recorder

	// PrefetchTools fetches tools/list in the background after each
	// successful handshake.
	PrefetchTools bool
}

// Status is a point-in-time view of an endpoint.
type Status struct {
	Name            string    `json:"name"`
	Container       string    `json:"container"`
	State           State     `json:"-"`
	StateName       string    `json:"state"`
	Ready           bool      `json:"ready"`
	InstanceID      string    `json:"instance_id,omitempty"`
	Pid             int       `json:"pid,omitempty"`
	Attempts        int       `json:"attempts"`
	LastHealthCheck time.Time `json:"last_health_check,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
	Exhausted       bool      `json:"exhausted"`
	ProbeFailures   int       `json:"probe_failures"`
	ServerName      string    `json:"server_name,omitempty"`
	ServerVersion   string    `json:"server_version,omitempty"`
}

// Endpoint drives one backend through its lifecycle. All transitions go
// through Next under mu; blocking work (attach, handshake, close) happens
// outside the lock and reports back tagged with the cycle it belongs to, so
// results from a superseded cycle are dropped.
type Endpoint struct {
	log      *slog.Logger
	cfg      config.EndpointConfig
	opts     Options
	recorder Recorder
	ctx      context.Context
	cancel   context.CancelFunc

	mu            sync.Mutex
	state         State
	gen           string // current connect cycle, also the instance id
	conn          *Connection
	attempts      int
	lastErr       error
	lastHealth    time.Time
	exhausted     bool
	probeFailures int
	timer         *time.Timer
	changed       chan struct{} // closed on every transition

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates an endpoint in the Disconnected state.
func New(opts Options) *Endpoint {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Endpoint{
		log:      log.With("component", "endpoint", "endpoint", opts.Config.Name),
		cfg:      opts.Config,
		opts:     opts,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		changed:  make(chan struct{}),
	}
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.cfg.Name
}

// Config returns the endpoint descriptor.
func (e *Endpoint) Config() config.EndpointConfig {
	return e.cfg
}

// State returns the current state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Start performs the initial connect.
//
// An attach failure is returned and leaves the endpoint Disconnected without
// scheduling a reconnect. A handshake failure is not returned: it goes
// through the reconnect path like any later failure.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()

	if e.state != StateDisconnected || e.gen != "" {
		e.mu.Unlock()

		return fmt.Errorf("endpoint %s already started", e.cfg.Name)
	}

	gen := e.beginCycleLocked(EventConnect)

	e.mu.Unlock()

	proc, err := e.opts.Supervisor.Attach(ctx, e.cfg)
	if err != nil {
		e.mu.Lock()

		if e.gen == gen {
			e.lastErr = err
			e.transitionLocked(EventAttachFailed, err)
		}

		e.mu.Unlock()

		return err
	}

	e.finishConnect(gen, proc)

	return nil
}

// beginCycleLocked moves to Connecting and opens a new cycle.
func (e *Endpoint) beginCycleLocked(event Event) string {
	if _, ok := e.transitionLocked(event, nil); !ok {
		return ""
	}

	e.gen = ulid.Make().String()

	return e.gen
}

// connect runs one reconnect cycle.
func (e *Endpoint) connect(gen string) {
	proc, err := e.opts.Supervisor.Attach(e.ctx, e.cfg)
	if err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.gen != gen {
			return
		}

		e.lastErr = err

		if _, ok := e.transitionLocked(EventAttachFailed, err); ok {
			e.scheduleReconnectLocked(err)
		}

		return
	}

	e.finishConnect(gen, proc)
}

// finishConnect handshakes over a freshly attached process.
func (e *Endpoint) finishConnect(gen string, proc *subprocess.Process) {
	conn := newConnection(e.log, gen, proc)

	e.mu.Lock()

	if e.gen != gen || e.state != StateConnecting {
		e.mu.Unlock()
		conn.close()

		return
	}

	e.conn = conn
	e.transitionLocked(EventAttached, nil)

	e.wg.Go(func() { e.watch(gen, conn) })

	e.mu.Unlock()

	err := conn.handshake(e.ctx, e.handshakeRequest(), e.opts.HandshakeTimeout)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen != gen || e.conn != conn {
		return
	}

	if err != nil {
		e.log.Warn("Handshake failed", "error", err)

		e.lastErr = err
		e.transitionLocked(EventHandshakeFailed, err)
		e.teardownLocked()
		e.scheduleReconnectLocked(err)

		return
	}

	e.transitionLocked(EventHandshakeOK, nil)

	e.attempts = 0
	e.lastErr = nil

	if server := conn.Server(); server != nil && server.ServerInfo != nil {
		e.log.Info("Endpoint ready", "server", server.ServerInfo.Name, "server_version", server.ServerInfo.Version,
			"protocol_version", server.ProtocolVersion, "pid", conn.Pid())
	}

	if e.opts.PrefetchTools {
		e.wg.Go(func() {
			if _, err := conn.refreshCatalog(e.ctx, e.opts.CallTimeout); err != nil {
				e.log.Warn("Failed to fetch tools", "error", err)
			}
		})
	}
}

func (e *Endpoint) handshakeRequest() internalmcp.HandshakeRequest {
	return internalmcp.HandshakeRequest{
		ProtocolVersion: e.opts.ProtocolVersion,
		Capabilities:    e.cfg.Capabilities,
		ClientName:      e.opts.ClientName,
		ClientVersion:   e.opts.ClientVersion,
	}
}

// watch turns the process exit into a ProcessExited event.
func (e *Endpoint) watch(gen string, conn *Connection) {
	select {
	case <-conn.Exited():
	case <-e.ctx.Done():
		return
	}

	cause := conn.process.Err()
	if cause == nil {
		cause = errors.ErrTransportClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen != gen {
		return
	}

	if _, ok := e.transitionLocked(EventProcessExited, cause); !ok {
		return
	}

	e.lastErr = cause
	e.teardownLocked()
	e.scheduleReconnectLocked(cause)
}

// teardownLocked detaches the current connection and closes it in the
// background, failing its pending calls with TransportClosed.
func (e *Endpoint) teardownLocked() {
	conn := e.conn
	e.conn = nil

	if conn != nil {
		e.wg.Go(conn.close)
	}
}

// scheduleReconnectLocked arms the backoff timer, or closes the endpoint
// for good once the allowance is used up.
func (e *Endpoint) scheduleReconnectLocked(cause error) {
	if e.opts.Backoff.Exhausted(e.attempts) {
		e.exhausted = true
		e.lastErr = &errors.MaxReconnectExceededError{
			Endpoint: e.cfg.Name,
			Attempts: e.attempts,
			Err:      cause,
		}

		e.transitionLocked(EventGiveUp, e.lastErr)
		e.recorder.RecordExhaustion(e.cfg.Name, e.attempts, cause)
		e.log.Error("Endpoint abandoned", "attempts", e.attempts, "error", cause)

		return
	}

	delay := e.opts.Backoff.Delay(e.attempts)
	e.attempts++

	if _, ok := e.transitionLocked(EventRetry, cause); !ok {
		return
	}

	e.log.Info("Reconnect scheduled", "attempt", e.attempts, "delay", delay)

	gen := e.gen
	e.timer = time.AfterFunc(delay, func() { e.reconnect(gen) })
}

func (e *Endpoint) reconnect(prev string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen != prev || e.state != StateReconnecting {
		return
	}

	e.timer = nil

	gen := e.beginCycleLocked(EventReconnectElapsed)
	if gen == "" {
		return
	}

	e.wg.Go(func() { e.connect(gen) })
}

// transitionLocked applies event and reports the new state, or false when
// the event does not apply in the current state.
func (e *Endpoint) transitionLocked(event Event, cause error) (State, bool) {
	from := e.state

	next, ok := Next(from, event)
	if !ok {
		e.log.Debug("Ignoring event", "state", from.String(), "event", event.String())

		return from, false
	}

	e.state = next
	close(e.changed)
	e.changed = make(chan struct{})

	if cause != nil {
		e.log.Info("State changed", "from", from.String(), "to", next.String(), "event", event.String(), "cause", cause)
	} else {
		e.log.Info("State changed", "from", from.String(), "to", next.String(), "event", event.String())
	}

	e.recorder.RecordTransition(e.cfg.Name, from, next, event, cause)

	return next, true
}

// WaitFor blocks until the endpoint is in one of states or ctx is done.
func (e *Endpoint) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		e.mu.Lock()
		state := e.state
		changed := e.changed
		e.mu.Unlock()

		if slices.Contains(states, state) {
			return state, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// readyConnection returns the live connection when the endpoint is Ready.
func (e *Endpoint) readyConnection() (*Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateReady || e.conn == nil {
		return nil, errors.ErrEndpointNotAvailable
	}

	return e.conn, nil
}

// Connection returns the live connection, or nil unless Ready.
func (e *Endpoint) Connection() *Connection {
	conn, _ := e.readyConnection()

	return conn
}

// Call issues method on the current connection. A zero timeout uses the
// endpoint's call timeout.
func (e *Endpoint) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	conn, err := e.readyConnection()
	if err != nil {
		return nil, err
	}

	return conn.controller.Call(ctx, method, params, e.timeoutOr(timeout))
}

// CallTool issues tools/call on the current connection.
func (e *Endpoint) CallTool(
	ctx context.Context,
	name string,
	arguments map[string]any,
	timeout time.Duration,
) (json.RawMessage, error) {
	conn, err := e.readyConnection()
	if err != nil {
		return nil, err
	}

	return internalmcp.CallTool(ctx, conn.controller, name, arguments, e.timeoutOr(timeout))
}

func (e *Endpoint) timeoutOr(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}

	return e.opts.CallTimeout
}

// Tools returns the tools of the current connection, fetching them when
// nothing is cached or refresh is set.
func (e *Endpoint) Tools(ctx context.Context, refresh bool) (*internalmcp.Catalog, error) {
	conn, err := e.readyConnection()
	if err != nil {
		return nil, err
	}

	if !refresh {
		if catalog := conn.Catalog(); catalog != nil {
			return catalog, nil
		}
	}

	return conn.refreshCatalog(ctx, e.opts.CallTimeout)
}

// CachedTools returns the tools fetched on the current connection without
// issuing a call, or nil.
func (e *Endpoint) CachedTools() *internalmcp.Catalog {
	conn, err := e.readyConnection()
	if err != nil {
		return nil
	}

	return conn.Catalog()
}

// Probe pings the current connection. A failure moves the endpoint to
// Degraded; a success refreshes the last health check time.
func (e *Endpoint) Probe(ctx context.Context, timeout time.Duration) error {
	e.mu.Lock()

	if e.state != StateReady || e.conn == nil {
		e.mu.Unlock()

		return errors.ErrEndpointNotAvailable
	}

	conn, gen := e.conn, e.gen

	e.mu.Unlock()

	err := internalmcp.Ping(ctx, conn.controller, timeout)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen != gen {
		return err
	}

	if err == nil {
		e.lastHealth = time.Now()

		return nil
	}

	// The caller gave up; that says nothing about the backend.
	if ctx.Err() != nil {
		return err
	}

	e.probeFailures++
	e.recorder.RecordProbeFailure(e.cfg.Name, err)

	if _, ok := e.transitionLocked(EventProbeFailed, err); ok {
		e.lastErr = err
		e.teardownLocked()
		e.scheduleReconnectLocked(err)
	}

	return err
}

// Status returns a snapshot.
func (e *Endpoint) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Name:            e.cfg.Name,
		Container:       e.cfg.Container,
		State:           e.state,
		StateName:       e.state.String(),
		Ready:           e.state == StateReady,
		Attempts:        e.attempts,
		LastHealthCheck: e.lastHealth,
		Exhausted:       e.exhausted,
		ProbeFailures:   e.probeFailures,
	}

	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}

	if e.conn != nil {
		st.InstanceID = e.conn.ID
		st.Pid = e.conn.Pid()

		if server := e.conn.Server(); server != nil && server.ServerInfo != nil {
			st.ServerName = server.ServerInfo.Name
			st.ServerVersion = server.ServerInfo.Version
		}
	}

	return st
}

// Err returns the last recorded failure.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastErr
}

// Close shuts the endpoint down. Pending calls fail with TransportClosed.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()

		e.transitionLocked(EventShutdown, nil)

		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}

		conn := e.conn
		e.conn = nil

		e.mu.Unlock()

		e.cancel()

		if conn != nil {
			conn.close()
		}

		e.wg.Wait()

		e.log.Debug("Endpoint closed")
	})
}
