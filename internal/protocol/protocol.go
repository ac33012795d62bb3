package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wagiedev/stdiomux/internal/errors"
	"github.com/wagiedev/stdiomux/internal/jsonrpc"
)

// Transport is the process side a Controller speaks through. It is
// satisfied by *subprocess.Process.
type Transport interface {
	// Messages yields decoded frames and is closed when stdout ends.
	Messages() <-chan *jsonrpc.Message
	// Done is closed after Messages, once the exit has been observed.
	Done() <-chan struct{}
	// Err is the terminal error, valid after Done.
	Err() error
	// Send writes one frame.
	Send(ctx context.Context, data []byte) error
}

// RequestHandler answers a request initiated by the backend. Returning a
// nil error sends result back; an error is sent as a method-level failure.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Controller correlates calls and responses for one backend process.
type Controller struct {
	log       *slog.Logger
	endpoint  string
	transport Transport

	// sendMu orders id allocation and the write together, so requests
	// reach the wire in id order.
	sendMu sync.Mutex
	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall

	handlersMu sync.RWMutex
	handlers   map[string]RequestHandler

	errMu    sync.RWMutex
	fatalErr error

	closeOnce sync.Once
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// pendingCall is one outstanding request. Whoever removes it from the
// pending map owns its resolution, and the buffered channel means that
// owner never blocks.
type pendingCall struct {
	method string
	result chan callResult
}

type callResult struct {
	msg *jsonrpc.Message
	err error
}

// NewController creates a controller for the named endpoint. Call Start
// before issuing calls.
func NewController(log *slog.Logger, endpoint string, transport Transport) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		log:       log.With("component", "protocol", "endpoint", endpoint),
		endpoint:  endpoint,
		transport: transport,
		pending:   make(map[int64]*pendingCall, 10),
		handlers:  make(map[string]RequestHandler, 2),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	// Backends may probe the client the same way the client probes them.
	c.handlers["ping"] = func(context.Context, json.RawMessage) (any, error) {
		return struct{}{}, nil
	}

	return c
}

// Start begins routing inbound frames.
func (c *Controller) Start() {
	c.wg.Go(c.readLoop)

	c.log.Debug("Protocol controller started")
}

// Stop fails every pending call with ErrTransportClosed and waits for the
// read loop to exit. It is safe to call Stop more than once.
func (c *Controller) Stop() {
	c.SetFatalError(errors.ErrTransportClosed)
	c.cancel()
	c.wg.Wait()

	c.log.Debug("Protocol controller stopped")
}

// Done is closed once the controller can no longer issue calls.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// SetFatalError records the first terminal error, fails every pending call
// with it, and closes Done.
func (c *Controller) SetFatalError(err error) {
	c.errMu.Lock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}

	c.errMu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.failAll(c.FatalError())
}

// FatalError returns the terminal error, or nil while the controller runs.
func (c *Controller) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// RegisterHandler answers backend-initiated requests for method.
func (c *Controller) RegisterHandler(method string, handler RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.handlers[method] = handler
}

// Pending returns the number of unresolved calls.
func (c *Controller) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	return len(c.pending)
}

// LastID returns the most recently allocated request id, or 0.
func (c *Controller) LastID() int64 {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.nextID
}

// Call sends a request and waits for its response.
//
// The returned error is RemoteError when the backend answered with an error
// object, RPCTimeoutError when timeout elapsed first, TransportWriteError
// when the request could not be written, and the transport's terminal error
// when the process went away. A cancelled ctx abandons the call with
// ctx.Err(). In every case the id is no longer pending when Call returns.
func (c *Controller) Call(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	if err := c.FatalError(); err != nil {
		return nil, err
	}

	call := &pendingCall{method: method, result: make(chan callResult, 1)}

	c.sendMu.Lock()

	c.nextID++
	id := c.nextID

	data, err := jsonrpc.Encode(jsonrpc.NewRequest(id, method, params))
	if err != nil {
		c.sendMu.Unlock()

		return nil, err
	}

	// Registered before the write: the response may arrive before Send
	// returns. The fatal check under pendingMu pairs with failAll.
	c.pendingMu.Lock()

	if err := c.FatalError(); err != nil {
		c.pendingMu.Unlock()
		c.sendMu.Unlock()

		return nil, err
	}

	c.pending[id] = call
	c.pendingMu.Unlock()

	err = c.transport.Send(ctx, data)

	c.sendMu.Unlock()

	if err != nil {
		if !c.claim(id) {
			return c.resolve(id, <-call.result)
		}

		c.log.Warn("Failed to send request", "id", id, "method", method, "error", err)

		if _, ok := stderrors.AsType[*errors.TransportWriteError](err); ok || stderrors.Is(err, errors.ErrTransportClosed) {
			return nil, err
		}

		return nil, &errors.TransportWriteError{Endpoint: c.endpoint, Err: err}
	}

	c.log.Debug("Request sent", "id", id, "method", method)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-call.result:
		return c.resolve(id, res)

	case <-timer.C:
		if !c.claim(id) {
			return c.resolve(id, <-call.result)
		}

		c.log.Warn("Request timed out", "id", id, "method", method, "timeout", timeout)

		return nil, &errors.RPCTimeoutError{Method: method, ID: id, Timeout: timeout}

	case <-ctx.Done():
		if !c.claim(id) {
			return c.resolve(id, <-call.result)
		}

		c.log.Debug("Request abandoned", "id", id, "method", method, "error", ctx.Err())

		return nil, ctx.Err()
	}
}

// Notify sends a notification. No response is expected.
func (c *Controller) Notify(ctx context.Context, method string, params any) error {
	if err := c.FatalError(); err != nil {
		return err
	}

	data, err := jsonrpc.Encode(jsonrpc.NewNotification(method, params))
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.transport.Send(ctx, data)
}

// claim removes id from the pending map and reports whether the caller now
// owns its resolution.
func (c *Controller) claim(id int64) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}

	delete(c.pending, id)

	return true
}

func (c *Controller) resolve(id int64, res callResult) (json.RawMessage, error) {
	if res.err != nil {
		return nil, res.err
	}

	if res.msg.Error != nil {
		c.log.Debug("Request failed remotely", "id", id, "code", res.msg.Error.Code, "message", res.msg.Error.Message)

		return nil, &errors.RemoteError{
			Code:    res.msg.Error.Code,
			Message: res.msg.Error.Message,
			Data:    res.msg.Error.Data,
		}
	}

	if len(res.msg.Result) == 0 {
		return json.RawMessage("null"), nil
	}

	return res.msg.Result, nil
}

func (c *Controller) failAll(err error) {
	c.pendingMu.Lock()
	calls := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.pendingMu.Unlock()

	for id, call := range calls {
		c.log.Debug("Failing pending request", "id", id, "method", call.method, "error", err)

		call.result <- callResult{err: err}
	}
}

func (c *Controller) readLoop() {
	defer c.log.Debug("Protocol read loop stopped")

	messages := c.transport.Messages()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				c.transportClosed()

				return
			}

			c.handleMessage(msg)

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) transportClosed() {
	select {
	case <-c.transport.Done():
	case <-c.ctx.Done():
		return
	}

	err := c.transport.Err()
	if err == nil {
		err = errors.ErrTransportClosed
	}

	c.log.Debug("Transport closed", "error", err)
	c.SetFatalError(err)
}

func (c *Controller) handleMessage(msg *jsonrpc.Message) {
	if msg.IsResponse() {
		c.handleResponse(msg)

		return
	}

	if msg.Method == "" {
		c.log.Debug("Dropping frame with neither method nor id")

		return
	}

	if len(msg.ID) == 0 {
		c.log.Debug("Backend notification", "method", msg.Method)

		return
	}

	c.handleRequest(msg)
}

func (c *Controller) handleResponse(msg *jsonrpc.Message) {
	id, ok := msg.IntID()
	if !ok {
		c.log.Warn("Response with non-integer id", "id", string(msg.ID))

		return
	}

	c.pendingMu.Lock()

	call, exists := c.pending[id]
	if exists {
		delete(c.pending, id)
	}

	c.pendingMu.Unlock()

	if !exists {
		c.log.Debug("Dropping response for unknown id", "id", id)

		return
	}

	call.result <- callResult{msg: msg}
}

// handleRequest answers a backend-initiated request off the read loop.
func (c *Controller) handleRequest(msg *jsonrpc.Message) {
	c.handlersMu.RLock()
	handler, exists := c.handlers[msg.Method]
	c.handlersMu.RUnlock()

	c.wg.Go(func() {
		var resp *jsonrpc.Response

		switch {
		case !exists:
			c.log.Debug("No handler for backend request", "method", msg.Method)

			resp = jsonrpc.NewError(msg.ID, jsonrpc.CodeMethodNotFound, "method not found: "+msg.Method)

		default:
			result, err := handler(c.ctx, msg.Params)
			if err != nil {
				resp = jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidParams, err.Error())
			} else {
				resp = jsonrpc.NewResult(msg.ID, result)
			}
		}

		data, err := jsonrpc.Encode(resp)
		if err != nil {
			c.log.Error("Failed to encode response", "method", msg.Method, "error", err)

			return
		}

		c.sendMu.Lock()
		defer c.sendMu.Unlock()

		if err := c.transport.Send(c.ctx, data); err != nil {
			c.log.Debug("Could not answer backend request", "method", msg.Method, "error", err)
		}
	})
}
