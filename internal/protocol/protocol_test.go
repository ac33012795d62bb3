package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/stdiomux/internal/errors"
	"github.com/wagiedev/stdiomux/internal/jsonrpc"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu        sync.Mutex
	sent      []*jsonrpc.Message
	sendErr   error
	responder func(req *jsonrpc.Message) *jsonrpc.Message
	sentCh    chan *jsonrpc.Message

	msgChan   chan *jsonrpc.Message
	done      chan struct{}
	closeOnce sync.Once
	exitErr   error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		sentCh:  make(chan *jsonrpc.Message, 100),
		msgChan: make(chan *jsonrpc.Message, 100),
		done:    make(chan struct{}),
	}
}

func (m *mockTransport) Messages() <-chan *jsonrpc.Message { return m.msgChan }
func (m *mockTransport) Done() <-chan struct{}             { return m.done }
func (m *mockTransport) Err() error                        { return m.exitErr }

func (m *mockTransport) Send(_ context.Context, data []byte) error {
	m.mu.Lock()

	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()

		return err
	}

	msg, err := jsonrpc.Decode(data)
	if err != nil {
		m.mu.Unlock()

		return err
	}

	m.sent = append(m.sent, msg)
	responder := m.responder
	m.mu.Unlock()

	m.sentCh <- msg

	if responder != nil && msg.Method != "" && len(msg.ID) > 0 {
		if resp := responder(msg); resp != nil {
			m.msgChan <- resp
		}
	}

	return nil
}

func (m *mockTransport) setResponder(fn func(req *jsonrpc.Message) *jsonrpc.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responder = fn
}

func (m *mockTransport) inject(raw string) {
	msg, err := jsonrpc.Decode([]byte(raw))
	if err != nil {
		panic(err)
	}

	m.msgChan <- msg
}

// exit simulates the process going away.
func (m *mockTransport) exit(err error) {
	m.closeOnce.Do(func() {
		m.exitErr = err
		close(m.msgChan)
		close(m.done)
	})
}

func (m *mockTransport) nextSent(t *testing.T) *jsonrpc.Message {
	t.Helper()

	select {
	case msg := <-m.sentCh:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")

		return nil
	}
}

func echoResult(req *jsonrpc.Message) *jsonrpc.Message {
	return &jsonrpc.Message{
		JSONRPC: jsonrpc.Version,
		ID:      req.ID,
		Result:  json.RawMessage(fmt.Sprintf(`{"method":%q,"id":%s}`, req.Method, req.ID)),
	}
}

func newStartedController(t *testing.T) (*Controller, *mockTransport) {
	t.Helper()

	transport := newMockTransport()
	ctrl := NewController(slog.Default(), "alpha", transport)
	ctrl.Start()

	t.Cleanup(ctrl.Stop)

	return ctrl, transport
}

func TestController_CallResolvedByResponse(t *testing.T) {
	ctrl, transport := newStartedController(t)

	type outcome struct {
		result json.RawMessage
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		result, err := ctrl.Call(context.Background(), "tools/list", nil, time.Second)
		done <- outcome{result, err}
	}()

	req := transport.nextSent(t)
	require.Equal(t, "tools/list", req.Method)
	require.JSONEq(t, `{}`, string(req.Params))
	require.JSONEq(t, `1`, string(req.ID))

	transport.inject(`{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`)

	got := <-done
	require.NoError(t, got.err)
	require.JSONEq(t, `{"tools":[]}`, string(got.result))
	require.Zero(t, ctrl.Pending())
}

func TestController_IDsIncreaseInCallOrder(t *testing.T) {
	ctrl, transport := newStartedController(t)
	transport.setResponder(echoResult)

	for want := int64(1); want <= 3; want++ {
		_, err := ctrl.Call(context.Background(), "ping", nil, time.Second)
		require.NoError(t, err)
		require.Equal(t, want, ctrl.LastID())
	}
}

func TestController_ConcurrentCallsGetTheirOwnResponse(t *testing.T) {
	ctrl, transport := newStartedController(t)

	const calls = 50

	var wg sync.WaitGroup

	type outcome struct {
		method string
		result json.RawMessage
		err    error
	}

	results := make(chan outcome, calls)

	for i := range calls {
		wg.Go(func() {
			method := fmt.Sprintf("m%d", i)
			result, err := ctrl.Call(context.Background(), method, nil, 2*time.Second)
			results <- outcome{method, result, err}
		})
	}

	// Answer in reverse arrival order.
	reqs := make([]*jsonrpc.Message, 0, calls)
	for range calls {
		reqs = append(reqs, transport.nextSent(t))
	}

	for i := len(reqs) - 1; i >= 0; i-- {
		transport.msgChan <- echoResult(reqs[i])
	}

	wg.Wait()
	close(results)

	seen := make(map[int64]bool, calls)

	for res := range results {
		require.NoError(t, res.err)

		var body struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}

		require.NoError(t, json.Unmarshal(res.result, &body))
		require.Equal(t, res.method, body.Method)
		require.False(t, seen[body.ID], "id %d resolved twice", body.ID)

		seen[body.ID] = true
	}

	require.Len(t, seen, calls)
}

func TestController_Timeout(t *testing.T) {
	ctrl, transport := newStartedController(t)

	start := time.Now()
	_, err := ctrl.Call(context.Background(), "tools/call", nil, 30*time.Millisecond)

	require.ErrorIs(t, err, errors.ErrRPCTimeout)

	timeoutErr, ok := stderrors.AsType[*errors.RPCTimeoutError](err)
	require.True(t, ok)
	require.Equal(t, "tools/call", timeoutErr.Method)
	require.Equal(t, int64(1), timeoutErr.ID)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Zero(t, ctrl.Pending())

	// A late response for the evicted id is dropped.
	transport.inject(`{"jsonrpc":"2.0","id":1,"result":{}}`)

	transport.setResponder(echoResult)

	_, err = ctrl.Call(context.Background(), "ping", nil, time.Second)
	require.NoError(t, err)
}

func TestController_RemoteError(t *testing.T) {
	ctrl, transport := newStartedController(t)
	transport.setResponder(func(req *jsonrpc.Message) *jsonrpc.Message {
		return &jsonrpc.Message{
			JSONRPC: jsonrpc.Version,
			ID:      req.ID,
			Error:   &jsonrpc.WireError{Code: -32602, Message: "bad params", Data: json.RawMessage(`"detail"`)},
		}
	})

	_, err := ctrl.Call(context.Background(), "tools/call", nil, time.Second)

	remote, ok := stderrors.AsType[*errors.RemoteError](err)
	require.True(t, ok)
	require.Equal(t, int64(-32602), remote.Code)
	require.Equal(t, "bad params", remote.Message)
	require.Equal(t, `"detail"`, string(remote.Data))
}

func TestController_WriteFailure(t *testing.T) {
	ctrl, transport := newStartedController(t)
	transport.sendErr = stderrors.New("broken pipe")

	_, err := ctrl.Call(context.Background(), "ping", nil, time.Second)

	writeErr, ok := stderrors.AsType[*errors.TransportWriteError](err)
	require.True(t, ok)
	require.Equal(t, "alpha", writeErr.Endpoint)
	require.Zero(t, ctrl.Pending())
}

func TestController_ProcessExitFailsPendingCalls(t *testing.T) {
	ctrl, transport := newStartedController(t)

	errs := make(chan error, 3)

	for range 3 {
		go func() {
			_, err := ctrl.Call(context.Background(), "tools/call", nil, 5*time.Second)
			errs <- err
		}()
	}

	for range 3 {
		transport.nextSent(t)
	}

	transport.exit(&errors.ProcessError{ExitCode: 1, Stderr: "panic"})

	for range 3 {
		select {
		case err := <-errs:
			_, ok := stderrors.AsType[*errors.ProcessError](err)
			require.True(t, ok)
			require.ErrorIs(t, err, errors.ErrTransportClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("pending call not failed")
		}
	}

	<-ctrl.Done()

	_, err := ctrl.Call(context.Background(), "ping", nil, time.Second)
	require.ErrorIs(t, err, errors.ErrTransportClosed)
}

func TestController_StopFailsPendingCalls(t *testing.T) {
	transport := newMockTransport()
	ctrl := NewController(slog.Default(), "alpha", transport)
	ctrl.Start()

	errCh := make(chan error, 1)

	go func() {
		_, err := ctrl.Call(context.Background(), "ping", nil, 5*time.Second)
		errCh <- err
	}()

	transport.nextSent(t)

	ctrl.Stop()
	ctrl.Stop()

	require.ErrorIs(t, <-errCh, errors.ErrTransportClosed)
}

func TestController_ContextCancelAbandonsCall(t *testing.T) {
	ctrl, transport := newStartedController(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		_, err := ctrl.Call(ctx, "tools/call", nil, 5*time.Second)
		errCh <- err
	}()

	transport.nextSent(t)
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Zero(t, ctrl.Pending())
}

func TestController_ResponseRacingTimeout(t *testing.T) {
	// Each call resolves exactly once whether the response or the timer
	// wins. Run with -race.
	for range 100 {
		transport := newMockTransport()
		ctrl := NewController(slog.Default(), "alpha", transport)
		ctrl.Start()

		var wg sync.WaitGroup

		wg.Go(func() {
			_, _ = ctrl.Call(context.Background(), "ping", nil, time.Millisecond)
		})

		wg.Go(func() {
			req := <-transport.sentCh
			time.Sleep(500 * time.Microsecond)
			transport.msgChan <- echoResult(req)
		})

		wg.Wait()

		require.Zero(t, ctrl.Pending())
		ctrl.Stop()
	}
}

func TestController_AnswersBackendRequests(t *testing.T) {
	_, transport := newStartedController(t)

	transport.inject(`{"jsonrpc":"2.0","id":"srv-1","method":"ping"}`)

	resp := transport.nextSent(t)
	require.JSONEq(t, `"srv-1"`, string(resp.ID))
	require.JSONEq(t, `{}`, string(resp.Result))
	require.Nil(t, resp.Error)

	transport.inject(`{"jsonrpc":"2.0","id":2,"method":"roots/list"}`)

	resp = transport.nextSent(t)
	require.JSONEq(t, `2`, string(resp.ID))
	require.NotNil(t, resp.Error)
	require.Equal(t, int64(jsonrpc.CodeMethodNotFound), resp.Error.Code)
}

func TestController_IgnoresNotificationsAndUnknownIDs(t *testing.T) {
	ctrl, transport := newStartedController(t)

	transport.inject(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`)
	transport.inject(`{"jsonrpc":"2.0","id":99,"result":{}}`)
	transport.inject(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`)

	transport.setResponder(echoResult)

	result, err := ctrl.Call(context.Background(), "ping", nil, time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"method":"ping","id":1}`, string(result))
}

func TestController_Notify(t *testing.T) {
	ctrl, transport := newStartedController(t)

	require.NoError(t, ctrl.Notify(context.Background(), "notifications/initialized", nil))

	msg := transport.nextSent(t)
	require.Equal(t, "notifications/initialized", msg.Method)
	require.Empty(t, msg.ID)
	require.Zero(t, ctrl.LastID())
}
