// Package backendtest provides in-memory backends for exercising the
// multiplexer without a container engine.
//
// A Runtime hands out Backend values in place of real attached processes.
// Each Backend reads requests from its stdin pipe and answers them through
// per-method handlers; tests can make methods hang, fail, or slow down, and
// can crash the backend at any time.
package backendtest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wagiedev/stdiomux/internal/jsonrpc"
)

// ExitError is what Wait returns after a simulated exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the simulated exit status.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// HandlerFunc answers one request. A nil WireError and a result of NoReply
// leave the request unanswered.
type HandlerFunc func(req *jsonrpc.Message) (any, *jsonrpc.WireError)

type noReply struct{}

// NoReply suppresses the response to a request.
var NoReply any = noReply{}

// EchoTool is the one tool listed by default.
var EchoTool = map[string]any{
	"name":        "echo",
	"description": "Returns its arguments",
	"inputSchema": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []any{"text"},
	},
}

// Backend is a fake JSON-RPC server attached to in-memory pipes. It
// implements config.AttachedProcess.
type Backend struct {
	Container string
	Command   []string

	pid int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	received []*jsonrpc.Message

	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error
}

// NewBackend creates a backend answering initialize, ping, tools/list and
// tools/call. Call Serve to start reading requests.
func NewBackend(container string, pid int) *Backend {
	b := &Backend{
		Container: container,
		pid:       pid,
		handlers:  make(map[string]HandlerFunc),
		exited:    make(chan struct{}),
	}

	b.stdinR, b.stdinW = io.Pipe()
	b.stdoutR, b.stdoutW = io.Pipe()
	b.stderrR, b.stderrW = io.Pipe()

	b.handlers["initialize"] = func(req *jsonrpc.Message) (any, *jsonrpc.WireError) {
		var params struct {
			ProtocolVersion string `json:"protocolVersion"`
		}

		_ = json.Unmarshal(req.Params, &params)

		return map[string]any{
			"protocolVersion": params.ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": container, "version": "test"},
		}, nil
	}
	b.handlers["ping"] = func(*jsonrpc.Message) (any, *jsonrpc.WireError) {
		return map[string]any{}, nil
	}
	b.handlers["tools/list"] = func(*jsonrpc.Message) (any, *jsonrpc.WireError) {
		return map[string]any{"tools": []any{EchoTool}}, nil
	}
	b.handlers["tools/call"] = func(req *jsonrpc.Message) (any, *jsonrpc.WireError) {
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}

		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &jsonrpc.WireError{Code: -32602, Message: err.Error()}
		}

		return map[string]any{
			"content": []any{map[string]any{"type": "text", "text": params.Name}},
			"structuredContent": map[string]any{
				"tool":      params.Name,
				"arguments": params.Arguments,
			},
		}, nil
	}

	return b
}

// Serve reads requests until the backend exits.
func (b *Backend) Serve() {
	go func() {
		scanner := bufio.NewScanner(b.stdinR)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

		for scanner.Scan() {
			msg, err := jsonrpc.Decode(scanner.Bytes())
			if err != nil {
				continue
			}

			b.mu.Lock()
			b.received = append(b.received, msg)
			handler, ok := b.handlers[msg.Method]
			b.mu.Unlock()

			if len(msg.ID) == 0 {
				continue
			}

			if !ok {
				go b.reply(msg, nil, &jsonrpc.WireError{Code: -32601, Message: "method not found: " + msg.Method})

				continue
			}

			go func() {
				result, wireErr := handler(msg)
				if _, skip := result.(noReply); skip && wireErr == nil {
					return
				}

				b.reply(msg, result, wireErr)
			}()
		}
	}()
}

func (b *Backend) reply(req *jsonrpc.Message, result any, wireErr *jsonrpc.WireError) {
	resp := map[string]any{"jsonrpc": jsonrpc.Version, "id": req.ID}
	if wireErr != nil {
		resp["error"] = wireErr
	} else {
		resp["result"] = result
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}

	_ = b.WriteRaw(string(data))
}

// Handle replaces the handler for method.
func (b *Backend) Handle(method string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[method] = fn
}

// Hang makes method go unanswered.
func (b *Backend) Hang(method string) {
	b.Handle(method, func(*jsonrpc.Message) (any, *jsonrpc.WireError) {
		return NoReply, nil
	})
}

// Fail makes method answer with an error object.
func (b *Backend) Fail(method string, code int64, message string) {
	b.Handle(method, func(*jsonrpc.Message) (any, *jsonrpc.WireError) {
		return nil, &jsonrpc.WireError{Code: code, Message: message}
	})
}

// Delay makes method answer after d using its current handler.
func (b *Backend) Delay(method string, d time.Duration) {
	b.mu.Lock()
	next := b.handlers[method]
	b.mu.Unlock()

	b.Handle(method, func(req *jsonrpc.Message) (any, *jsonrpc.WireError) {
		select {
		case <-time.After(d):
		case <-b.exited:
			return NoReply, nil
		}

		if next == nil {
			return nil, &jsonrpc.WireError{Code: -32601, Message: "method not found: " + req.Method}
		}

		return next(req)
	})
}

// WriteRaw writes line to stdout followed by a newline.
func (b *Backend) WriteRaw(line string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_, err := io.WriteString(b.stdoutW, line+"\n")

	return err
}

// WriteStderr writes line to stderr followed by a newline.
func (b *Backend) WriteStderr(line string) error {
	_, err := io.WriteString(b.stderrW, line+"\n")

	return err
}

// Received returns every message read so far whose method matches. An empty
// method returns all of them.
func (b *Backend) Received(method string) []*jsonrpc.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*jsonrpc.Message

	for _, msg := range b.received {
		if method == "" || msg.Method == method {
			out = append(out, msg)
		}
	}

	return out
}

// Exit simulates the process terminating with code.
func (b *Backend) Exit(code int) {
	b.exit(&ExitError{Code: code})
}

// Exited is closed once the backend has terminated.
func (b *Backend) Exited() <-chan struct{} {
	return b.exited
}

func (b *Backend) exit(err error) {
	b.exitOnce.Do(func() {
		b.exitErr = err

		_ = b.stdoutW.Close()
		_ = b.stderrW.Close()
		_ = b.stdinR.CloseWithError(io.ErrClosedPipe)

		close(b.exited)
	})
}

func (b *Backend) Stdin() io.WriteCloser { return b.stdinW }
func (b *Backend) Stdout() io.ReadCloser { return b.stdoutR }
func (b *Backend) Stderr() io.ReadCloser { return b.stderrR }
func (b *Backend) Pid() int              { return b.pid }

// Wait blocks until the backend exits.
func (b *Backend) Wait() error {
	<-b.exited

	return b.exitErr
}

// Kill terminates the backend as SIGKILL would.
func (b *Backend) Kill() error {
	b.exit(&ExitError{Code: 137})

	return nil
}
