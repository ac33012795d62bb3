package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wagiedev/stdiomux/internal/config"
	"github.com/wagiedev/stdiomux/internal/errors"
	"github.com/wagiedev/stdiomux/internal/frame"
	"github.com/wagiedev/stdiomux/internal/jsonrpc"
)

const (
	// maxStderrBufferSize caps the stderr kept for ProcessError. Lines past
	// the cap still reach the sink.
	maxStderrBufferSize = 1024 * 1024 // 1MB
	// writeAbandonTimeout bounds the wait for a write goroutine after stdin
	// was closed under it.
	writeAbandonTimeout = time.Second
	// closeWaitTimeout bounds how long Close waits for the exit to be
	// observed.
	closeWaitTimeout = 5 * time.Second
)

// exitCoder is satisfied by *exec.ExitError and test doubles.
type exitCoder interface {
	error
	ExitCode() int
}

// Process is one attached backend process.
type Process struct {
	log      *slog.Logger
	endpoint string
	proc     config.AttachedProcess
	sink     func(string)

	closing atomic.Bool // Close was called; the exit is expected

	mu          sync.Mutex // protects stdin writes
	stdinClosed bool

	messages chan *jsonrpc.Message
	cancel   context.CancelFunc
	done     chan struct{}
	exitErr  error // written once before done is closed

	stderrMu  sync.Mutex
	stderrBuf strings.Builder
}

func newProcess(log *slog.Logger, endpoint string, proc config.AttachedProcess, sink func(string)) *Process {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Process{
		log:      log.With("pid", proc.Pid()),
		endpoint: endpoint,
		proc:     proc,
		sink:     sink,
		messages: make(chan *jsonrpc.Message),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go p.run(ctx)

	return p
}

// Endpoint returns the endpoint name.
func (p *Process) Endpoint() string {
	return p.endpoint
}

// Pid returns the local process id.
func (p *Process) Pid() int {
	return p.proc.Pid()
}

// Messages returns decoded stdout frames in stream order. The channel is
// closed when stdout ends, just before Done.
func (p *Process) Messages() <-chan *jsonrpc.Message {
	return p.messages
}

// Done is closed once the process has exited and its pipes are drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the terminal error after Done is closed: nil when the exit
// followed Close, a ProcessError otherwise.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Stderr returns the buffered stderr output so far.
func (p *Process) Stderr() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()

	return p.stderrBuf.String()
}

func (p *Process) run(ctx context.Context) {
	defer close(p.done)

	var stderrWg sync.WaitGroup

	// stderr must be fully read before Wait.
	stderrWg.Go(p.readStderr)

	reader := frame.NewReader(p.log, p.endpoint)

	count := 0

	for msg, err := range reader.Messages(ctx, p.proc.Stdout()) {
		if err != nil {
			p.log.Debug("Stdout reader stopped", "error", err)

			break
		}

		count++

		select {
		case p.messages <- msg:
		case <-ctx.Done():
		}
	}

	close(p.messages)

	p.log.Debug("Stdout closed", "message_count", count)

	stderrWg.Wait()

	waitErr := p.proc.Wait()

	if p.closing.Load() {
		p.log.Debug("Backend process terminated during shutdown")

		return
	}

	exitCode := 0
	if coder, ok := stderrors.AsType[exitCoder](waitErr); ok {
		exitCode = coder.ExitCode()
	}

	stderr := strings.TrimSpace(p.Stderr())

	p.log.Error("Backend process exited unexpectedly", "exit_code", exitCode, "stderr", stderr)

	p.exitErr = &errors.ProcessError{
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      waitErr,
	}
}

func (p *Process) readStderr() {
	scanner := bufio.NewScanner(p.proc.Stderr())
	scanner.Buffer(make([]byte, 64*1024), maxStderrBufferSize)

	for scanner.Scan() {
		line := scanner.Text()

		p.stderrMu.Lock()

		if p.stderrBuf.Len() < maxStderrBufferSize {
			if p.stderrBuf.Len() > 0 {
				p.stderrBuf.WriteString("\n")
			}

			p.stderrBuf.WriteString(line)
		}

		p.stderrMu.Unlock()

		if p.sink != nil {
			p.sink(line)
		} else {
			p.log.Debug("Backend stderr", "line", line)
		}
	}

	if err := scanner.Err(); err != nil {
		p.log.Debug("Stderr scanner error", "error", err)
	}
}

// Send writes one frame to stdin, appending the newline if missing.
//
// Writes are serialized, so frames never interleave. If ctx is cancelled
// during a blocked write, stdin is closed to unblock it and the process
// accepts no further writes.
func (p *Process) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdinClosed {
		return errors.ErrTransportClosed
	}

	select {
	case <-p.done:
		return errors.ErrTransportClosed
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if len(data) == 0 || data[len(data)-1] != '\n' {
		framed := make([]byte, len(data)+1)
		copy(framed, data)
		framed[len(data)] = '\n'
		data = framed
	}

	stdin := p.proc.Stdin()
	done := make(chan error, 1)

	go func() {
		_, err := stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			p.log.Warn("Failed to write frame", "error", err)

			return &errors.TransportWriteError{Endpoint: p.endpoint, Err: err}
		}

		return nil

	case <-ctx.Done():
		p.log.Debug("Context cancelled during write, closing stdin")

		_ = stdin.Close()
		p.stdinClosed = true

		select {
		case <-done:
		case <-time.After(writeAbandonTimeout):
			p.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// Close kills the process and waits for its exit to be observed. It is safe
// to call more than once.
func (p *Process) Close() error {
	p.closing.Store(true)

	p.log.Debug("Killing backend process")

	// Killing first unblocks a Send stuck on a full pipe, which holds mu.
	err := p.proc.Kill()

	p.mu.Lock()
	p.stdinClosed = true
	p.mu.Unlock()

	p.cancel()

	select {
	case <-p.done:
	case <-time.After(closeWaitTimeout):
		p.log.Warn("Backend process did not exit after kill")
	}

	if err != nil {
		return fmt.Errorf("kill backend %s: %w", p.endpoint, err)
	}

	return nil
}
