package errors

import (
	"errors"
	"fmt"
	"time"
)

// MuxError is the base interface for all multiplexer errors.
type MuxError interface {
	error
	IsMuxError() bool
}

// Compile-time verification that all error types implement MuxError.
var (
	_ MuxError = (*ContainerUnavailableError)(nil)
	_ MuxError = (*SpawnError)(nil)
	_ MuxError = (*FrameParseError)(nil)
	_ MuxError = (*TransportWriteError)(nil)
	_ MuxError = (*RPCTimeoutError)(nil)
	_ MuxError = (*RemoteError)(nil)
	_ MuxError = (*ProcessError)(nil)
	_ MuxError = (*MaxReconnectExceededError)(nil)
	_ MuxError = (*EngineNotFoundError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrRPCTimeout indicates no response arrived before the call deadline.
	ErrRPCTimeout = errors.New("rpc timeout")

	// ErrTransportClosed indicates the process exited or the mux shut down
	// while a call was pending.
	ErrTransportClosed = errors.New("transport closed")

	// ErrEndpointNotAvailable indicates the endpoint is unknown or not ready.
	ErrEndpointNotAvailable = errors.New("endpoint not available")

	// ErrEndpointNotFound indicates no endpoint is configured under the name.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrHandshake indicates the initialize exchange did not complete.
	ErrHandshake = errors.New("handshake failed")

	// ErrMuxNotStarted indicates Start has not been called.
	ErrMuxNotStarted = errors.New("mux not started")

	// ErrMuxAlreadyStarted indicates Start was called twice.
	ErrMuxAlreadyStarted = errors.New("mux already started")

	// ErrMuxClosed indicates the mux has been closed and cannot be reused.
	ErrMuxClosed = errors.New("mux closed: create a new one with New()")
)

// ContainerUnavailableError indicates the target container is not running.
type ContainerUnavailableError struct {
	Container string
	Err       error
}

func (e *ContainerUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("container %q unavailable: %v", e.Container, e.Err)
	}

	return fmt.Sprintf("container %q is not running", e.Container)
}

func (e *ContainerUnavailableError) Unwrap() error {
	return e.Err
}

// IsMuxError implements MuxError.
func (e *ContainerUnavailableError) IsMuxError() bool { return true }

// SpawnError indicates the backend process could not be started.
type SpawnError struct {
	Endpoint string
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Endpoint, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsMuxError implements MuxError.
func (e *SpawnError) IsMuxError() bool { return true }

// FrameParseError indicates a line from the backend was not valid JSON.
// It is only ever logged; the connection keeps running.
type FrameParseError struct {
	Endpoint string
	RawData  string
	Err      error
}

func (e *FrameParseError) Error() string {
	return fmt.Sprintf("failed to decode frame from %s: %v", e.Endpoint, e.Err)
}

func (e *FrameParseError) Unwrap() error {
	return e.Err
}

// IsMuxError implements MuxError.
func (e *FrameParseError) IsMuxError() bool { return true }

// TransportWriteError indicates the request could not be written to stdin.
type TransportWriteError struct {
	Endpoint string
	Err      error
}

func (e *TransportWriteError) Error() string {
	return fmt.Sprintf("write to %s: %v", e.Endpoint, e.Err)
}

func (e *TransportWriteError) Unwrap() error {
	return e.Err
}

// IsMuxError implements MuxError.
func (e *TransportWriteError) IsMuxError() bool { return true }

// RPCTimeoutError indicates a call was not answered before its deadline.
type RPCTimeoutError struct {
	Method  string
	ID      int64
	Timeout time.Duration
}

func (e *RPCTimeoutError) Error() string {
	return fmt.Sprintf("%s (id %d) not answered within %s", e.Method, e.ID, e.Timeout)
}

func (e *RPCTimeoutError) Unwrap() error {
	return ErrRPCTimeout
}

// IsMuxError implements MuxError.
func (e *RPCTimeoutError) IsMuxError() bool { return true }

// RemoteError is a JSON-RPC error object returned by the backend.
type RemoteError struct {
	Code    int64
	Message string
	Data    []byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// IsMuxError implements MuxError.
func (e *RemoteError) IsMuxError() bool { return true }

// ProcessError indicates the backend process exited unexpectedly.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("backend process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

// Unwrap reports the underlying error and ErrTransportClosed so callers can
// match either.
func (e *ProcessError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Err, ErrTransportClosed}
	}

	return []error{ErrTransportClosed}
}

// IsMuxError implements MuxError.
func (e *ProcessError) IsMuxError() bool { return true }

// MaxReconnectExceededError indicates an endpoint was abandoned after
// exhausting its reconnect attempts.
type MaxReconnectExceededError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *MaxReconnectExceededError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("endpoint %s abandoned after %d reconnect attempts: %v", e.Endpoint, e.Attempts, e.Err)
	}

	return fmt.Sprintf("endpoint %s abandoned after %d reconnect attempts", e.Endpoint, e.Attempts)
}

func (e *MaxReconnectExceededError) Unwrap() error {
	return e.Err
}

// IsMuxError implements MuxError.
func (e *MaxReconnectExceededError) IsMuxError() bool { return true }

// EngineNotFoundError indicates the container engine binary was not found.
type EngineNotFoundError struct {
	SearchedPaths []string
}

func (e *EngineNotFoundError) Error() string {
	return fmt.Sprintf("container engine not found in: %v", e.SearchedPaths)
}

// IsMuxError implements MuxError.
func (e *EngineNotFoundError) IsMuxError() bool { return true }
