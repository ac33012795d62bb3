package stdiomux

import "github.com/wagiedev/stdiomux/internal/errors"

// Re-export error types from internal package

// ContainerUnavailableError indicates the target container is not running.
type ContainerUnavailableError = errors.ContainerUnavailableError

// SpawnError indicates the backend process could not be started.
type SpawnError = errors.SpawnError

// FrameParseError indicates a line from a backend was not valid JSON-RPC.
// It is logged and dropped; calls never fail with it.
type FrameParseError = errors.FrameParseError

// TransportWriteError indicates a request could not be written to stdin.
type TransportWriteError = errors.TransportWriteError

// RPCTimeoutError indicates no response arrived before the call deadline.
type RPCTimeoutError = errors.RPCTimeoutError

// RemoteError is a JSON-RPC error object returned by a backend.
type RemoteError = errors.RemoteError

// ProcessError indicates the backend process exited unexpectedly.
type ProcessError = errors.ProcessError

// MaxReconnectExceededError indicates an endpoint was abandoned.
type MaxReconnectExceededError = errors.MaxReconnectExceededError

// EngineNotFoundError indicates no docker or podman binary was found.
type EngineNotFoundError = errors.EngineNotFoundError

// MuxError is the base interface for all multiplexer errors.
type MuxError = errors.MuxError

// Re-export sentinel errors from internal package.
var (
	// ErrRPCTimeout is wrapped by every RPCTimeoutError.
	ErrRPCTimeout = errors.ErrRPCTimeout

	// ErrTransportClosed indicates the process exited or the mux shut down
	// while a call was pending.
	ErrTransportClosed = errors.ErrTransportClosed

	// ErrEndpointNotAvailable indicates the endpoint is unknown or not Ready.
	ErrEndpointNotAvailable = errors.ErrEndpointNotAvailable

	// ErrEndpointNotFound indicates no endpoint is configured under the name.
	ErrEndpointNotFound = errors.ErrEndpointNotFound

	// ErrHandshake indicates the initialize exchange did not complete.
	ErrHandshake = errors.ErrHandshake

	// ErrMuxNotStarted indicates Start has not been called.
	ErrMuxNotStarted = errors.ErrMuxNotStarted

	// ErrMuxAlreadyStarted indicates Start was called twice.
	ErrMuxAlreadyStarted = errors.ErrMuxAlreadyStarted

	// ErrMuxClosed indicates the mux has been closed and cannot be reused.
	ErrMuxClosed = errors.ErrMuxClosed
)
