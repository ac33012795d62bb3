// Package errors defines error types for the stdio JSON-RPC multiplexer.
//
// This package provides structured error types for each failure a caller can
// observe: container and spawn failures, transport write failures, call
// timeouts, remote JSON-RPC errors, process exits and abandoned endpoints.
// All error types support unwrapping and can be checked using errors.Is,
// errors.As, and errors.AsType.
package errors
