// Package config provides configuration types for the multiplexer.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Defaults applied by Options.WithDefaults when a field is left zero.
const (
	DefaultCallTimeout      = 30 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultHealthInterval   = 30 * time.Second
	DefaultHealthTimeout    = 5 * time.Second
	DefaultBaseDelay        = 5 * time.Second
	DefaultMaxDelay         = 60 * time.Second
	DefaultMaxAttempts      = 5
	DefaultProtocolVersion  = "2025-06-18"
	DefaultClientName       = "stdiomux"
	DefaultClientVersion    = "1.0.0"
)

// EndpointConfig describes one backend service. It is supplied once at
// startup and never mutated.
type EndpointConfig struct {
	// Name is the logical endpoint name used for routing and observability.
	Name string

	// Container is the name of the already-running container hosting the backend.
	Container string

	// Command is the process started inside the container.
	Command []string

	// WorkDir is the working directory for Command inside the container.
	// Empty means the container default.
	WorkDir string

	// Capabilities are the capability tags declared during the handshake.
	Capabilities []string

	// HealthInterval overrides Options.HealthInterval for this endpoint.
	HealthInterval time.Duration

	// HealthTimeout overrides Options.HealthTimeout for this endpoint.
	HealthTimeout time.Duration

	// CallTimeout overrides Options.CallTimeout for this endpoint.
	CallTimeout time.Duration
}

// BackoffConfig controls reconnect scheduling.
type BackoffConfig struct {
	// BaseDelay is the delay before the first reconnect attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential delay.
	MaxDelay time.Duration

	// MaxAttempts is the number of consecutive failed cycles after which
	// the endpoint is abandoned.
	MaxAttempts int
}

// ClientInfo identifies this client in the initialize handshake.
type ClientInfo struct {
	Name    string
	Version string
}

// Options configures the multiplexer.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Endpoints are the backends to connect to.
	Endpoints []EndpointConfig

	// Runtime attaches processes inside containers. If nil, the Docker
	// runtime is created from the environment.
	Runtime Runtime `json:"-"`

	// CallTimeout is the default deadline for a single call.
	CallTimeout time.Duration

	// HandshakeTimeout bounds the initialize call.
	HandshakeTimeout time.Duration

	// HealthInterval is the period between health probes.
	HealthInterval time.Duration

	// HealthTimeout bounds each ping probe.
	HealthTimeout time.Duration

	// Backoff controls reconnect scheduling.
	Backoff BackoffConfig

	// ClientInfo is sent as clientInfo during the handshake.
	ClientInfo ClientInfo

	// ProtocolVersion is sent as protocolVersion during the handshake.
	ProtocolVersion string

	// Stderr receives every diagnostic line written by a backend process.
	// If nil, lines are logged at debug level.
	Stderr func(endpoint, line string)

	// JournalPath enables the SQLite lifecycle journal when non-empty.
	JournalPath string

	// ValidateArguments checks step arguments against the cached tool
	// input schema before issuing a call.
	ValidateArguments bool

	// DisableHealthMonitor turns off scheduled probes. On-demand probes
	// still work.
	DisableHealthMonitor bool

	// MaxConcurrency bounds the steps of one parallel batch that are in
	// flight at once. Zero means no bound.
	MaxConcurrency int
}

// WithDefaults returns a copy of o with every zero field set to its default.
func (o *Options) WithDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}

	if out.CallTimeout <= 0 {
		out.CallTimeout = DefaultCallTimeout
	}

	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if out.HealthInterval <= 0 {
		out.HealthInterval = DefaultHealthInterval
	}

	if out.HealthTimeout <= 0 {
		out.HealthTimeout = DefaultHealthTimeout
	}

	if out.Backoff.BaseDelay <= 0 {
		out.Backoff.BaseDelay = DefaultBaseDelay
	}

	if out.Backoff.MaxDelay <= 0 {
		out.Backoff.MaxDelay = DefaultMaxDelay
	}

	if out.Backoff.MaxAttempts <= 0 {
		out.Backoff.MaxAttempts = DefaultMaxAttempts
	}

	if out.ClientInfo.Name == "" {
		out.ClientInfo.Name = DefaultClientName
	}

	if out.ClientInfo.Version == "" {
		out.ClientInfo.Version = DefaultClientVersion
	}

	if out.ProtocolVersion == "" {
		out.ProtocolVersion = DefaultProtocolVersion
	}

	out.Endpoints = append([]EndpointConfig(nil), out.Endpoints...)

	return &out
}

// Validate rejects negative durations and endpoints with missing or
// duplicate fields.
func (o *Options) Validate() error {
	if o.CallTimeout < 0 || o.HandshakeTimeout < 0 || o.HealthInterval < 0 || o.HealthTimeout < 0 {
		return errors.New("durations must not be negative")
	}

	if o.Backoff.BaseDelay < 0 || o.Backoff.MaxDelay < 0 || o.Backoff.MaxAttempts < 0 {
		return errors.New("reconnect settings must not be negative")
	}

	if o.MaxConcurrency < 0 {
		return errors.New("max concurrency must not be negative")
	}

	seen := make(map[string]struct{}, len(o.Endpoints))

	for i, ep := range o.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoints[%d].name is required", i)
		}

		if _, dup := seen[ep.Name]; dup {
			return fmt.Errorf("endpoint %q is defined more than once", ep.Name)
		}

		seen[ep.Name] = struct{}{}

		if ep.Container == "" {
			return fmt.Errorf("endpoint %q: container is required", ep.Name)
		}

		if len(ep.Command) == 0 {
			return fmt.Errorf("endpoint %q: command is required", ep.Name)
		}

		if ep.HealthInterval < 0 || ep.HealthTimeout < 0 || ep.CallTimeout < 0 {
			return fmt.Errorf("endpoint %q: durations must not be negative", ep.Name)
		}
	}

	return nil
}

// CallTimeoutFor returns the endpoint override or the global default.
func (o *Options) CallTimeoutFor(ep EndpointConfig) time.Duration {
	if ep.CallTimeout > 0 {
		return ep.CallTimeout
	}

	return o.CallTimeout
}

// HealthIntervalFor returns the endpoint override or the global default.
func (o *Options) HealthIntervalFor(ep EndpointConfig) time.Duration {
	if ep.HealthInterval > 0 {
		return ep.HealthInterval
	}

	return o.HealthInterval
}

// HealthTimeoutFor returns the endpoint override or the global default.
func (o *Options) HealthTimeoutFor(ep EndpointConfig) time.Duration {
	if ep.HealthTimeout > 0 {
		return ep.HealthTimeout
	}

	return o.HealthTimeout
}
