package stdiomux

import (
	"log/slog"
	"time"
)

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to a fresh Options.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithEndpoints adds backends to connect to.
func WithEndpoints(endpoints ...EndpointConfig) Option {
	return func(o *Options) {
		o.Endpoints = append(o.Endpoints, endpoints...)
	}
}

// WithRuntime replaces the Docker runtime, for example with a remote agent
// or an in-memory fake.
func WithRuntime(runtime Runtime) Option {
	return func(o *Options) {
		o.Runtime = runtime
	}
}

// ===== Timing =====

// WithCallTimeout sets the default deadline of a single call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.CallTimeout = timeout
	}
}

// WithHandshakeTimeout bounds the initialize call.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.HandshakeTimeout = timeout
	}
}

// WithHealthInterval sets the period between scheduled health probes.
func WithHealthInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.HealthInterval = interval
	}
}

// WithHealthTimeout bounds each ping probe.
func WithHealthTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.HealthTimeout = timeout
	}
}

// WithoutHealthMonitor disables scheduled probes. CheckHealth still works.
func WithoutHealthMonitor() Option {
	return func(o *Options) {
		o.DisableHealthMonitor = true
	}
}

// WithBackoff sets the reconnect schedule: the delay before attempt n is
// min(base*2^n, maxDelay), and the endpoint is abandoned after maxAttempts
// consecutive failed cycles.
func WithBackoff(base, maxDelay time.Duration, maxAttempts int) Option {
	return func(o *Options) {
		o.Backoff = BackoffConfig{
			BaseDelay:   base,
			MaxDelay:    maxDelay,
			MaxAttempts: maxAttempts,
		}
	}
}

// ===== Handshake =====

// WithClientInfo sets the clientInfo sent in initialize.
func WithClientInfo(name, version string) Option {
	return func(o *Options) {
		o.ClientInfo = ClientInfo{Name: name, Version: version}
	}
}

// WithProtocolVersion sets the protocolVersion sent in initialize.
func WithProtocolVersion(version string) Option {
	return func(o *Options) {
		o.ProtocolVersion = version
	}
}

// ===== Observability =====

// WithStderr receives every line a backend writes to stderr.
func WithStderr(fn func(endpoint, line string)) Option {
	return func(o *Options) {
		o.Stderr = fn
	}
}

// WithJournal records lifecycle events in a SQLite file at path.
func WithJournal(path string) Option {
	return func(o *Options) {
		o.JournalPath = path
	}
}

// WithArgumentValidation checks step arguments against the tool's cached
// input schema before calling it.
func WithArgumentValidation() Option {
	return func(o *Options) {
		o.ValidateArguments = true
	}
}

// WithMaxConcurrency bounds how many steps of one parallel batch are in
// flight at once. Zero, the default, means no bound.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) {
		o.MaxConcurrency = n
	}
}
