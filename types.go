package stdiomux

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/stdiomux/internal/config"
	"github.com/wagiedev/stdiomux/internal/endpoint"
	"github.com/wagiedev/stdiomux/internal/fanout"
	"github.com/wagiedev/stdiomux/internal/health"
	"github.com/wagiedev/stdiomux/internal/journal"
)

// ===== Configuration =====

// Options is the full set of mux settings. Build it with the With*
// functions.
type Options = config.Options

// EndpointConfig describes one backend service.
type EndpointConfig = config.EndpointConfig

// BackoffConfig controls reconnect scheduling.
type BackoffConfig = config.BackoffConfig

// ClientInfo identifies this client in the initialize handshake.
type ClientInfo = config.ClientInfo

// Runtime is the container-engine boundary.
type Runtime = config.Runtime

// AttachedProcess is a process started by a Runtime.
type AttachedProcess = config.AttachedProcess

// ===== Execution =====

// Step is one fully resolved call: endpoint, tool name and arguments.
type Step = fanout.Step

// Result is the outcome of one step.
type Result = fanout.Result

// Mode selects parallel or sequential execution.
type Mode = fanout.Mode

// Execution modes.
const (
	Parallel   = fanout.Parallel
	Sequential = fanout.Sequential
)

// Result statuses.
const (
	StatusSuccess = fanout.StatusSuccess
	StatusError   = fanout.StatusError
)

// ParseMode accepts "parallel" and "sequential".
func ParseMode(s string) (Mode, error) {
	return fanout.ParseMode(s)
}

// ===== Status =====

// State is an endpoint lifecycle state.
type State = endpoint.State

// Lifecycle states.
const (
	StateDisconnected = endpoint.StateDisconnected
	StateConnecting   = endpoint.StateConnecting
	StateHandshaking  = endpoint.StateHandshaking
	StateReady        = endpoint.StateReady
	StateDegraded     = endpoint.StateDegraded
	StateReconnecting = endpoint.StateReconnecting
	StateClosed       = endpoint.StateClosed
)

// EndpointStatus is a point-in-time view of an endpoint.
type EndpointStatus = endpoint.Status

// ProbeResult is the outcome of one health probe.
type ProbeResult = health.Result

// HealthStats are the probe counters of one endpoint.
type HealthStats = health.Stats

// JournalEntry is one lifecycle journal record.
type JournalEntry = journal.Entry

// Tool is a tool advertised by a backend in tools/list.
type Tool = mcp.Tool
