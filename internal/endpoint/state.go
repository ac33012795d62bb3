package endpoint

// State is a lifecycle state of one endpoint.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateDegraded
	StateReconnecting
	StateClosed
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateHandshaking:  "handshaking",
	StateReady:        "ready",
	StateDegraded:     "degraded",
	StateReconnecting: "reconnecting",
	StateClosed:       "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// Event drives a transition.
type Event int

const (
	// EventConnect starts an attach.
	EventConnect Event = iota
	// EventAttached reports a live process.
	EventAttached
	// EventAttachFailed reports ContainerUnavailable or SpawnFailed.
	EventAttachFailed
	EventHandshakeOK
	EventHandshakeFailed
	EventProcessExited
	EventProbeFailed
	// EventRetry schedules the next reconnect.
	EventRetry
	// EventGiveUp abandons the endpoint after too many failed cycles.
	EventGiveUp
	EventReconnectElapsed
	EventShutdown
)

var eventNames = [...]string{
	EventConnect:          "connect",
	EventAttached:         "attached",
	EventAttachFailed:     "attach_failed",
	EventHandshakeOK:      "handshake_ok",
	EventHandshakeFailed:  "handshake_failed",
	EventProcessExited:    "process_exited",
	EventProbeFailed:      "probe_failed",
	EventRetry:            "retry",
	EventGiveUp:           "give_up",
	EventReconnectElapsed: "reconnect_elapsed",
	EventShutdown:         "shutdown",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}

	return eventNames[e]
}

type transitionKey struct {
	from  State
	event Event
}

// transitions is the complete table. Pairs that are absent are ignored,
// which is how duplicate exit and probe events during a reconnect cycle
// stay idempotent.
var transitions = map[transitionKey]State{
	{StateDisconnected, EventConnect}: StateConnecting,
	{StateDisconnected, EventRetry}:   StateReconnecting,
	{StateDisconnected, EventGiveUp}:  StateClosed,

	{StateConnecting, EventAttached}:     StateHandshaking,
	{StateConnecting, EventAttachFailed}: StateDisconnected,

	{StateHandshaking, EventHandshakeOK}:     StateReady,
	{StateHandshaking, EventHandshakeFailed}: StateDisconnected,

	{StateReady, EventProbeFailed}:   StateDegraded,
	{StateReady, EventProcessExited}: StateDegraded,

	{StateDegraded, EventRetry}:  StateReconnecting,
	{StateDegraded, EventGiveUp}: StateClosed,

	{StateReconnecting, EventReconnectElapsed}: StateConnecting,
}

// Next returns the state that follows event in state s, and false when the
// event does not apply. Shutdown closes every state but Closed.
func Next(s State, event Event) (State, bool) {
	if s == StateClosed {
		return s, false
	}

	if event == EventShutdown {
		return StateClosed, true
	}

	next, ok := transitions[transitionKey{s, event}]

	return next, ok
}
