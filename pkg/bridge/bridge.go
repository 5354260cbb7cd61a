// Package bridge holds the vocabulary shared by the components of the audio
// bridge: the session [State] machine states, the error taxonomy, the [Event]
// stream exposed to user interfaces, and the [Recorder] metrics hook.
//
// The components themselves live in sub-packages:
//
//   - bridge/capture    — microphone → wire-format frames
//   - bridge/transport  — the persistent websocket session
//   - bridge/playback   — inbound payloads → gap-free scheduled output
//   - bridge/controller — the state machine tying the three together
//   - bridge/wire       — message dialects spoken to the remote service
package bridge

// State is the connection state of a bridge session.
type State int

const (
	// StateIdle is the initial state: no session has been requested yet.
	StateIdle State = iota

	// StateConnecting means a connect request is in flight.
	StateConnecting

	// StateConnected means the transport is established and capture is idle.
	StateConnected

	// StateRecording means the transport is established and the microphone is
	// streaming frames.
	StateRecording

	// StateDisconnected is terminal for a session instance. A new connect
	// request constructs a fresh session.
	StateDisconnected
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateRecording:
		return "RECORDING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Live reports whether the transport is established in state s.
func (s State) Live() bool {
	return s == StateConnected || s == StateRecording
}
