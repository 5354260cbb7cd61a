package bridge

import "time"

// EventType classifies an [Event].
type EventType int

const (
	// EventStateChanged is emitted on every state transition.
	EventStateChanged EventType = iota

	// EventControl carries an out-of-band (non-audio) message from the
	// remote service, passed through untouched.
	EventControl

	// EventDecodeError reports an inbound payload that was dropped.
	EventDecodeError

	// EventDeviceError reports a device failure during recording. Recording
	// stops; the session stays connected.
	EventDeviceError

	// EventDisconnected is emitted when a live session ends, with Err set
	// for a remote close or transport failure.
	EventDisconnected
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "STATE_CHANGED"
	case EventControl:
		return "CONTROL"
	case EventDecodeError:
		return "DECODE_ERROR"
	case EventDeviceError:
		return "DEVICE_ERROR"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event is an observable change in a bridge session. Events are delivered to
// handlers in the order they occurred.
type Event struct {
	Type EventType

	// SessionID identifies the transport session the event belongs to; empty
	// before the first connect.
	SessionID string

	// State is the state after the event; Prev the state before it. Set for
	// every event type.
	State State
	Prev  State

	// ControlType is the dialect's name for a control message ("ready",
	// "error", "text", ...) when known.
	ControlType string

	// Control is the raw control message for [EventControl].
	Control []byte

	// Err carries the failure for error and disconnect events.
	Err error

	// Time is when the event was emitted.
	Time time.Time
}

// Recorder receives bridge measurements. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	FrameSent()
	FrameDropped(reason string)
	PayloadScheduled(buffered time.Duration)
	PayloadDecodeError()
	PlaybackUnderrun()
	ConnectFinished(d time.Duration, err error)
	CaptureConverted(d time.Duration)
	SessionOpened()
	SessionClosed()
}

// Reasons passed to [Recorder.FrameDropped].
const (
	DropNotConnected = "not_connected"
	DropBackpressure = "backpressure"
	DropEncode       = "encode"
)

// NopRecorder discards all measurements.
type NopRecorder struct{}

var _ Recorder = NopRecorder{}

func (NopRecorder) FrameSent()                           {}
func (NopRecorder) FrameDropped(string)                  {}
func (NopRecorder) PayloadScheduled(time.Duration)       {}
func (NopRecorder) PayloadDecodeError()                  {}
func (NopRecorder) PlaybackUnderrun()                    {}
func (NopRecorder) ConnectFinished(time.Duration, error) {}
func (NopRecorder) CaptureConverted(time.Duration)       {}
func (NopRecorder) SessionOpened()                       {}
func (NopRecorder) SessionClosed()                       {}
