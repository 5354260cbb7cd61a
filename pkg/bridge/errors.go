package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is the sentinel matched by every [NotConnectedError].
	ErrNotConnected = errors.New("bridge: not connected")

	// ErrAlreadyConnected is returned when connect is requested while a
	// session is connecting or live.
	ErrAlreadyConnected = errors.New("bridge: already connected")

	// ErrAlreadyRecording is returned when recording is started twice.
	ErrAlreadyRecording = errors.New("bridge: already recording")

	// ErrSessionClosed is returned when an operation's session was torn down
	// while the operation was suspended (e.g. disconnect during connect).
	ErrSessionClosed = errors.New("bridge: session closed")
)

// NotConnectedError reports an operation attempted while the session was not
// in a state that allows it.
type NotConnectedError struct {
	// Op names the rejected operation, e.g. "start recording".
	Op string
	// State is the state the session was in.
	State State
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("bridge: %s: not connected (state %s)", e.Op, e.State)
}

// Is makes errors.Is(err, ErrNotConnected) match.
func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}

// ConnectionError reports a failed handshake or a transport failure.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bridge: connection to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DeviceAccessError reports an audio device that is unavailable or whose
// use was refused.
type DeviceAccessError struct {
	Device string
	Err    error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("bridge: device %s: %v", e.Device, e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// DecodeError reports an inbound payload that could not be decoded. The
// payload is dropped; playback continues with the next one.
type DecodeError struct {
	// Size is the length of the offending payload in bytes.
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bridge: decode %d-byte payload: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
