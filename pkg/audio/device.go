// Package audio defines the audio primitives shared by the lingobridge
// pipeline: frame and payload types, PCM16 conversion, sample-rate and
// channel conversion, and the device abstractions the bridge is written
// against.
//
// The primary device abstractions are:
//
//   - [InputDevice] — a microphone that can be opened into an [InputStream].
//   - [OutputDevice] — a speaker exposing a playback [Clock] onto which sample
//     buffers are scheduled at absolute clock positions.
//   - [Context] — the explicitly owned pair of devices handed to the capture
//     pipeline and the playback scheduler.
//
// Backends live in sub-packages (audio/portaudio, audio/filedev) and test
// doubles in audio/mock. This package lives under pkg/ because external code
// is expected to provide its own device backends.
package audio

import (
	"context"
	"time"
)

// Clock reports the playback position of an output device. The position is
// monotonic and starts at zero when the device is opened.
type Clock interface {
	Now() time.Duration
}

// InputStream is an open microphone. Samples are delivered as interleaved
// float32 buffers in [-1, 1] in the stream's native [Format]; buffer sizes are
// backend-defined. The Samples channel is closed when the stream ends, either
// through Close or because the device failed.
//
// Implementations must be safe for concurrent use.
type InputStream interface {
	// Format returns the hardware format of the delivered buffers.
	Format() Format

	// Samples returns the read-only channel of captured buffers.
	Samples() <-chan []float32

	// Close releases the device. It is safe to call Close more than once.
	Close() error
}

// InputDevice acquires exclusive access to a microphone.
type InputDevice interface {
	// Name identifies the device in logs and errors.
	Name() string

	// Open acquires the device and starts capturing. It suspends until the
	// device is granted or refused; ctx bounds only the acquisition.
	Open(ctx context.Context) (InputStream, error)
}

// OutputDevice is an open speaker onto which mono sample buffers are scheduled
// for playback at absolute clock positions.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	Clock

	// SampleRate returns the rate, in Hz, samples passed to Schedule are
	// played at.
	SampleRate() int

	// Schedule queues samples to start playing at clock position at. A
	// position in the past plays immediately; callers are expected to avoid
	// that. Schedule must not block on playback.
	Schedule(at time.Duration, samples []float32) error

	// Flush discards everything scheduled but not yet played.
	Flush()

	// Close releases the device. It is safe to call Close more than once.
	Close() error
}

// OutputOpener opens an output device on demand.
type OutputOpener func() (OutputDevice, error)
