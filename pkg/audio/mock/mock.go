// Package mock provides in-memory implementations of the [audio.Clock],
// [audio.InputDevice], [audio.InputStream] and [audio.OutputDevice]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values. Set the exported fields
// before handing the mock to the code under test; read results back through
// the accessor methods, which take the lock.
//
// Typical usage:
//
//	mic := &mock.InputDevice{StreamFormat: audio.Format{SampleRate: 48000, Channels: 2}}
//	spk := &mock.OutputDevice{Rate: 24000}
//	actx := audio.NewContext(mic, spk.Opener())
//	// ... start capture, then:
//	mic.LastStream().Push(samples)
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// ─── Clock ────────────────────────────────────────────────────────────────────

// Clock is a manually driven [audio.Clock]. The zero value reads 0.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

var _ audio.Clock = (*Clock)(nil)

// Now implements [audio.Clock].
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to d.
func (c *Clock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream] fed by [InputStream.Push].
type InputStream struct {
	format audio.Format
	ch     chan []float32

	mu     sync.Mutex
	closed bool

	callCountClose int
}

var _ audio.InputStream = (*InputStream)(nil)

// NewInputStream returns an open stream delivering buffers in format.
func NewInputStream(format audio.Format) *InputStream {
	return &InputStream{format: format, ch: make(chan []float32, 256)}
}

// Format implements [audio.InputStream].
func (s *InputStream) Format() audio.Format { return s.format }

// Samples implements [audio.InputStream].
func (s *InputStream) Samples() <-chan []float32 { return s.ch }

// Close implements [audio.InputStream]. Closes the Samples channel once.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Push delivers samples to the consumer. It reports false when the stream is
// closed or its buffer is full.
func (s *InputStream) Push(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- samples:
		return true
	default:
		return false
	}
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CallCountClose returns how many times Close was called.
func (s *InputStream) CallCountClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCountClose
}

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock [audio.InputDevice]. Each successful Open creates a
// new [InputStream] recorded in open order.
type InputDevice struct {
	// DeviceName is returned by Name. Defaults to "mock-mic".
	DeviceName string

	// StreamFormat is the format of opened streams. Defaults to 16 kHz mono.
	StreamFormat audio.Format

	// OpenError is returned by Open when non-nil.
	OpenError error

	// OpenGate, when non-nil, makes Open block until the channel is closed
	// or ctx is cancelled. Use it to hold a permission prompt open.
	OpenGate <-chan struct{}

	mu            sync.Mutex
	callCountOpen int
	streams       []*InputStream
}

var _ audio.InputDevice = (*InputDevice)(nil)

// Name implements [audio.InputDevice].
func (d *InputDevice) Name() string {
	if d.DeviceName == "" {
		return "mock-mic"
	}
	return d.DeviceName
}

// Open implements [audio.InputDevice].
func (d *InputDevice) Open(ctx context.Context) (audio.InputStream, error) {
	d.mu.Lock()
	d.callCountOpen++
	gate := d.OpenGate
	openErr := d.OpenError
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	format := d.StreamFormat
	if format.SampleRate == 0 {
		format = audio.Format{SampleRate: 16000, Channels: 1}
	}
	s := NewInputStream(format)

	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// CallCountOpen returns how many times Open was called.
func (d *InputDevice) CallCountOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.callCountOpen
}

// Streams returns all streams opened so far.
func (d *InputDevice) Streams() []*InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*InputStream, len(d.streams))
	copy(out, d.streams)
	return out
}

// LastStream returns the most recently opened stream, or nil.
func (d *InputDevice) LastStream() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// Held reports whether any opened stream is still open.
func (d *InputDevice) Held() bool {
	for _, s := range d.Streams() {
		if !s.Closed() {
			return true
		}
	}
	return false
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// ErrOutputClosed is returned by [OutputDevice.Schedule] after Close.
var ErrOutputClosed = errors.New("mock: output device closed")

// ScheduleCall records the arguments of a single [OutputDevice.Schedule]
// invocation.
type ScheduleCall struct {
	// At is the clock position passed to Schedule.
	At time.Duration
	// Samples is the buffer passed to Schedule.
	Samples []float32
}

// OutputDevice is a mock [audio.OutputDevice] driven by its embedded manual
// [Clock]. Nothing is played; scheduled buffers are only recorded.
type OutputDevice struct {
	Clock

	// Rate is returned by SampleRate. Defaults to 24000.
	Rate int

	// ScheduleError is returned by Schedule when non-nil.
	ScheduleError error

	// OpenError is returned by the opener from [OutputDevice.Opener].
	OpenError error

	mu             sync.Mutex
	scheduleCalls  []ScheduleCall
	callCountFlush int
	callCountClose int
	callCountOpen  int
	closed         bool
}

var _ audio.OutputDevice = (*OutputDevice)(nil)

// SampleRate implements [audio.OutputDevice].
func (o *OutputDevice) SampleRate() int {
	if o.Rate == 0 {
		return 24000
	}
	return o.Rate
}

// Schedule implements [audio.OutputDevice]. Records the call.
func (o *OutputDevice) Schedule(at time.Duration, samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleError != nil {
		return o.ScheduleError
	}
	if o.closed {
		return ErrOutputClosed
	}
	o.scheduleCalls = append(o.scheduleCalls, ScheduleCall{At: at, Samples: samples})
	return nil
}

// Flush implements [audio.OutputDevice].
func (o *OutputDevice) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callCountFlush++
}

// Close implements [audio.OutputDevice].
func (o *OutputDevice) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callCountClose++
	o.closed = true
	return nil
}

// Opener returns an [audio.OutputOpener] that hands out o, reopening it if it
// was closed.
func (o *OutputDevice) Opener() audio.OutputOpener {
	return func() (audio.OutputDevice, error) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.callCountOpen++
		if o.OpenError != nil {
			return nil, o.OpenError
		}
		o.closed = false
		return o, nil
	}
}

// ScheduleCalls returns a copy of all recorded Schedule calls.
func (o *OutputDevice) ScheduleCalls() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScheduleCall, len(o.scheduleCalls))
	copy(out, o.scheduleCalls)
	return out
}

// CallCountFlush returns how many times Flush was called.
func (o *OutputDevice) CallCountFlush() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callCountFlush
}

// CallCountClose returns how many times Close was called.
func (o *OutputDevice) CallCountClose() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callCountClose
}

// CallCountOpen returns how many times the opener was invoked.
func (o *OutputDevice) CallCountOpen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callCountOpen
}

// Closed reports whether the device is currently closed.
func (o *OutputDevice) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
