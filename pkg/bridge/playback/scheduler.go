// Package playback implements the Playback Scheduler: it decodes inbound
// speech payloads and schedules them back-to-back on the output device clock.
//
// The scheduler keeps one cursor, the clock position at which the next
// segment starts. Every enqueue clamps the cursor forward to the device clock
// when playback has fallen behind, schedules the segment at the cursor and
// advances it by the segment duration. Segments therefore play in arrival
// order with no gap and no overlap while the network keeps pace, and
// self-heal after an underrun instead of being scheduled in the past.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lingobridge/pkg/audio"
	"github.com/MrWong99/lingobridge/pkg/bridge"
)

// DefaultSampleRate is the rate inbound payloads are encoded at.
const DefaultSampleRate = 24000

// Segment describes one scheduled payload.
type Segment struct {
	// Start is the output clock position the segment starts playing at.
	Start time.Duration

	// Duration is samples / sample rate.
	Duration time.Duration

	// Samples is the number of mono samples scheduled.
	Samples int

	// Clamped is true when Start was moved forward to the clock because the
	// cursor had fallen behind.
	Clamped bool
}

// End returns the clock position right after the segment.
func (s Segment) End() time.Duration { return s.Start + s.Duration }

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithSampleRate sets the rate inbound payloads are encoded at. Defaults to
// [DefaultSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithRecorder sets the metrics recorder. Defaults to [bridge.NopRecorder].
func WithRecorder(r bridge.Recorder) Option {
	return func(s *Scheduler) { s.rec = r }
}

// WithOnDecodeError registers a hook called for every dropped payload. It is
// called synchronously from [Scheduler.Enqueue] and must not block.
func WithOnDecodeError(fn func(*bridge.DecodeError)) Option {
	return func(s *Scheduler) { s.onDecodeError = fn }
}

// ── Scheduler ─────────────────────────────────────────────────────────────────

// Scheduler schedules decoded payloads for gap-free playback. The output
// device is taken from the [audio.Context] on the first enqueue and held until
// [Scheduler.Release].
//
// All methods are safe for concurrent use.
type Scheduler struct {
	actx          *audio.Context
	rate          int
	rec           bridge.Recorder
	onDecodeError func(*bridge.DecodeError)

	mu        sync.Mutex
	out       audio.OutputDevice // device the cursor refers to; nil until primed
	nextStart time.Duration
	scheduled int // segments scheduled since the last reset
	warned    bool
}

// New creates a Scheduler playing through the output of actx.
func New(actx *audio.Context, opts ...Option) *Scheduler {
	s := &Scheduler{
		actx: actx,
		rate: DefaultSampleRate,
		rec:  bridge.NopRecorder{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SampleRate returns the payload sample rate.
func (s *Scheduler) SampleRate() int { return s.rate }

// Enqueue decodes payload and schedules it at the cursor.
//
// A payload that fails to decode is dropped and a [*bridge.DecodeError]
// returned; the cursor is untouched, so the next valid payload schedules as
// if the bad one never arrived. An output device that cannot be opened yields
// a [*bridge.DeviceAccessError].
func (s *Scheduler) Enqueue(payload audio.Payload) (Segment, error) {
	samples, err := audio.DecodePayload(payload)
	if err != nil {
		derr := &bridge.DecodeError{Size: len(payload.Data), Err: err}
		s.rec.PayloadDecodeError()
		slog.Warn("playback: dropping malformed payload",
			"size", derr.Size,
			"encoding", payload.Encoding.String(),
			"err", err,
		)
		if s.onDecodeError != nil {
			s.onDecodeError(derr)
		}
		return Segment{}, derr
	}

	out, err := s.actx.Output()
	if err != nil {
		return Segment{}, &bridge.DeviceAccessError{Device: "output", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	samples = s.matchRateLocked(out, samples)
	seg := Segment{
		Samples:  len(samples),
		Duration: audio.SamplesDuration(len(samples), out.SampleRate()),
	}

	now := out.Now()
	if s.out != out {
		// Fresh device: its clock starts over.
		s.out = out
		s.nextStart = now
		s.scheduled = 0
	}
	if s.nextStart < now {
		if s.scheduled > 0 {
			s.rec.PlaybackUnderrun()
			slog.Debug("playback: underrun, clamping cursor to clock",
				"behind", now-s.nextStart,
			)
		}
		s.nextStart = now
		seg.Clamped = true
	}
	seg.Start = s.nextStart

	if err := out.Schedule(seg.Start, samples); err != nil {
		return Segment{}, fmt.Errorf("playback: schedule: %w", err)
	}
	s.nextStart += seg.Duration
	s.scheduled++
	s.rec.PayloadScheduled(s.nextStart - now)
	return seg, nil
}

// matchRateLocked resamples when the device does not run at the payload rate,
// so that segment durations agree with what the device consumes.
func (s *Scheduler) matchRateLocked(out audio.OutputDevice, samples []float32) []float32 {
	devRate := out.SampleRate()
	if devRate == s.rate || devRate <= 0 {
		return samples
	}
	if !s.warned {
		s.warned = true
		slog.Warn("playback: output rate differs from payload rate, resampling",
			"payload_rate", s.rate,
			"device_rate", devRate,
		)
	}
	return audio.ResampleMono(samples, s.rate, devRate)
}

// Reset discards everything scheduled but not yet played and moves the cursor
// to the current clock position. Used on disconnect and context switch so
// stale speech is not played. It does not open the device.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduled = 0
	if s.out == nil || !s.actx.OutputOpen() {
		s.out = nil
		return
	}
	s.out.Flush()
	s.nextStart = s.out.Now()
}

// Buffered returns how much scheduled audio is still ahead of the clock.
func (s *Scheduler) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return 0
	}
	if ahead := s.nextStart - s.out.Now(); ahead > 0 {
		return ahead
	}
	return 0
}

// Release flushes pending audio and closes the output device. The next
// enqueue opens it again. Release never fails; a close error is logged.
func (s *Scheduler) Release() {
	s.mu.Lock()
	if s.out != nil {
		s.out.Flush()
	}
	s.out = nil
	s.scheduled = 0
	s.mu.Unlock()

	if err := s.actx.Release(); err != nil {
		slog.Warn("playback: release output", "err", err)
	}
}
