// Package filedev provides a headless audio backend. [Input] plays a raw
// PCM16 file into the pipeline in real time as if it were a microphone;
// [Output] runs a wall-clock playback timeline and optionally records what
// it "plays" to a raw PCM16 file.
//
// It is used when no sound hardware is available (CI, servers, scripted
// sessions).
package filedev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// DefaultChunk is the amount of audio delivered per buffer.
const DefaultChunk = 20 * time.Millisecond

// ─── Input ────────────────────────────────────────────────────────────────────

// InputOption configures an [Input].
type InputOption func(*Input)

// WithChunk sets the buffer duration. Defaults to [DefaultChunk].
func WithChunk(d time.Duration) InputOption {
	return func(in *Input) { in.chunk = d }
}

// WithLoop makes the input restart from the beginning at end of file instead
// of ending the stream.
func WithLoop() InputOption {
	return func(in *Input) { in.loop = true }
}

// Input is an [audio.InputDevice] reading mono little-endian PCM16 from a
// file at a fixed sample rate.
type Input struct {
	path  string
	rate  int
	chunk time.Duration
	loop  bool
}

var _ audio.InputDevice = (*Input)(nil)

// NewInput returns an input reading path, which must contain mono PCM16 at
// sampleRate Hz.
func NewInput(path string, sampleRate int, opts ...InputOption) *Input {
	in := &Input{path: path, rate: sampleRate, chunk: DefaultChunk}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Name implements [audio.InputDevice].
func (in *Input) Name() string { return "file:" + in.path }

// Open implements [audio.InputDevice].
func (in *Input) Open(ctx context.Context) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(in.path)
	if err != nil {
		return nil, fmt.Errorf("filedev: open input: %w", err)
	}

	s := &inputStream{
		format:  audio.Format{SampleRate: in.rate, Channels: 1},
		samples: make(chan []float32, 8),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		file:    f,
	}
	go s.pump(in.chunk, in.loop)
	return s, nil
}

type inputStream struct {
	format  audio.Format
	samples chan []float32
	file    *os.File

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *inputStream) pump(chunk time.Duration, loop bool) {
	defer close(s.done)
	defer close(s.samples)

	buf := make([]byte, max(int(int64(s.format.SampleRate)*int64(chunk)/int64(time.Second)), 1)*2)
	ticker := time.NewTicker(chunk)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(s.file, buf)
		if n >= 2 {
			samples, decErr := audio.DecodePCM16(buf[:n-n%2])
			if decErr == nil {
				select {
				case s.samples <- samples:
				case <-s.stop:
					return
				}
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if !loop {
				return
			}
			if _, err := s.file.Seek(0, io.SeekStart); err != nil {
				slog.Warn("filedev: rewind input failed", "err", err)
				return
			}
		} else if err != nil {
			slog.Warn("filedev: read input failed", "err", err)
			return
		}

		select {
		case <-ticker.C:
		case <-s.stop:
			return
		}
	}
}

func (s *inputStream) Format() audio.Format      { return s.format }
func (s *inputStream) Samples() <-chan []float32 { return s.samples }

func (s *inputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		err = s.file.Close()
	})
	return err
}

// ─── Output ───────────────────────────────────────────────────────────────────

// tick is how often the output renders its timeline.
const tick = 10 * time.Millisecond

// Output is an [audio.OutputDevice] whose clock follows the wall clock from
// the moment it was opened. Rendered audio is written to an optional sink.
type Output struct {
	timeline *audio.Timeline
	sink     io.WriteCloser

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ audio.OutputDevice = (*Output)(nil)

// NewOutput starts a playback clock at sampleRate. When path is non-empty
// the rendered mono PCM16 stream is written to it (created or truncated).
func NewOutput(sampleRate int, path string) (*Output, error) {
	o := &Output{
		timeline: audio.NewTimeline(sampleRate),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("filedev: create output: %w", err)
		}
		o.sink = f
	}
	go o.run()
	return o, nil
}

func (o *Output) run() {
	defer close(o.done)

	rate := int64(o.timeline.SampleRate())
	start := time.Now()
	var rendered int64
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
		}
		target := int64(time.Since(start)) * rate / int64(time.Second)
		if target <= rendered {
			continue
		}
		buf := make([]float32, target-rendered)
		o.timeline.Render(buf)
		rendered = target
		if o.sink != nil {
			if _, err := o.sink.Write(audio.EncodePCM16(buf)); err != nil {
				slog.Warn("filedev: write output failed, disabling sink", "err", err)
				_ = o.sink.Close()
				o.sink = nil
			}
		}
	}
}

// Now implements [audio.Clock].
func (o *Output) Now() time.Duration { return o.timeline.Now() }

// SampleRate implements [audio.OutputDevice].
func (o *Output) SampleRate() int { return o.timeline.SampleRate() }

// Schedule implements [audio.OutputDevice].
func (o *Output) Schedule(at time.Duration, samples []float32) error {
	o.timeline.Schedule(at, samples)
	return nil
}

// Flush implements [audio.OutputDevice].
func (o *Output) Flush() { o.timeline.Flush() }

// Buffered returns how much scheduled audio has not been rendered yet.
func (o *Output) Buffered() time.Duration { return o.timeline.Buffered() }

// Close implements [audio.OutputDevice]. It stops the clock and closes the
// sink file, if any.
func (o *Output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.stop)
		<-o.done
		if o.sink != nil {
			err = o.sink.Close()
		}
	})
	return err
}
