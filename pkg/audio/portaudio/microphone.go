package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// Microphone is an [audio.InputDevice] backed by a PortAudio capture stream.
// Streams run at the device's default sample rate; converting to the wire
// rate is the caller's job.
type Microphone struct {
	opts options
}

var _ audio.InputDevice = (*Microphone)(nil)

// NewMicrophone returns a microphone. No device is touched until Open.
func NewMicrophone(opts ...Option) *Microphone {
	return &Microphone{opts: buildOptions(opts)}
}

// Name implements [audio.InputDevice].
func (m *Microphone) Name() string {
	if m.opts.device == "" {
		return "default input"
	}
	return m.opts.device
}

// Open implements [audio.InputDevice].
func (m *Microphone) Open(ctx context.Context) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := acquire(); err != nil {
		return nil, err
	}

	dev, err := findDevice(m.opts.device, true)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: input device: %w", err)
	}
	channels := min(m.opts.channels, dev.MaxInputChannels)

	s := &micStream{
		format:  audio.Format{SampleRate: int(dev.DefaultSampleRate), Channels: channels},
		samples: make(chan []float32, 32),
	}
	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.SampleRate = dev.DefaultSampleRate
	params.FramesPerBuffer = m.opts.framesPerBuffer

	stream, err := pa.OpenStream(params, s.callback)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open input %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start input %q: %w", dev.Name, err)
	}
	s.stream = stream

	slog.Debug("portaudio: microphone opened",
		"device", dev.Name,
		"format", s.format.String(),
	)
	return s, nil
}

type micStream struct {
	format  audio.Format
	samples chan []float32
	stream  *pa.Stream

	closeOnce   sync.Once
	mu          sync.Mutex
	closed      bool
	warnOverrun sync.Once
}

// callback runs on the PortAudio thread. It copies the buffer and never
// blocks: a full channel drops the buffer.
func (s *micStream) callback(in []float32) {
	buf := make([]float32, len(in))
	copy(buf, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.samples <- buf:
	default:
		s.warnOverrun.Do(func() {
			slog.Warn("portaudio: capture consumer too slow, dropping input buffers")
		})
	}
}

func (s *micStream) Format() audio.Format      { return s.format }
func (s *micStream) Samples() <-chan []float32 { return s.samples }

func (s *micStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop input: %w", stopErr)
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close input: %w", closeErr)
		}
		s.mu.Lock()
		s.closed = true
		close(s.samples)
		s.mu.Unlock()
		release()
	})
	return err
}
