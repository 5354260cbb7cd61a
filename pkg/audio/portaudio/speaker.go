package portaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// Speaker is an [audio.OutputDevice] backed by a mono PortAudio playback
// stream. Its clock is the number of frames the device has pulled, so
// scheduled positions are sample-accurate relative to what was played.
type Speaker struct {
	timeline *audio.Timeline
	stream   *pa.Stream

	closeOnce sync.Once
}

var _ audio.OutputDevice = (*Speaker)(nil)

// NewSpeaker opens and starts a playback stream at sampleRate.
func NewSpeaker(sampleRate int, opts ...Option) (*Speaker, error) {
	o := buildOptions(opts)
	if err := acquire(); err != nil {
		return nil, err
	}

	dev, err := findDevice(o.device, false)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: output device: %w", err)
	}

	s := &Speaker{timeline: audio.NewTimeline(sampleRate)}
	params := pa.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = o.framesPerBuffer

	stream, err := pa.OpenStream(params, s.callback)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open output %q at %d Hz: %w", dev.Name, sampleRate, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start output %q: %w", dev.Name, err)
	}
	s.stream = stream

	slog.Debug("portaudio: speaker opened", "device", dev.Name, "sample_rate", sampleRate)
	return s, nil
}

func (s *Speaker) callback(out []float32) {
	s.timeline.Render(out)
}

// Now implements [audio.Clock].
func (s *Speaker) Now() time.Duration { return s.timeline.Now() }

// SampleRate implements [audio.OutputDevice].
func (s *Speaker) SampleRate() int { return s.timeline.SampleRate() }

// Schedule implements [audio.OutputDevice].
func (s *Speaker) Schedule(at time.Duration, samples []float32) error {
	s.timeline.Schedule(at, samples)
	return nil
}

// Flush implements [audio.OutputDevice].
func (s *Speaker) Flush() { s.timeline.Flush() }

// Buffered returns how much scheduled audio has not been played yet.
func (s *Speaker) Buffered() time.Duration { return s.timeline.Buffered() }

// Close implements [audio.OutputDevice].
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop output: %w", stopErr)
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close output: %w", closeErr)
		}
		release()
	})
	return err
}
