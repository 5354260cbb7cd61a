package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Converter turns interleaved float32 device buffers into mono samples at the
// target rate. It logs once on the first format mismatch.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedRagged   sync.Once
}

// Convert down-mixes samples (interleaved, src.Channels wide) to mono and
// resamples them from src.SampleRate to the target rate. When src already
// matches the target the input slice is returned unchanged.
func (c *Converter) Convert(samples []float32, src Format) []float32 {
	channels := max(src.Channels, 1)
	if len(samples)%channels != 0 {
		c.warnedRagged.Do(func() {
			slog.Warn("audio converter: buffer is not a whole number of frames, truncating",
				"samples", len(samples),
				"channels", channels,
			)
		})
		samples = samples[:len(samples)-len(samples)%channels]
	}

	if src.SampleRate == c.Target.SampleRate && channels == 1 {
		return samples
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio format mismatch: converting",
			"from", src.String(),
			"to", Format{SampleRate: c.Target.SampleRate, Channels: 1}.String(),
		)
	})

	// Down-mix first so resampling only touches one channel.
	mono := DownmixToMono(samples, channels)
	return ResampleMono(mono, src.SampleRate, c.Target.SampleRate)
}

// DownmixToMono averages each interleaved frame of the given channel count
// into a single sample. Mono input is returned unchanged.
func DownmixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If the rates are equal or invalid, the input is returned
// unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
