package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrEmptyPayload is returned when a payload carries no audio bytes.
	ErrEmptyPayload = errors.New("audio: empty payload")

	// ErrOddLength is returned when PCM16 data has an odd number of bytes.
	ErrOddLength = errors.New("audio: odd byte count in PCM16 data")
)

// Int16ToFloat32 maps a PCM16 sample to [-1, 1) by dividing by 32768.
func Int16ToFloat32(s int16) float32 {
	return float32(s) / 32768
}

// Float32ToInt16 maps a sample in [-1, 1] to PCM16. Values outside the range
// are clamped. Negative samples scale by 0x8000 and positive ones by 0x7FFF so
// that both ends of the range are reachable.
func Float32ToInt16(f float32) int16 {
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	if f < 0 {
		return int16(math.Round(float64(f) * 0x8000))
	}
	return int16(math.Round(float64(f) * 0x7FFF))
}

// DecodePCM16 converts little-endian PCM16 bytes into float32 samples.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = Int16ToFloat32(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}
	return out, nil
}

// EncodePCM16 converts float32 samples into little-endian PCM16 bytes.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		s := Float32ToInt16(f)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodePayload unwraps p according to its encoding and returns the float32
// samples it carries.
func DecodePayload(p Payload) ([]float32, error) {
	pcm := p.Data
	if p.Encoding == PayloadBase64 {
		buf := make([]byte, base64.StdEncoding.DecodedLen(len(p.Data)))
		n, err := base64.StdEncoding.Decode(buf, p.Data)
		if err != nil {
			return nil, fmt.Errorf("audio: base64: %w", err)
		}
		pcm = buf[:n]
	}
	return DecodePCM16(pcm)
}

// SamplesDuration returns how long n mono samples last at rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// RMS returns the root-mean-square level of samples, in [0, 1] for
// normalised input. Used as the audio level signal for visualisation.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
