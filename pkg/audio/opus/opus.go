// Package opus implements the compressed capture path: mono PCM is encoded
// into 20 ms Opus packets and framed into a container of little-endian uint16
// length-prefixed packets, matching [audio.EncodingOpus].
package opus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// FrameDuration in milliseconds of one Opus packet.
const FrameDuration = 20

// maxPacketSize bounds a single encoded packet. 20 ms of speech at the
// default bitrate stays far below this.
const maxPacketSize = 4000

// ErrTruncated is returned by [Split] when a container ends mid-packet.
var ErrTruncated = errors.New("opus: truncated container")

// Encoder turns mono float32 samples into Opus containers. Samples that do
// not fill a whole 20 ms packet are carried over to the next call.
//
// An Encoder is not safe for concurrent use; create one per recording span.
type Encoder struct {
	enc       *gopus.Encoder
	frameSize int
	pending   []int16
}

// NewEncoder creates an encoder for mono audio at sampleRate. Opus accepts
// 8000, 12000, 16000, 24000 and 48000 Hz.
func NewEncoder(sampleRate int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{
		enc:       enc,
		frameSize: sampleRate * FrameDuration / 1000,
	}, nil
}

// Encode appends samples to the internal buffer and returns a container
// holding every whole packet that could be produced. The result is empty
// when fewer than one packet's worth of samples is buffered.
func (e *Encoder) Encode(samples []float32) ([]byte, error) {
	for _, s := range samples {
		e.pending = append(e.pending, audio.Float32ToInt16(s))
	}

	var out []byte
	for len(e.pending) >= e.frameSize {
		pkt, err := e.enc.Encode(e.pending[:e.frameSize], e.frameSize, maxPacketSize)
		if err != nil {
			return nil, fmt.Errorf("opus: encode: %w", err)
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(len(pkt)))
		out = append(out, pkt...)
		e.pending = e.pending[e.frameSize:]
	}
	// Compact so the backing array does not grow without bound.
	e.pending = append(e.pending[:0:0], e.pending...)
	return out, nil
}

// Reset discards buffered samples.
func (e *Encoder) Reset() {
	e.pending = e.pending[:0]
}

// Split breaks a container back into its packets.
func Split(container []byte) ([][]byte, error) {
	var pkts [][]byte
	for len(container) > 0 {
		if len(container) < 2 {
			return nil, ErrTruncated
		}
		n := int(binary.LittleEndian.Uint16(container))
		container = container[2:]
		if len(container) < n {
			return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrTruncated, n, len(container))
		}
		pkts = append(pkts, container[:n])
		container = container[n:]
	}
	return pkts, nil
}

// Decoder turns Opus containers back into mono float32 samples.
type Decoder struct {
	dec       *gopus.Decoder
	frameSize int
}

// NewDecoder creates a decoder for mono audio at sampleRate.
func NewDecoder(sampleRate int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, frameSize: sampleRate * FrameDuration / 1000}, nil
}

// Decode decodes every packet in container.
func (d *Decoder) Decode(container []byte) ([]float32, error) {
	pkts, err := Split(container)
	if err != nil {
		return nil, err
	}
	var out []float32
	for _, pkt := range pkts {
		pcm, err := d.dec.Decode(pkt, d.frameSize, false)
		if err != nil {
			return nil, fmt.Errorf("opus: decode: %w", err)
		}
		for _, s := range pcm {
			out = append(out, audio.Int16ToFloat32(s))
		}
	}
	return out, nil
}
