package audio

import "time"

// Encoding names the representation of the bytes carried by an [AudioFrame].
type Encoding string

const (
	// EncodingPCM16 is signed 16-bit little-endian linear PCM.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingOpus is a sequence of Opus packets, each prefixed by its length
	// as a little-endian uint16.
	EncodingOpus Encoding = "opus"
)

// AudioFrame is one outbound chunk of captured audio. Frames are produced by
// the capture pipeline at a fixed cadence and are immutable once produced;
// ownership passes to the transport on send.
type AudioFrame struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// Encoding describes how Data is laid out. The zero value means PCM16.
	Encoding Encoding

	// SampleRate in Hz of the audio before any compression.
	SampleRate int

	// Channels: always 1 for captured speech.
	Channels int

	// Seq is the zero-based production index within one recording span.
	Seq uint64

	// Timestamp marks the frame start relative to the start of recording.
	Timestamp time.Duration

	// Duration is the amount of audio the frame covers.
	Duration time.Duration
}

// IsPCM reports whether the frame carries raw PCM16 samples.
func (f AudioFrame) IsPCM() bool {
	return f.Encoding == "" || f.Encoding == EncodingPCM16
}

// MIMEType returns the MIME type announced to the remote service for f.
func (f AudioFrame) MIMEType() string {
	if f.IsPCM() {
		return "audio/pcm"
	}
	return "audio/opus;framing=u16le"
}

// PayloadEncoding describes how an inbound [Payload] is wrapped on the wire.
type PayloadEncoding int

const (
	// PayloadRaw means Data already holds PCM16 bytes (binary websocket frame).
	PayloadRaw PayloadEncoding = iota

	// PayloadBase64 means Data holds standard base64 text of PCM16 bytes.
	PayloadBase64
)

// String returns the human-readable name of the payload encoding.
func (e PayloadEncoding) String() string {
	switch e {
	case PayloadRaw:
		return "raw"
	case PayloadBase64:
		return "base64"
	default:
		return "unknown"
	}
}

// Payload is one inbound chunk of synthesised speech. It is consumed exactly
// once by the playback scheduler, which is also responsible for decoding it.
type Payload struct {
	Data     []byte
	Encoding PayloadEncoding
}
