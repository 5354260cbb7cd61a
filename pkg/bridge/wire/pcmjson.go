package wire

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// ── pcm-json ──────────────────────────────────────────────────────────────────

// PCMJSON is the default dialect. Outbound frames are JSON text messages
//
//	{"realtime_input":{"media_chunks":[{"mime_type":"audio/pcm","data":"<base64>"}]}}
//
// Inbound binary messages are raw PCM16; text messages of the form
// {"audio":"<base64>"} are base64 PCM16; any other text is control.
type PCMJSON struct{}

var _ Dialect = PCMJSON{}

type pcmRealtimeMessage struct {
	RealtimeInput pcmRealtimeInput `json:"realtime_input"`
}

type pcmRealtimeInput struct {
	MediaChunks []pcmMediaChunk `json:"media_chunks"`
}

type pcmMediaChunk struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type pcmInbound struct {
	Audio *string `json:"audio"`
	Type  string  `json:"type"`
}

// Name implements [Dialect].
func (PCMJSON) Name() string { return "pcm-json" }

// Handshake implements [Dialect]. pcm-json has no handshake.
func (PCMJSON) Handshake(Setup) ([]Message, error) { return nil, nil }

// EncodeFrame implements [Dialect].
func (PCMJSON) EncodeFrame(frame audio.AudioFrame) (Message, error) {
	data, err := json.Marshal(pcmRealtimeMessage{
		RealtimeInput: pcmRealtimeInput{
			MediaChunks: []pcmMediaChunk{{MIMEType: frame.MIMEType(), Data: b64(frame.Data)}},
		},
	})
	if err != nil {
		return Message{}, fmt.Errorf("wire: pcm-json: marshal frame: %w", err)
	}
	return Message{Type: MessageText, Data: data}, nil
}

// EndTurn implements [Dialect]. pcm-json has no end-of-turn marker.
func (PCMJSON) EndTurn() (Message, bool) { return Message{}, false }

// ContextSwitch implements [Dialect]. pcm-json cannot switch in place.
func (PCMJSON) ContextSwitch(Setup) (Message, bool, error) { return Message{}, false, nil }

// Goodbye implements [Dialect].
func (PCMJSON) Goodbye() (Message, bool) { return Message{}, false }

// Classify implements [Dialect].
func (PCMJSON) Classify(msg Message) []Inbound {
	return []Inbound{classifyPCM(msg)}
}

func classifyPCM(msg Message) Inbound {
	if msg.Type == MessageBinary {
		return audioRaw(msg.Data)
	}
	var in pcmInbound
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		return control(msg, "")
	}
	if in.Audio != nil {
		return audioBase64(*in.Audio)
	}
	return control(msg, in.Type)
}

// ── raw ───────────────────────────────────────────────────────────────────────

// Raw sends every frame as a binary message holding the frame bytes as-is
// (PCM16 or an Opus container, depending on the capture codec). Inbound
// classification is the same as [PCMJSON].
type Raw struct{}

var _ Dialect = Raw{}

// Name implements [Dialect].
func (Raw) Name() string { return "raw" }

// Handshake implements [Dialect]. raw has no handshake.
func (Raw) Handshake(Setup) ([]Message, error) { return nil, nil }

// EncodeFrame implements [Dialect].
func (Raw) EncodeFrame(frame audio.AudioFrame) (Message, error) {
	return Message{Type: MessageBinary, Data: frame.Data}, nil
}

// EndTurn implements [Dialect].
func (Raw) EndTurn() (Message, bool) { return Message{}, false }

// ContextSwitch implements [Dialect].
func (Raw) ContextSwitch(Setup) (Message, bool, error) { return Message{}, false, nil }

// Goodbye implements [Dialect].
func (Raw) Goodbye() (Message, bool) { return Message{}, false }

// Classify implements [Dialect].
func (Raw) Classify(msg Message) []Inbound {
	return []Inbound{classifyPCM(msg)}
}
