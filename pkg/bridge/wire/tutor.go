package wire

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// Tutor is the protocol of the language-tutor audio-chat backend. The client
// opens with a config message, then streams base64 audio:
//
//	→ {"type":"config","language":"Spanish","topic":"Travel","mode":"Assisted"}
//	→ {"type":"audio","data":"<base64>"}
//	→ {"type":"end_turn"}
//	→ {"type":"close"}
//	← {"type":"ready"}
//	← {"type":"audio","data":"<base64>"}
//	← {"type":"text","data":"..."}
//	← {"type":"error","message":"..."}
//
// Sending a new config on a live session switches language, topic or mode.
type Tutor struct{}

var _ Dialect = Tutor{}

type tutorMessage struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	Language string `json:"language,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// Name implements [Dialect].
func (Tutor) Name() string { return "tutor" }

// Handshake implements [Dialect].
func (t Tutor) Handshake(setup Setup) ([]Message, error) {
	msg, err := t.config(setup)
	if err != nil {
		return nil, err
	}
	return []Message{msg}, nil
}

// EncodeFrame implements [Dialect].
func (Tutor) EncodeFrame(frame audio.AudioFrame) (Message, error) {
	return tutorText(tutorMessage{Type: "audio", Data: b64(frame.Data)})
}

// EndTurn implements [Dialect].
func (Tutor) EndTurn() (Message, bool) {
	return Message{Type: MessageText, Data: []byte(`{"type":"end_turn"}`)}, true
}

// ContextSwitch implements [Dialect].
func (t Tutor) ContextSwitch(setup Setup) (Message, bool, error) {
	msg, err := t.config(setup)
	if err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

// Goodbye implements [Dialect].
func (Tutor) Goodbye() (Message, bool) {
	return Message{Type: MessageText, Data: []byte(`{"type":"close"}`)}, true
}

// Classify implements [Dialect].
func (Tutor) Classify(msg Message) []Inbound {
	if msg.Type == MessageBinary {
		return []Inbound{audioRaw(msg.Data)}
	}
	var in tutorMessage
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		return []Inbound{control(msg, "")}
	}
	if in.Type == "audio" && in.Data != "" {
		return []Inbound{audioBase64(in.Data)}
	}
	return []Inbound{control(msg, in.Type)}
}

func (Tutor) config(setup Setup) (Message, error) {
	return tutorText(tutorMessage{
		Type:     "config",
		Language: setup.Language,
		Topic:    setup.Topic,
		Mode:     setup.Mode,
	})
}

func tutorText(m tutorMessage) (Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Message{}, fmt.Errorf("wire: tutor: marshal %s: %w", m.Type, err)
	}
	return Message{Type: MessageText, Data: data}, nil
}
