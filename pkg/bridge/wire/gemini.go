package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// DefaultGeminiModel is used when [Setup.Model] is empty.
const DefaultGeminiModel = "gemini-2.0-flash-live-001"

// GeminiLive speaks the BidiGenerateContent protocol of the Gemini Live API
// directly. The handshake is a setup message carrying model, voice and a
// tutor system instruction; audio goes out as realtimeInput media chunks and
// comes back as inlineData parts of the model turn. Everything else the
// server sends (setupComplete, turnComplete, transcriptions, errors) is
// control.
type GeminiLive struct{}

var _ Dialect = GeminiLive{}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks    []mediaChunk `json:"mediaChunks,omitempty"`
	AudioStreamEnd bool         `json:"audioStreamEnd,omitempty"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *json.RawMessage `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

// ── Dialect ───────────────────────────────────────────────────────────────────

// Name implements [Dialect].
func (GeminiLive) Name() string { return "gemini-live" }

// Handshake implements [Dialect].
func (GeminiLive) Handshake(setup Setup) ([]Message, error) {
	model := setup.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + strings.TrimPrefix(model, "models/"),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
		},
	}
	if instr := TutorInstructions(setup); instr != "" {
		msg.Setup.SystemInstruction = &systemInstruction{Parts: []part{{Text: instr}}}
	}
	if setup.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		}
	}
	m, err := geminiText(msg)
	if err != nil {
		return nil, err
	}
	return []Message{m}, nil
}

// EncodeFrame implements [Dialect].
func (GeminiLive) EncodeFrame(frame audio.AudioFrame) (Message, error) {
	mime := frame.MIMEType()
	if frame.IsPCM() && frame.SampleRate > 0 {
		mime = fmt.Sprintf("audio/pcm;rate=%d", frame.SampleRate)
	}
	return geminiText(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{MIMEType: mime, Data: b64(frame.Data)}},
		},
	})
}

// EndTurn implements [Dialect].
func (GeminiLive) EndTurn() (Message, bool) {
	msg, err := geminiText(realtimeInputMessage{RealtimeInput: realtimeInput{AudioStreamEnd: true}})
	return msg, err == nil
}

// ContextSwitch implements [Dialect]. The setup of a live session cannot be
// changed, so the new context is announced as a user turn.
func (GeminiLive) ContextSwitch(setup Setup) (Message, bool, error) {
	text := TutorInstructions(setup)
	if text == "" {
		return Message{}, false, nil
	}
	msg, err := geminiText(clientContentMessage{
		ClientContent: clientContent{
			Turns:        []contentTurn{{Role: "user", Parts: []part{{Text: "From now on: " + text}}}},
			TurnComplete: true,
		},
	})
	if err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

// Goodbye implements [Dialect].
func (GeminiLive) Goodbye() (Message, bool) { return Message{}, false }

// Classify implements [Dialect].
func (GeminiLive) Classify(msg Message) []Inbound {
	var sm serverMessage
	if err := json.Unmarshal(msg.Data, &sm); err != nil {
		return []Inbound{control(msg, "")}
	}

	switch {
	case sm.Error != nil:
		return []Inbound{control(msg, "error")}
	case sm.SetupComplete != nil:
		return []Inbound{control(msg, "setupComplete")}
	case sm.ServerContent == nil:
		return []Inbound{control(msg, "")}
	}

	sc := sm.ServerContent
	var out []Inbound
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				out = append(out, audioBase64(p.InlineData.Data))
			}
		}
	}
	switch {
	case sc.Interrupted:
		out = append(out, control(msg, "interrupted"))
	case sc.TurnComplete:
		out = append(out, control(msg, "turnComplete"))
	case len(out) == 0:
		out = append(out, control(msg, "serverContent"))
	}
	return out
}

func geminiText(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("wire: gemini-live: marshal: %w", err)
	}
	return Message{Type: MessageText, Data: data}, nil
}

// TutorInstructions builds the system instruction for a tutoring session.
// An explicit [Setup.Instructions] wins; without a language it returns "".
func TutorInstructions(setup Setup) string {
	if setup.Instructions != "" {
		return setup.Instructions
	}
	if setup.Language == "" {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly %s tutor. Speak naturally in %s with a conversational tone. ", setup.Language, setup.Language)
	b.WriteString("Keep responses brief (2-3 sentences) so the conversation flows naturally.")
	if strings.EqualFold(setup.Mode, "Non-Assisted") {
		b.WriteString(" Just have a natural conversation; do not correct the learner.")
	} else {
		b.WriteString(" Gently correct mistakes and offer tips.")
	}
	if setup.Topic != "" {
		fmt.Fprintf(&b, " Focus the conversation on: %s. Use relevant vocabulary naturally.", setup.Topic)
	}
	return b.String()
}
