package wire_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/MrWong99/lingobridge/pkg/audio"
	"github.com/MrWong99/lingobridge/pkg/bridge/wire"
)

func pcmFrame() audio.AudioFrame {
	return audio.AudioFrame{
		Data:       []byte{0x00, 0x40, 0x00, 0xC0},
		Encoding:   audio.EncodingPCM16,
		SampleRate: 16000,
		Channels:   1,
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"pcm-json", "raw", "tutor", "gemini-live"} {
		d, err := wire.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if d.Name() != name {
			t.Errorf("Lookup(%q).Name() = %q", name, d.Name())
		}
	}

	d, err := wire.Lookup("")
	if err != nil || d.Name() != wire.DefaultDialect {
		t.Errorf("Lookup(\"\") = %v, %v; want default dialect", d, err)
	}

	if _, err := wire.Lookup("smoke-signals"); err == nil || !strings.Contains(err.Error(), "pcm-json") {
		t.Errorf("unknown dialect err = %v, want list of available dialects", err)
	}
}

func TestPCMJSON_EncodeFrame(t *testing.T) {
	t.Parallel()

	msg, err := wire.PCMJSON{}.EncodeFrame(pcmFrame())
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if msg.Type != wire.MessageText {
		t.Fatalf("Type = %v, want text", msg.Type)
	}

	var got struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mime_type"`
				Data     string `json:"data"`
			} `json:"media_chunks"`
		} `json:"realtime_input"`
	}
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	chunks := got.RealtimeInput.MediaChunks
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].MIMEType != "audio/pcm" {
		t.Errorf("mime_type = %q, want audio/pcm", chunks[0].MIMEType)
	}
	raw, err := base64.StdEncoding.DecodeString(chunks[0].Data)
	if err != nil {
		t.Fatalf("data is not base64: %v", err)
	}
	if string(raw) != string(pcmFrame().Data) {
		t.Errorf("data = %v, want %v", raw, pcmFrame().Data)
	}
}

func TestPCMJSON_Classify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		msg      wire.Message
		wantKind wire.Kind
		wantEnc  audio.PayloadEncoding
		wantType string
	}{
		{
			name:     "binary is raw audio",
			msg:      wire.Message{Type: wire.MessageBinary, Data: []byte{1, 2}},
			wantKind: wire.KindAudio,
			wantEnc:  audio.PayloadRaw,
		},
		{
			name:     "audio json is base64 audio",
			msg:      wire.Message{Type: wire.MessageText, Data: []byte(`{"audio":"AEA="}`)},
			wantKind: wire.KindAudio,
			wantEnc:  audio.PayloadBase64,
		},
		{
			name:     "other json is control",
			msg:      wire.Message{Type: wire.MessageText, Data: []byte(`{"type":"transcript","text":"hola"}`)},
			wantKind: wire.KindControl,
			wantType: "transcript",
		},
		{
			name:     "plain text is control",
			msg:      wire.Message{Type: wire.MessageText, Data: []byte("hello")},
			wantKind: wire.KindControl,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := wire.PCMJSON{}.Classify(tt.msg)
			if len(got) != 1 {
				t.Fatalf("got %d inbound, want 1", len(got))
			}
			in := got[0]
			if in.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", in.Kind, tt.wantKind)
			}
			if in.Kind == wire.KindAudio && in.Payload.Encoding != tt.wantEnc {
				t.Errorf("Encoding = %v, want %v", in.Payload.Encoding, tt.wantEnc)
			}
			if in.Kind == wire.KindControl {
				if string(in.Control) != string(tt.msg.Data) {
					t.Errorf("control not passed through untouched: %q", in.Control)
				}
				if in.Type != tt.wantType {
					t.Errorf("Type = %q, want %q", in.Type, tt.wantType)
				}
			}
		})
	}
}

func TestPCMJSON_Base64PayloadDecodes(t *testing.T) {
	t.Parallel()

	in := wire.PCMJSON{}.Classify(wire.Message{Type: wire.MessageText, Data: []byte(`{"audio":"AEAAwA=="}`)})[0]
	samples, err := audio.DecodePayload(in.Payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if len(samples) != 2 || samples[0] != 0.5 || samples[1] != -0.5 {
		t.Errorf("samples = %v, want [0.5 -0.5]", samples)
	}
}

func TestRaw_EncodeFrame(t *testing.T) {
	t.Parallel()

	frame := audio.AudioFrame{Data: []byte{3, 0, 1, 2, 3}, Encoding: audio.EncodingOpus}
	msg, err := wire.Raw{}.EncodeFrame(frame)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if msg.Type != wire.MessageBinary || string(msg.Data) != string(frame.Data) {
		t.Errorf("got %v %v, want binary frame bytes", msg.Type, msg.Data)
	}
	if _, ok := (wire.Raw{}).EndTurn(); ok {
		t.Error("raw has no end-of-turn")
	}
}

func TestTutor_Messages(t *testing.T) {
	t.Parallel()

	d := wire.Tutor{}
	hs, err := d.Handshake(wire.Setup{Language: "Spanish", Topic: "Travel", Mode: "Assisted"})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if len(hs) != 1 {
		t.Fatalf("handshake has %d messages, want 1", len(hs))
	}
	var cfg map[string]string
	if err := json.Unmarshal(hs[0].Data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	want := map[string]string{"type": "config", "language": "Spanish", "topic": "Travel", "mode": "Assisted"}
	for k, v := range want {
		if cfg[k] != v {
			t.Errorf("config[%q] = %q, want %q", k, cfg[k], v)
		}
	}

	frame, err := d.EncodeFrame(pcmFrame())
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if !strings.Contains(string(frame.Data), `"type":"audio"`) {
		t.Errorf("frame = %s, want audio message", frame.Data)
	}

	end, ok := d.EndTurn()
	if !ok || string(end.Data) != `{"type":"end_turn"}` {
		t.Errorf("EndTurn = %s, %v", end.Data, ok)
	}
	bye, ok := d.Goodbye()
	if !ok || string(bye.Data) != `{"type":"close"}` {
		t.Errorf("Goodbye = %s, %v", bye.Data, ok)
	}
	sw, ok, err := d.ContextSwitch(wire.Setup{Language: "French"})
	if err != nil || !ok || !strings.Contains(string(sw.Data), `"language":"French"`) {
		t.Errorf("ContextSwitch = %s, %v, %v", sw.Data, ok, err)
	}
}

func TestTutor_Classify(t *testing.T) {
	t.Parallel()

	d := wire.Tutor{}
	got := d.Classify(wire.Message{Type: wire.MessageText, Data: []byte(`{"type":"audio","data":"AEA="}`)})
	if len(got) != 1 || got[0].Kind != wire.KindAudio || got[0].Payload.Encoding != audio.PayloadBase64 {
		t.Errorf("audio message classified as %+v", got)
	}
	for _, typ := range []string{"ready", "error", "text"} {
		got := d.Classify(wire.Message{Type: wire.MessageText, Data: []byte(`{"type":"` + typ + `"}`)})
		if len(got) != 1 || got[0].Kind != wire.KindControl || got[0].Type != typ {
			t.Errorf("%s message classified as %+v", typ, got)
		}
	}
}

func TestGeminiLive_Handshake(t *testing.T) {
	t.Parallel()

	hs, err := wire.GeminiLive{}.Handshake(wire.Setup{Voice: "Puck", Language: "German", Topic: "Food"})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if len(hs) != 1 {
		t.Fatalf("handshake has %d messages, want 1", len(hs))
	}
	var got struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
		} `json:"setup"`
	}
	if err := json.Unmarshal(hs[0].Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Setup.Model != "models/"+wire.DefaultGeminiModel {
		t.Errorf("model = %q", got.Setup.Model)
	}
	if v := got.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Puck" {
		t.Errorf("voice = %q, want Puck", v)
	}
	parts := got.Setup.SystemInstruction.Parts
	if len(parts) != 1 || !strings.Contains(parts[0].Text, "German") || !strings.Contains(parts[0].Text, "Food") {
		t.Errorf("system instruction = %+v", parts)
	}
}

func TestGeminiLive_EncodeFrameCarriesRate(t *testing.T) {
	t.Parallel()

	msg, err := wire.GeminiLive{}.EncodeFrame(pcmFrame())
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if !strings.Contains(string(msg.Data), `"mimeType":"audio/pcm;rate=16000"`) {
		t.Errorf("frame = %s", msg.Data)
	}
}

func TestGeminiLive_Classify(t *testing.T) {
	t.Parallel()

	d := wire.GeminiLive{}
	turn := `{"serverContent":{"modelTurn":{"parts":[` +
		`{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AEA="}},` +
		`{"text":"hola"},` +
		`{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AMA="}}]},"turnComplete":true}}`

	got := d.Classify(wire.Message{Type: wire.MessageText, Data: []byte(turn)})
	if len(got) != 3 {
		t.Fatalf("got %d inbound, want 2 audio + 1 control", len(got))
	}
	if got[0].Kind != wire.KindAudio || string(got[0].Payload.Data) != "AEA=" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Kind != wire.KindAudio || string(got[1].Payload.Data) != "AMA=" {
		t.Errorf("got[1] = %+v", got[1])
	}
	if got[2].Kind != wire.KindControl || got[2].Type != "turnComplete" {
		t.Errorf("got[2] = %+v", got[2])
	}

	setup := d.Classify(wire.Message{Type: wire.MessageText, Data: []byte(`{"setupComplete":{}}`)})
	if len(setup) != 1 || setup[0].Type != "setupComplete" {
		t.Errorf("setupComplete classified as %+v", setup)
	}
}

func TestTutorInstructions(t *testing.T) {
	t.Parallel()

	if got := wire.TutorInstructions(wire.Setup{}); got != "" {
		t.Errorf("empty setup = %q, want empty", got)
	}
	if got := wire.TutorInstructions(wire.Setup{Instructions: "custom", Language: "Spanish"}); got != "custom" {
		t.Errorf("override = %q, want custom", got)
	}
	free := wire.TutorInstructions(wire.Setup{Language: "Italian", Mode: "Non-Assisted"})
	if !strings.Contains(free, "do not correct") {
		t.Errorf("non-assisted instruction = %q", free)
	}
}
