// Package wire defines the message dialects the bridge speaks to a remote
// speech service.
//
// A [Dialect] turns outbound [audio.AudioFrame]s and control requests into
// [Message]s, and classifies every inbound message exactly once into the
// tagged variant [Inbound]: audio for the playback scheduler, or control for
// collaborators. Nothing downstream of the transport inspects raw message
// shapes.
//
// Available dialects: [PCMJSON] (the default), [Raw], [Tutor] and
// [GeminiLive]. Use [Lookup] to select one by name.
package wire

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/lingobridge/pkg/audio"
)

// MessageType mirrors the websocket message type of a [Message].
type MessageType int

const (
	// MessageText is a UTF-8 text message (JSON in every dialect here).
	MessageText MessageType = iota + 1

	// MessageBinary is a binary message.
	MessageBinary
)

// String returns the human-readable name of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is one websocket message.
type Message struct {
	Type MessageType
	Data []byte
}

// Kind tags an [Inbound] message.
type Kind int

const (
	// KindAudio carries a [audio.Payload] for the playback scheduler.
	KindAudio Kind = iota

	// KindControl carries an out-of-band message for collaborators.
	KindControl
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Inbound is a classified inbound message.
type Inbound struct {
	Kind Kind

	// Payload is set for KindAudio.
	Payload audio.Payload

	// Control is the raw message for KindControl, passed through untouched.
	Control []byte

	// Type is the dialect's name for a control message when it has one
	// ("ready", "error", "setupComplete", ...).
	Type string
}

// Setup carries the session parameters a dialect may announce on connect or
// on a context switch. Fields a dialect does not use are ignored.
type Setup struct {
	// Model is the remote model name (gemini-live).
	Model string

	// Voice is the prebuilt voice name (gemini-live).
	Voice string

	// Instructions overrides the system instruction derived from Language,
	// Topic and Mode (gemini-live).
	Instructions string

	// Language is the language being practised, e.g. "Spanish".
	Language string

	// Topic is the conversation topic, e.g. "Travel".
	Topic string

	// Mode is "Assisted" or "Non-Assisted".
	Mode string
}

// Dialect encodes and classifies the messages of one wire protocol.
// Implementations must be safe for concurrent use.
type Dialect interface {
	// Name is the identifier accepted by [Lookup].
	Name() string

	// Handshake returns the messages sent right after the websocket opens,
	// in order. It may be empty.
	Handshake(setup Setup) ([]Message, error)

	// EncodeFrame encodes one outbound audio frame.
	EncodeFrame(frame audio.AudioFrame) (Message, error)

	// EndTurn returns the message that marks the end of a push-to-talk span;
	// ok is false when the dialect has none.
	EndTurn() (msg Message, ok bool)

	// ContextSwitch returns the message announcing new session parameters on
	// a live session; ok is false when the dialect cannot switch in place.
	ContextSwitch(setup Setup) (msg Message, ok bool, err error)

	// Goodbye returns the message sent before a local close; ok is false when
	// the dialect has none.
	Goodbye() (msg Message, ok bool)

	// Classify turns one inbound message into zero or more [Inbound] values,
	// in message order.
	Classify(msg Message) []Inbound
}

var dialects = map[string]Dialect{}

func register(d Dialect) { dialects[d.Name()] = d }

func init() {
	register(PCMJSON{})
	register(Raw{})
	register(Tutor{})
	register(GeminiLive{})
}

// DefaultDialect is the dialect used when none is configured.
const DefaultDialect = "pcm-json"

// Lookup returns the dialect registered under name. An empty name selects
// [DefaultDialect].
func Lookup(name string) (Dialect, error) {
	if name == "" {
		name = DefaultDialect
	}
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("wire: unknown dialect %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names returns the registered dialect names, sorted.
func Names() []string {
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func control(msg Message, typ string) Inbound {
	return Inbound{Kind: KindControl, Control: msg.Data, Type: typ}
}

func audioRaw(data []byte) Inbound {
	return Inbound{Kind: KindAudio, Payload: audio.Payload{Data: data, Encoding: audio.PayloadRaw}}
}

func audioBase64(data string) Inbound {
	return Inbound{Kind: KindAudio, Payload: audio.Payload{Data: []byte(data), Encoding: audio.PayloadBase64}}
}
