// Package config provides the configuration schema, loader, device backend
// registry and live-reload watcher for the lingobridge audio bridge.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the corresponding [slog.Level]. Unknown values map to
// info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Codec selects the capture frame encoding.
type Codec string

const (
	// CodecPCM sends raw 16-bit PCM frames.
	CodecPCM Codec = "pcm"

	// CodecOpus sends length-prefixed Opus packet containers.
	CodecOpus Codec = "opus"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecPCM || c == CodecOpus
}

// Mode is the tutoring mode announced to the remote service.
type Mode string

const (
	ModeAssisted    Mode = "Assisted"
	ModeNonAssisted Mode = "Non-Assisted"
)

// IsValid reports whether m is a recognised tutoring mode.
func (m Mode) IsValid() bool {
	return m == ModeAssisted || m == ModeNonAssisted
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultEndpoint         = "ws://localhost:8000/ws/audio-chat"
	DefaultDialect          = "pcm-json"
	DefaultCaptureRate      = 16000
	DefaultPlaybackRate     = 24000
	DefaultFrameInterval    = 100 * time.Millisecond
	DefaultSendQueue        = 32
	DefaultKeepalive        = 20 * time.Second
	DefaultDeviceBackend    = "portaudio"
	DefaultReconnectBackoff = time.Second
	DefaultReconnectMax     = 30 * time.Second
)

// Config is the root configuration structure for lingobridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Capture   CaptureConfig   `yaml:"capture"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Session   SessionConfig   `yaml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ServerConfig holds the optional metrics/health listener and logging
// settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BridgeConfig describes the remote speech service.
type BridgeConfig struct {
	// Endpoint is the websocket URL of the remote service.
	Endpoint string `yaml:"endpoint"`

	// APIKey is appended to the endpoint as the "key" query parameter when
	// set. Prefer the LINGOBRIDGE_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Dialect selects the wire protocol: pcm-json, raw, tutor or gemini-live.
	Dialect string `yaml:"dialect"`

	// Model is the remote model name (gemini-live only).
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name (gemini-live only).
	Voice string `yaml:"voice"`

	// SendQueue is the number of outbound frames buffered before dropping.
	SendQueue int `yaml:"send_queue"`

	// Keepalive is the websocket ping interval.
	Keepalive time.Duration `yaml:"keepalive"`
}

// CaptureConfig configures the microphone side.
type CaptureConfig struct {
	// Backend names the device backend registered in the [Registry]
	// ("portaudio" or "file").
	Backend string `yaml:"backend"`

	// Device selects the input device. For portaudio it is matched as a
	// case-insensitive substring of the device name; for file it is the path
	// of a raw 16-bit PCM file.
	Device string `yaml:"device"`

	// SampleRate is the wire sample rate of outbound frames.
	SampleRate int `yaml:"sample_rate"`

	// FrameInterval is the amount of audio in one frame.
	FrameInterval time.Duration `yaml:"frame_interval"`

	// Codec selects raw PCM or Opus frames.
	Codec Codec `yaml:"codec"`
}

// PlaybackConfig configures the speaker side.
type PlaybackConfig struct {
	// Backend names the device backend registered in the [Registry].
	Backend string `yaml:"backend"`

	// Device selects the output device. For file it is an optional path the
	// played audio is written to.
	Device string `yaml:"device"`

	// SampleRate is the rate inbound payloads are encoded at.
	SampleRate int `yaml:"sample_rate"`
}

// SessionConfig holds the tutoring context announced on connect. It can be
// changed while a session is live; see [Diff].
type SessionConfig struct {
	// Language being practised, e.g. "Spanish".
	Language string `yaml:"language"`

	// Topic of the conversation, e.g. "Travel".
	Topic string `yaml:"topic"`

	// Mode is Assisted or Non-Assisted.
	Mode Mode `yaml:"mode"`

	// Instructions overrides the generated system instruction.
	Instructions string `yaml:"instructions"`
}

// ReconnectConfig enables automatic reconnection after a remote close. The
// bridge itself never reconnects; this is the caller-side policy.
type ReconnectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Bridge.Endpoint == "" {
		cfg.Bridge.Endpoint = DefaultEndpoint
	}
	if cfg.Bridge.Dialect == "" {
		cfg.Bridge.Dialect = DefaultDialect
	}
	if cfg.Bridge.SendQueue == 0 {
		cfg.Bridge.SendQueue = DefaultSendQueue
	}
	if cfg.Bridge.Keepalive == 0 {
		cfg.Bridge.Keepalive = DefaultKeepalive
	}
	if cfg.Capture.Backend == "" {
		cfg.Capture.Backend = DefaultDeviceBackend
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultCaptureRate
	}
	if cfg.Capture.FrameInterval == 0 {
		cfg.Capture.FrameInterval = DefaultFrameInterval
	}
	if cfg.Capture.Codec == "" {
		cfg.Capture.Codec = CodecPCM
	}
	if cfg.Playback.Backend == "" {
		cfg.Playback.Backend = DefaultDeviceBackend
	}
	if cfg.Playback.SampleRate == 0 {
		cfg.Playback.SampleRate = DefaultPlaybackRate
	}
	if cfg.Session.Mode == "" {
		cfg.Session.Mode = ModeAssisted
	}
	if cfg.Reconnect.InitialBackoff == 0 {
		cfg.Reconnect.InitialBackoff = DefaultReconnectBackoff
	}
	if cfg.Reconnect.MaxBackoff == 0 {
		cfg.Reconnect.MaxBackoff = DefaultReconnectMax
	}
}
