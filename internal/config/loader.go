package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lingobridge/pkg/bridge/wire"
)

// Environment variables that override the config file.
const (
	EnvEndpoint  = "LINGOBRIDGE_ENDPOINT"
	EnvAPIKey    = "LINGOBRIDGE_API_KEY"
	EnvGeminiKey = "GEMINI_API_KEY"
	EnvLogLevel  = "LINGOBRIDGE_LOG_LEVEL"
	EnvDialect   = "LINGOBRIDGE_DIALECT"
)

// opusRates lists the sample rates the Opus encoder accepts.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides, and validates the result. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from the given .env files (default
// ".env"). Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the environment variables visible through
// lookup. LINGOBRIDGE_API_KEY takes precedence over GEMINI_API_KEY.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvEndpoint); ok && v != "" {
		cfg.Bridge.Endpoint = v
	}
	if v, ok := lookup(EnvDialect); ok && v != "" {
		cfg.Bridge.Dialect = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		cfg.Bridge.APIKey = v
	} else if v, ok := lookup(EnvGeminiKey); ok && v != "" && cfg.Bridge.APIKey == "" {
		cfg.Bridge.APIKey = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Bridge
	if cfg.Bridge.Endpoint == "" {
		errs = append(errs, errors.New("bridge.endpoint is required"))
	} else if u, err := url.Parse(cfg.Bridge.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("bridge.endpoint %q is not a valid URL: %w", cfg.Bridge.Endpoint, err))
	} else if !slices.Contains([]string{"ws", "wss", "http", "https"}, u.Scheme) {
		errs = append(errs, fmt.Errorf("bridge.endpoint scheme %q is invalid; valid values: ws, wss, http, https", u.Scheme))
	}
	if _, err := wire.Lookup(cfg.Bridge.Dialect); err != nil {
		errs = append(errs, fmt.Errorf("bridge.dialect: %w", err))
	}
	if cfg.Bridge.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("bridge.send_queue %d must not be negative", cfg.Bridge.SendQueue))
	}
	if cfg.Bridge.Keepalive < 0 {
		errs = append(errs, fmt.Errorf("bridge.keepalive %v must not be negative", cfg.Bridge.Keepalive))
	}
	if cfg.Bridge.Dialect == "gemini-live" && cfg.Bridge.APIKey == "" {
		slog.Warn("bridge.dialect is gemini-live but no API key is configured; set LINGOBRIDGE_API_KEY or GEMINI_API_KEY")
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.FrameInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_interval %v must be positive", cfg.Capture.FrameInterval))
	}
	if cfg.Capture.Codec != "" && !cfg.Capture.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("capture.codec %q is invalid; valid values: pcm, opus", cfg.Capture.Codec))
	}
	if cfg.Capture.Codec == CodecOpus {
		if !slices.Contains(opusRates, cfg.Capture.SampleRate) {
			errs = append(errs, fmt.Errorf("capture.sample_rate %d is not supported by opus; valid values: %v", cfg.Capture.SampleRate, opusRates))
		}
		if cfg.Capture.FrameInterval%(20*time.Millisecond) != 0 {
			errs = append(errs, fmt.Errorf("capture.frame_interval %v must be a multiple of 20ms with opus", cfg.Capture.FrameInterval))
		}
		if cfg.Bridge.Dialect != "raw" {
			slog.Warn("capture.codec opus is usually paired with bridge.dialect raw", "dialect", cfg.Bridge.Dialect)
		}
	}
	validateBackend("capture", cfg.Capture.Backend)
	if cfg.Capture.Backend == BackendFile && cfg.Capture.Device == "" {
		errs = append(errs, errors.New("capture.device is required when capture.backend is file"))
	}

	// Playback
	if cfg.Playback.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d must be positive", cfg.Playback.SampleRate))
	}
	validateBackend("playback", cfg.Playback.Backend)

	// Session
	if cfg.Session.Mode != "" && !cfg.Session.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: Assisted, Non-Assisted", cfg.Session.Mode))
	}

	// Reconnect
	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d must not be negative", cfg.Reconnect.MaxAttempts))
	}
	if cfg.Reconnect.MaxBackoff > 0 && cfg.Reconnect.InitialBackoff > cfg.Reconnect.MaxBackoff {
		errs = append(errs, fmt.Errorf("reconnect.initial_backoff %v exceeds reconnect.max_backoff %v", cfg.Reconnect.InitialBackoff, cfg.Reconnect.MaxBackoff))
	}

	return errors.Join(errs...)
}

// validateBackend logs a warning if name is non-empty and not one of the
// built-in backends.
func validateBackend(kind, name string) {
	if name == "" || slices.Contains(BuiltinBackends, name) {
		return
	}
	slog.Warn("unknown device backend; it must be registered before startup",
		"kind", kind,
		"name", name,
		"known", BuiltinBackends,
	)
}
