package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/lingobridge/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Session: config.SessionConfig{Language: "French", Topic: "Weather"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if d.SessionChanged {
		t.Error("expected SessionChanged=false for identical configs")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-required sections, got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_SessionChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.SessionConfig)
	}{
		{"language", func(s *config.SessionConfig) { s.Language = "German" }},
		{"topic", func(s *config.SessionConfig) { s.Topic = "Sports" }},
		{"mode", func(s *config.SessionConfig) { s.Mode = config.ModeNonAssisted }},
		{"instructions", func(s *config.SessionConfig) { s.Instructions = "be terse" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := baseConfig()
			new := baseConfig()
			tt.mutate(&new.Session)

			d := config.Diff(old, new)
			if !d.SessionChanged {
				t.Fatal("expected SessionChanged=true")
			}
			if d.NewSession != new.Session {
				t.Errorf("NewSession: got %+v, want %+v", d.NewSession, new.Session)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("session edits must not require restart, got %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.ListenAddr = ":9999"
	new.Bridge.Endpoint = "wss://example.com/ws"
	new.Capture.FrameInterval = 40 * time.Millisecond
	new.Playback.SampleRate = 48000
	new.Reconnect.Enabled = true

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "bridge", "capture", "playback", "reconnect"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if d.SessionChanged {
		t.Error("expected SessionChanged=false")
	}
}
