package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lingobridge/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
session:
  language: Spanish
  topic: Travel
`

const watcherUpdatedYAML = `
server:
  log_level: debug
session:
  language: Spanish
  topic: Food
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bump moves the file's mtime forward so the next Check notices the write
// even on filesystems with coarse timestamps.
func bump(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
}

type changes struct {
	mu   sync.Mutex
	old  []*config.Config
	new  []*config.Config
	seen chan struct{}
}

func newChanges() *changes { return &changes{seen: make(chan struct{}, 8)} }

func (c *changes) record(old, new *config.Config) {
	c.mu.Lock()
	c.old = append(c.old, old)
	c.new = append(c.new, new)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.new)
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Session.Topic != "Travel" {
		t.Errorf("topic: got %q, want Travel", cfg.Session.Topic)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	ch := newChanges()
	w, err := config.NewWatcher(cfgPath, ch.record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bump(t, cfgPath, time.Second)
	w.Check()

	if ch.count() != 1 {
		t.Fatalf("callback calls: got %d, want 1", ch.count())
	}
	if ch.old[0].Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", ch.old[0].Server.LogLevel, config.LogInfo)
	}
	if ch.new[0].Session.Topic != "Food" {
		t.Errorf("new topic: got %q, want Food", ch.new[0].Session.Topic)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", got, config.LogDebug)
	}

	d := config.Diff(ch.old[0], ch.new[0])
	if !d.SessionChanged || !d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected diff: %+v", d)
	}
}

func TestWatcher_RunPolls(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	ch := newChanges()
	w, err := config.NewWatcher(cfgPath, ch.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bump(t, cfgPath, time.Second)

	select {
	case <-ch.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	ch := newChanges()
	w, err := config.NewWatcher(cfgPath, ch.record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeFile(t, cfgPath, watcherInvalidYAML)
	bump(t, cfgPath, time.Second)
	w.Check()

	if ch.count() != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", ch.count())
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", got)
	}

	// Fixing the file is picked up on the next poll.
	writeFile(t, cfgPath, watcherUpdatedYAML)
	bump(t, cfgPath, 2*time.Second)
	w.Check()
	if ch.count() != 1 {
		t.Errorf("callback calls after fix: got %d, want 1", ch.count())
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)
	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	ch := newChanges()
	w, err := config.NewWatcher(cfgPath, ch.record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bump(t, cfgPath, time.Second)
	w.Check()

	if ch.count() != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", ch.count())
	}
}
