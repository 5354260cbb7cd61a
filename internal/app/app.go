// Package app wires the lingobridge subsystems into a running application.
//
// The App owns the full lifecycle: New resolves the audio devices and builds
// the session controller, Run serves the push-to-talk console, the
// operational HTTP endpoints, the config watcher and the reconnect policy
// until the context ends or the user quits, and Shutdown tears the session
// down.
//
// For testing, inject devices with [WithDevices] and console streams with
// [WithConsole]. When an option is not provided, New resolves devices from
// the [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lingobridge/internal/config"
	"github.com/MrWong99/lingobridge/internal/health"
	"github.com/MrWong99/lingobridge/internal/observe"
	"github.com/MrWong99/lingobridge/internal/resilience"
	"github.com/MrWong99/lingobridge/internal/session"
	"github.com/MrWong99/lingobridge/pkg/audio"
	"github.com/MrWong99/lingobridge/pkg/bridge"
	"github.com/MrWong99/lingobridge/pkg/bridge/capture"
	"github.com/MrWong99/lingobridge/pkg/bridge/controller"
	"github.com/MrWong99/lingobridge/pkg/bridge/playback"
	"github.com/MrWong99/lingobridge/pkg/bridge/transport"
	"github.com/MrWong99/lingobridge/pkg/bridge/wire"
)

// shutdownTimeout bounds the HTTP server drain.
const shutdownTimeout = 5 * time.Second

// connectTimeout bounds a console-initiated connect.
const connectTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	registry *config.Registry
	input    audio.InputDevice
	output   audio.OutputOpener
	actx     *audio.Context

	ctrl        *controller.Controller
	metrics     *observe.Metrics
	level       *slog.LevelVar
	reconnector *session.Reconnector

	configPath    string
	watchInterval time.Duration
	watcher       *config.Watcher

	in  io.Reader
	out io.Writer

	handler http.Handler

	stopOnce sync.Once
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the device backend registry used when no devices are
// injected.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithDevices injects the microphone and speaker instead of creating them
// from the registry.
func WithDevices(in audio.InputDevice, out audio.OutputOpener) Option {
	return func(a *App) {
		a.input = in
		a.output = out
	}
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar sets the level variable of the process logger so config
// reloads can change verbosity.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigWatch enables live reload of the config file at path.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithConsole sets the streams of the push-to-talk console. A nil reader
// disables the console.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = in
		a.out = out
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It resolves the devices but opens neither;
// the microphone is acquired on the first recording and the speaker on the
// first inbound audio.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, out: io.Discard}
	for _, o := range opts {
		o(a)
	}
	if a.out == nil {
		a.out = io.Discard
	}
	// Events arrive from the dispatch goroutine while the console writes.
	a.out = &lockedWriter{w: a.out}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	if err := a.initDevices(); err != nil {
		return nil, fmt.Errorf("app: init devices: %w", err)
	}

	dialect, err := wire.Lookup(cfg.Bridge.Dialect)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.actx = audio.NewContext(a.input, a.output)
	a.ctrl = controller.New(cfg.Bridge.Endpoint, a.actx,
		controller.WithRecorder(a.metrics),
		controller.WithSetup(SetupFromConfig(cfg)),
		controller.WithTransportOptions(
			transport.WithDialect(dialect),
			transport.WithAPIKey(cfg.Bridge.APIKey),
			transport.WithSendQueue(cfg.Bridge.SendQueue),
			transport.WithKeepalive(cfg.Bridge.Keepalive),
		),
		controller.WithCaptureOptions(
			capture.WithSampleRate(cfg.Capture.SampleRate),
			capture.WithFrameInterval(cfg.Capture.FrameInterval),
			capture.WithCodec(capture.Codec(cfg.Capture.Codec)),
		),
		controller.WithPlaybackOptions(
			playback.WithSampleRate(cfg.Playback.SampleRate),
		),
	)
	a.ctrl.OnEvent(a.report)

	if cfg.Reconnect.Enabled {
		a.reconnector = session.NewReconnector(a.ctrl, session.ReconnectorConfig{
			MaxRetries: cfg.Reconnect.MaxAttempts,
			Backoff:    cfg.Reconnect.InitialBackoff,
			MaxBackoff: cfg.Reconnect.MaxBackoff,
			Breaker: resilience.NewBreaker(resilience.BreakerConfig{
				Name:     "bridge.connect",
				Cooldown: 2 * cfg.Reconnect.MaxBackoff,
			}),
			OnReconnect: func(attempt int) {
				fmt.Fprintf(a.out, "reconnected after %d attempt(s)\n", attempt)
			},
			OnGiveUp: func(err error) {
				fmt.Fprintf(a.out, "reconnect failed: %v\n", err)
			},
		})
		a.ctrl.OnEvent(a.reconnector.Observe)
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig, config.WithInterval(a.watchInterval))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	a.handler = a.buildHandler()

	slog.Info("app initialised",
		"endpoint", cfg.Bridge.Endpoint,
		"dialect", dialect.Name(),
		"input", a.input.Name(),
		"codec", cfg.Capture.Codec,
		"reconnect", cfg.Reconnect.Enabled,
	)
	return a, nil
}

func (a *App) initDevices() error {
	if a.input != nil && a.output != nil {
		return nil
	}
	if a.registry == nil {
		return errors.New("no devices injected and no registry configured")
	}
	if a.input == nil {
		in, err := a.registry.CreateInput(a.cfg.Capture)
		if err != nil {
			return fmt.Errorf("input backend %q: %w", a.cfg.Capture.Backend, err)
		}
		a.input = in
	}
	if a.output == nil {
		out, err := a.registry.CreateOutput(a.cfg.Playback)
		if err != nil {
			return fmt.Errorf("output backend %q: %w", a.cfg.Playback.Backend, err)
		}
		a.output = out
	}
	return nil
}

// SetupFromConfig derives the session parameters announced on connect.
func SetupFromConfig(cfg *config.Config) wire.Setup {
	return wire.Setup{
		Model:        cfg.Bridge.Model,
		Voice:        cfg.Bridge.Voice,
		Instructions: cfg.Session.Instructions,
		Language:     cfg.Session.Language,
		Topic:        cfg.Session.Topic,
		Mode:         string(cfg.Session.Mode),
	}
}

// Controller returns the session controller.
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Handler returns the operational HTTP handler (/metrics, /healthz, /readyz).
func (a *App) Handler() http.Handler { return a.handler }

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.WithState(a.ctrl.State),
		health.WithCheckers(health.SessionLive(a.ctrl.State)),
	).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run blocks until ctx is cancelled or the console quits, then disconnects.
// A console quit is a clean exit and returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.handler, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.reconnector != nil {
		g.Go(func() error { return a.reconnector.Run(gctx) })
	}
	if a.in != nil {
		g.Go(func() error { return a.console(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.Shutdown()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// Shutdown disconnects the session and releases the devices. It is
// idempotent.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		if a.reconnector != nil {
			a.reconnector.Cancel()
		}
		a.ctrl.Disconnect()
		if err := a.actx.Release(); err != nil {
			slog.Warn("release audio devices", "err", err)
		}
		slog.Info("shutdown complete")
	})
}

// ─── Actions ─────────────────────────────────────────────────────────────────

// Connect connects the controller inside a traced span.
func (a *App) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "bridge.connect")
	err := a.ctrl.Connect(ctx)
	observe.EndSpan(span, err)
	if err != nil {
		observe.Logger(ctx).Warn("connect failed", "endpoint", a.Config().Bridge.Endpoint, "err", err)
	}
	return err
}

// Disconnect ends the session and abandons a pending reconnect.
func (a *App) Disconnect() {
	if a.reconnector != nil {
		a.reconnector.Cancel()
	}
	a.ctrl.Disconnect()
}

// ToggleRecording starts recording when connected and stops it when
// recording.
func (a *App) ToggleRecording(ctx context.Context) error {
	if a.ctrl.IsRecording() {
		a.ctrl.StopRecording()
		return nil
	}
	ctx, span := observe.StartSpan(ctx, "bridge.start_recording")
	err := a.ctrl.StartRecording(ctx)
	observe.EndSpan(span, err)
	return err
}

// SwitchSession changes language, topic or mode of the session. Dialects
// that cannot switch in place keep the change for the next connect.
func (a *App) SwitchSession(sc config.SessionConfig) error {
	a.mu.Lock()
	next := *a.cfg
	next.Session = sc
	a.cfg = &next
	a.mu.Unlock()

	err := a.ctrl.SwitchContext(SetupFromConfig(&next))
	if errors.Is(err, controller.ErrSwitchUnsupported) {
		slog.Info("session change applies on next connect", "language", sc.Language, "topic", sc.Topic)
		return nil
	}
	return err
}

// applyConfig is the config watcher callback.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.mu.Lock()
		next := *a.cfg
		next.Server.LogLevel = d.NewLogLevel
		a.cfg = &next
		a.mu.Unlock()
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		if err := a.SwitchSession(d.NewSession); err != nil {
			slog.Warn("apply session change", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// report logs controller events and echoes them to the console.
func (a *App) report(ev bridge.Event) {
	switch ev.Type {
	case bridge.EventStateChanged:
		slog.Info("state changed", "session_id", ev.SessionID, "from", ev.Prev.String(), "to", ev.State.String())
		fmt.Fprintf(a.out, "[%s]\n", ev.State)
	case bridge.EventControl:
		slog.Debug("control message", "session_id", ev.SessionID, "type", ev.ControlType, "size", len(ev.Control))
		switch ev.ControlType {
		case "text", "transcript", "error":
			fmt.Fprintf(a.out, "< %s %s\n", ev.ControlType, ev.Control)
		}
	case bridge.EventDecodeError:
		slog.Warn("dropped inbound audio", "session_id", ev.SessionID, "err", ev.Err)
	case bridge.EventDeviceError:
		slog.Warn("audio device error", "session_id", ev.SessionID, "err", ev.Err)
		fmt.Fprintf(a.out, "device error: %v\n", ev.Err)
	case bridge.EventDisconnected:
		if ev.Err != nil {
			slog.Warn("session ended", "session_id", ev.SessionID, "err", ev.Err)
			fmt.Fprintf(a.out, "disconnected: %v\n", ev.Err)
		}
	}
}
