// Command lingobridge streams microphone audio to a remote speech service and
// plays its replies, driven by a push-to-talk console on stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/lingobridge/internal/app"
	"github.com/MrWong99/lingobridge/internal/config"
	"github.com/MrWong99/lingobridge/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

const defaultConfigPath = "lingobridge.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	watch := flag.Bool("watch", false, "reload session and log settings when the config file changes")
	watchInterval := flag.Duration("watch-interval", config.DefaultWatchInterval, "config file polling interval")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "lingobridge: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingobridge: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingobridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("lingobridge starting",
		"version", version,
		"config", *configPath,
		"from_file", fromFile,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Attributes: []attribute.KeyValue{
			attribute.String("bridge.dialect", cfg.Bridge.Dialect),
		},
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Device registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithRegistry(reg),
		app.WithLevelVar(level),
		app.WithConsole(os.Stdin, os.Stdout),
	}
	if *watch {
		if fromFile {
			opts = append(opts, app.WithConfigWatch(*configPath, *watchInterval))
		} else {
			slog.Warn("config watch requested but no config file is in use")
		}
	}

	application, err := app.New(cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	fmt.Println("ready; type h for help")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file at the default location falls back to
// built-in defaults plus environment overrides; fromFile reports which
// happened.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		return cfg, false, err
	}
	return nil, false, err
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║        lingobridge, startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printRow("Endpoint", cfg.Bridge.Endpoint)
	printRow("Dialect", cfg.Bridge.Dialect)
	printRow("Capture", fmt.Sprintf("%s %d Hz %s", cfg.Capture.Backend, cfg.Capture.SampleRate, cfg.Capture.Codec))
	printRow("Playback", fmt.Sprintf("%s %d Hz", cfg.Playback.Backend, cfg.Playback.SampleRate))
	printRow("Session", cfg.Session.Language+" / "+cfg.Session.Topic)
	printRow("Mode", string(cfg.Session.Mode))
	if cfg.Reconnect.Enabled {
		printRow("Reconnect", fmt.Sprintf("up to %d attempts", cfg.Reconnect.MaxAttempts))
	} else {
		printRow("Reconnect", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" || value == " / " {
		value = "(not set)"
	}
	if r := []rune(value); len(r) > 25 {
		value = string(r[:24]) + "…"
	}
	fmt.Printf("║  %-12s : %-25s ║\n", label, value)
}
