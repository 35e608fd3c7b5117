// Command earshot is a local voice assistant: it waits for a wake word,
// records the spoken command, and answers it through a local speech and
// language model stack.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/capture"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "earshot.toml", "path to the TOML or YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	listProviders := flag.Bool("list-providers", false, "print the registered provider names and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("earshot", version)
		return 0
	}

	reg := config.NewRegistry()
	if *listProviders {
		registerBuiltinProviders(reg, 0)
		for _, kind := range []string{"audio", "vad", "wakeword", "stt", "llm", "tts"} {
			fmt.Printf("%-9s %v\n", kind, reg.Names(kind))
		}
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found, copy configs/earshot.example.toml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var levelVar slog.LevelVar
	levelVar.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger, closeLog := newLogger(cfg.Log, &levelVar)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	mp, shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	registerBuiltinProviders(reg, cfg.Audio.SampleRate)
	ps, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	closers := ps.closers

	// ── Capture ───────────────────────────────────────────────────────────────
	if mock, ok := ps.audio.Input.(*audiomock.InputDevice); ok {
		go feedSilence(ctx, mock, cfg.Audio.SampleRate)
	}
	fmt.Println("Warming up the microphone...")
	svc, err := capture.New(ctx, ps.audio.Input, cfg.Audio.CaptureConfig(),
		capture.WithLogger(slog.Default()),
		capture.WithMeterProvider(mp),
	)
	if err != nil {
		slog.Error("failed to start audio capture", "err", err)
		_ = ps.audio.Input.Close()
		runClosers(closers)
		return 1
	}
	closers = append(closers, svc.Close)

	listenerCfg := wakeword.Config{
		SampleRate:       svc.TargetRate(),
		FrameSamples:     cfg.Wakeword.FrameSamples,
		WarmupFrames:     cfg.Wakeword.WarmupFrames,
		SpeechThreshold:  cfg.Wakeword.SpeechThreshold,
		SilenceThreshold: cfg.Wakeword.SilenceThreshold,
	}
	listener, err := wakeword.NewListener(svc, ps.wakeword, ps.vad, listenerCfg,
		wakeword.WithStatus(os.Stdout),
		wakeword.WithLogger(slog.Default()),
	)
	if err != nil {
		slog.Error("failed to create wake-word listener", "err", err)
		runClosers(closers)
		return 1
	}
	closers = append(closers, listener.Close)

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithLevelVar(&levelVar),
	}
	for _, c := range closers {
		opts = append(opts, app.WithCloser(c))
	}
	application, err := app.New(cfg, app.Providers{
		Capture:  svc,
		Wakeword: listener,
		STT:      ps.stt,
		LLM:      ps.llm,
		TTS:      ps.tts,
		Output:   ps.audio.Output,
	}, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		runClosers(closers)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(os.Stdout, cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Server.ListenAddr; addr != "-" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			slog.Error("failed to listen", "addr", addr, "err", err)
			_ = application.Shutdown(context.Background())
			return 1
		}
		h := health.New(readinessChecks(cfg, svc, ps)...)
		srv := health.NewServer(addr, h, metrics)
		g.Go(func() error { return health.Serve(gctx, srv, ln) })
	}

	g.Go(func() error { return application.Run(gctx) })

	slog.Info("assistant ready, press Ctrl+C to shut down", "keyword", cfg.Wakeword.Keyword)

	runErr := g.Wait()
	exit := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping...")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	slog.Info("goodbye")
	return exit
}

// runClosers releases resources when startup fails before the App owns them.
func runClosers(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			slog.Warn("close error", "err", err)
		}
	}
}

// feedSilence drives the mock input device with real-time silence so the
// assistant can run without hardware.
func feedSilence(ctx context.Context, d *audiomock.InputDevice, rate int) {
	const period = 10 * time.Millisecond
	frame := make([]float32, rate/100)
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			d.Push(frame)
		}
	}
}
