// Command voxmux runs the real-time transcription multiplexer: one shared
// speech recognition engine time-shared across concurrent WebSocket audio
// sources.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxmux/voxmux/internal/config"
	"github.com/voxmux/voxmux/internal/health"
	"github.com/voxmux/voxmux/internal/mux"
	"github.com/voxmux/voxmux/internal/observe"
	"github.com/voxmux/voxmux/internal/server"
	"github.com/voxmux/voxmux/internal/transcript"
	"github.com/voxmux/voxmux/pkg/audio"
	"github.com/voxmux/voxmux/pkg/engine/whisper"
	"github.com/voxmux/voxmux/pkg/vad"
	"github.com/voxmux/voxmux/pkg/vad/silero"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxmux: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxmux: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxmux starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxmux",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Speech engine ─────────────────────────────────────────────────────────
	var engineOpts []whisper.Option
	if cfg.Engine.Language != "" {
		engineOpts = append(engineOpts, whisper.WithLanguage(cfg.Engine.Language))
	}
	if cfg.Engine.WindowSeconds > 0 {
		engineOpts = append(engineOpts, whisper.WithMaxWindowSamples(cfg.Engine.WindowSeconds*audio.SampleRate))
	}
	eng, err := whisper.New(cfg.Engine.ModelPath, engineOpts...)
	if err != nil {
		slog.Error("failed to load speech model", "path", cfg.Engine.ModelPath, "err", err)
		return 1
	}
	defer eng.Close()

	var engineReady health.ReadyFlag
	if err := warmUpEngine(ctx, eng); err != nil {
		slog.Error("engine warm-up failed", "err", err)
		return 1
	}
	engineReady.Set()
	slog.Info("speech model loaded", "path", cfg.Engine.ModelPath)

	// ── Transcript archive ────────────────────────────────────────────────────
	var (
		archive transcript.Store
		checks  []health.Checker
	)
	checks = append(checks, engineReady.Checker("engine"))
	if dsn := cfg.Archive.PostgresDSN; dsn != "" {
		pg, err := transcript.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open transcript database", "err", err)
			return 1
		}
		archive = transcript.NewBreakerStore(pg, transcript.BreakerConfig{})
		checks = append(checks, health.PingChecker("archive", pg))
		slog.Info("transcript archive enabled", "backend", "postgres")
	} else {
		archive = transcript.NewMemStore()
		slog.Info("transcript archive enabled", "backend", "memory")
	}
	defer archive.Close()

	// ── Multiplexer ───────────────────────────────────────────────────────────
	metrics := observe.DefaultMetrics()
	store := mux.NewStore(cfg.Session.MaxBufferChunks)
	sched := mux.NewScheduler(mux.SchedulerConfig{
		Store:     store,
		Engine:    eng,
		MinChunks: cfg.Session.MinTurnChunks,
		OnSwitch: func(restored bool) {
			metrics.RecordContextSwitch(context.Background(), restored)
		},
	})

	newDetector := func() (vad.Detector, error) {
		return silero.New(silero.Config{
			ModelPath:            cfg.VAD.ModelPath,
			SampleRate:           audio.SampleRate,
			Threshold:            cfg.VAD.Threshold,
			MinSilenceDurationMs: cfg.VAD.MinSilenceMs,
		})
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srvCfg := server.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		OriginPatterns: cfg.Server.AllowedOrigins,
		Store:          store,
		Scheduler:      sched,
		NewDetector:    newDetector,
		Archive:        archive,
		RecvTimeout:    time.Duration(cfg.Session.ReceiveTimeoutMs) * time.Millisecond,
		Health:         health.New(checks...),
		Metrics:        metrics,
		Logger:         logger,
	}
	if cfg.Server.TLS != nil {
		srvCfg.CertFile = cfg.Server.TLS.CertFile
		srvCfg.KeyFile = cfg.Server.TLS.KeyFile
	}
	srv := server.New(srvCfg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// warmUpEngine pushes a short silent window through the engine so the first
// real turn does not pay the cold-start cost.
func warmUpEngine(ctx context.Context, eng *whisper.Engine) error {
	if err := eng.Init(); err != nil {
		return err
	}
	silence := make([]float32, audio.SampleRate/2)
	if _, err := eng.ProcessIncrement(ctx, silence); err != nil {
		return err
	}
	return eng.Init()
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          voxmux — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Speech model", cfg.Engine.ModelPath)
	printEntry("VAD model", cfg.VAD.ModelPath)
	printEntry("Language", orDefault(cfg.Engine.Language, "auto"))
	if cfg.Archive.PostgresDSN != "" {
		printEntry("Archive", "postgres")
	} else {
		printEntry("Archive", "memory")
	}
	if cfg.Server.TLS != nil {
		printEntry("TLS", "enabled")
	}
	printEntry("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = "…" + value[len(value)-18:]
	}
	fmt.Printf("║  %-15s : %-19s ║\n", kind, value)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
