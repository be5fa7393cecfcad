// Command voicecue runs the voice-synchronized scroll engine as a server.
//
// It loads a plain-text script, captures audio from the configured source,
// and prints the resulting scroll commands, highlights, and notices to
// stdout while serving health and metrics endpoints over HTTP. A real
// presentation layer would consume the same streams instead of stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voicecue/voicecue/internal/align"
	"github.com/voicecue/voicecue/internal/config"
	"github.com/voicecue/voicecue/internal/health"
	"github.com/voicecue/voicecue/internal/observe"
	"github.com/voicecue/voicecue/internal/scroll"
	"github.com/voicecue/voicecue/internal/script"
	"github.com/voicecue/voicecue/internal/transport"
	"github.com/voicecue/voicecue/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voicecue.yaml", "path to the YAML configuration file")
	scriptPath := flag.String("script", "", "path to the plain-text script to track")
	flag.Parse()

	if *scriptPath == "" {
		fmt.Fprintln(os.Stderr, "voicecue: -script is required")
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecue: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecue: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(logLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voicecue starting",
		"config", *configPath,
		"script", *scriptPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Script ────────────────────────────────────────────────────────────────
	text, err := os.ReadFile(*scriptPath)
	if err != nil {
		slog.Error("failed to read script", "err", err)
		return 1
	}
	idx := script.NewIndex(string(text))
	if idx.Len() == 0 {
		slog.Error("script contains no words", "path", *scriptPath)
		return 1
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
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

	// ── Audio source registry ─────────────────────────────────────────────────
	registry := config.NewRegistry()
	registerBuiltinSources(registry)

	audioCfg := cfg.Audio
	if audioCfg.Source == "" {
		audioCfg.Source = "file"
	}
	if audioCfg.SampleRate == 0 {
		audioCfg.SampleRate = cfg.Provider.SampleRate
	}
	if audioCfg.SampleRate == 0 {
		audioCfg.SampleRate = transport.DefaultSampleRate
	}
	device := audio.NewDevice(func() (audio.Source, error) {
		return registry.CreateSource(audioCfg)
	})

	// ── Coordinator ───────────────────────────────────────────────────────────
	coordinator := scroll.New(cfg.Coordinator(), idx, device,
		scroll.WithMatcherOptions(align.WithPolicy(cfg.Matcher.Policy())),
	)

	// Watch the config file now that everything that can hot-apply exists.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(config.Diff(old, new), new, level, coordinator)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	printStartupSummary(cfg, idx)

	if err := coordinator.Start(ctx); err != nil {
		slog.Error("failed to start voice sync", "err", err)
		return 1
	}

	// ── HTTP server (health, metrics) ─────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(
		health.SessionChecker(coordinator.TransportState),
		health.ScriptChecker(idx),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	server := &http.Server{
		Addr:    listenAddr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runSink(gctx, coordinator)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		slog.Info("shutdown signal received, stopping")
		if err := coordinator.Stop(); err != nil {
			slog.Warn("coordinator stop error", "err", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	slog.Info("voicecue ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Audio source wiring ───────────────────────────────────────────────────────

// registerBuiltinSources wires the capture backends that ship with the
// standard build into reg.
func registerBuiltinSources(reg *config.Registry) {
	reg.RegisterSource("file", func(cfg config.AudioConfig) (audio.Source, error) {
		return audio.OpenFile(cfg.Path, cfg.SampleRate)
	})
	reg.RegisterSource("stdin", func(cfg config.AudioConfig) (audio.Source, error) {
		return audio.NewReaderSource(os.Stdin, cfg.SampleRate)
	})
}

// ── Demo sink ─────────────────────────────────────────────────────────────────

// runSink prints the coordinator's output streams to stdout until ctx ends.
func runSink(ctx context.Context, c *scroll.Coordinator) error {
	for {
		select {
		case cmd := <-c.Commands():
			fmt.Printf("scroll    target_y=%.1f duration=%s easing=%s\n", cmd.TargetY, cmd.Duration, cmd.Easing)
		case h := <-c.Highlights():
			fmt.Printf("highlight word=%d\n", h.WordIndex)
		case n := <-c.Notices():
			switch n.Kind {
			case scroll.NoticeStalled:
				fmt.Println("notice    voice sync stalled; keep reading or scroll manually")
			case scroll.NoticeVoiceSyncLost:
				fmt.Printf("notice    voice sync lost (%v); manual scroll only\n", n.Err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ── Config hot-reload ─────────────────────────────────────────────────────────

// applyConfigChange applies the hot-reloadable parts of a config change to
// the running process and logs what needs a restart.
func applyConfigChange(d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, c *scroll.Coordinator) {
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		level.Set(logLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LayoutChanged && c != nil {
		c.SetLayout(d.NewLayout.Geometry(), cfg.Scroll.ContentHeight)
		slog.Info("layout geometry reloaded")
	}
	if d.MatcherChanged || d.ScrollChanged {
		slog.Warn("matcher/scroll tuning changed; applies to the next session")
	}
	if d.RestartRequired {
		slog.Warn("provider or audio settings changed; restart to apply")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, idx *script.Index) {
	endpoint := cfg.Provider.Transport().Endpoint
	source := cfg.Audio.Source
	if source == "" {
		source = "file"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         VoiceCue — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Provider", trimValue(endpoint))
	printField("Audio source", source)
	printField("Script words", fmt.Sprintf("%d", idx.Len()))
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

func trimValue(v string) string {
	if len(v) > 19 {
		return v[:16] + "…"
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func logLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
