// Command voicelink is a terminal client for a remote voice bridge.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voicelink/internal/app"
	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/session"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/wav"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
	"github.com/MrWong99/voicelink/pkg/provider/stt/deepgram"
	sttmock "github.com/MrWong99/voicelink/pkg/provider/stt/mock"
	"github.com/MrWong99/voicelink/pkg/provider/stt/whisper"
)

// version is set at build time via -ldflags.
var version = "dev"

// playbackRate is the sample rate remote audio is written at.
const playbackRate = 48000

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voicelink.yaml", "path to the YAML configuration file")
	inPath := flag.String("in", "", "WAV file used as microphone input")
	outPath := flag.String("out", "", "WAV file receiving the remote audio")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicelink: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voicelink starting",
		"config", *configPath,
		"bridge", cfg.Bridge.BaseURL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Audio devices ─────────────────────────────────────────────────────────
	opts := []app.Option{app.WithSessionHook(watchSession)}
	if *inPath != "" {
		path := *inPath
		opts = append(opts, app.WithCapture(func(context.Context) (audio.Source, error) {
			return wav.Open(path)
		}))
	}
	if *outPath != "" {
		channels := cfg.Audio.PlaybackChannels
		if channels == 0 {
			channels = 1
		}
		sink, err := wav.Create(*outPath, audio.Format{SampleRate: playbackRate, Channels: channels})
		if err != nil {
			slog.Error("failed to create playback file", "path", *outPath, "err", err)
			return 1
		}
		defer sink.Close()
		opts = append(opts, app.WithPlayback(sink))
	}

	printStartupSummary(cfg, *inPath, *outPath)

	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
		}
		application.ApplyConfig(next, d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Health and metrics ────────────────────────────────────────────────────
	srv := startServer(cfg.Server, application)

	// ── Conversation ──────────────────────────────────────────────────────────
	go readInput(ctx, application, os.Stdin)

	slog.Info("client ready, type to talk, /inject <text> to inject, Ctrl+C to quit")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if s := application.Manager().Current(); s != nil {
		printTranscript(s)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders lists the recognizers that ship with voicelink. Used for
// startup logging.
var builtinProviders = []string{"deepgram", "whisper", "whisper-native", "mock"}

// registerBuiltinProviders wires all built-in recognizer factories into reg.
// Each factory receives a config.ProviderEntry and constructs the
// appropriate provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate, ok := config.OptInt(entry.Options, "sample_rate"); ok {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		return whisper.New(entry.BaseURL, whisperOptions(entry)...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		return whisper.NewNative(modelPath, whisperOptions(entry)...)
	})

	// mock never recognises anything; it lets a config exercise the audio
	// path without a recognizer backend.
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	for _, name := range builtinProviders {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// whisperOptions maps the options shared by the whisper server and native
// recognizers.
func whisperOptions(entry config.ProviderEntry) []whisper.Option {
	var opts []whisper.Option
	if entry.Model != "" && entry.Name == "whisper" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang := config.OptString(entry.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	if rate, ok := config.OptInt(entry.Options, "sample_rate"); ok {
		opts = append(opts, whisper.WithSampleRate(rate))
	}
	if ms, ok := config.OptInt(entry.Options, "silence_ms"); ok {
		opts = append(opts, whisper.WithSilence(time.Duration(ms)*time.Millisecond))
	}
	if ms, ok := config.OptInt(entry.Options, "max_buffer_ms"); ok {
		opts = append(opts, whisper.WithMaxBuffer(time.Duration(ms)*time.Millisecond))
	}
	if rms, ok := entry.Options["rms_threshold"].(float64); ok {
		opts = append(opts, whisper.WithRMSThreshold(rms))
	}
	return opts
}

// ── HTTP server ───────────────────────────────────────────────────────────────

// startServer serves /healthz, /readyz and /metrics when a listen address
// is configured. It returns nil otherwise.
func startServer(cfg config.ServerConfig, application *app.App) *http.Server {
	if cfg.ListenAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	application.Health().Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		var err error
		if cfg.TLS != nil {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "addr", cfg.ListenAddr, "err", err)
		}
	}()
	slog.Info("serving health and metrics", "addr", cfg.ListenAddr, "tls", cfg.TLS != nil)
	return srv
}

// ── Terminal I/O ──────────────────────────────────────────────────────────────

// watchSession prints every status line of s until its channel closes.
func watchSession(s *session.Session) {
	go func() {
		for e := range s.Events() {
			fmt.Println(e.String())
		}
	}()
}

// readInput turns stdin lines into text turns. "/inject <text>" sends an
// injection instead.
func readInput(ctx context.Context, application *app.App, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s := application.Manager().Current()
		if s == nil {
			fmt.Println("no session yet")
			continue
		}
		if text, ok := strings.CutPrefix(line, "/inject "); ok {
			id, err := s.Inject(ctx, text)
			if err != nil {
				fmt.Printf("inject failed: %v\n", err)
				continue
			}
			fmt.Printf("injection %s pending\n", id)
			continue
		}
		if err := s.SendText(ctx, line); err != nil {
			fmt.Printf("send failed: %v\n", err)
		}
	}
	if err := sc.Err(); err != nil {
		slog.Warn("stdin read error", "err", err)
	}
}

// printTranscript prints the committed turns of s.
func printTranscript(s *session.Session) {
	b := s.Bridge()
	if b == nil {
		return
	}
	turns := b.Turns()
	if len(turns) == 0 {
		return
	}
	fmt.Println("── transcript ──")
	for _, t := range turns {
		fmt.Printf("%s %-9s %s\n", t.Timestamp.Format("15:04:05"), t.Role, t.Text)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, in, out string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voicelink startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Bridge", cfg.Bridge.BaseURL)
	var recognizers []string
	for _, p := range cfg.Recognizer.Providers {
		recognizers = append(recognizers, p.Name)
	}
	printRow("Recognizer", strings.Join(recognizers, ","))
	printRow("Capture", in)
	printRow("Playback", out)
	if cfg.Memory.PostgresDSN != "" {
		printRow("Transcripts", "postgres")
	} else {
		printRow("Transcripts", "memory")
	}
	printRow("Vocabulary", fmt.Sprintf("%d entries", len(cfg.Transcript.Vocabulary)))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
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
