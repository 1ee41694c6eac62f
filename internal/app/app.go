// Package app wires the voicelink subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates the transcript store,
// the recognizer chain and the session manager, Start opens a session with
// the bridge, and Shutdown tears everything down in order.
//
// For testing, inject implementations via functional options (WithStore,
// WithRecognizer, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/health"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/session"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/memory/postgres"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

// latencyWindow is the number of samples kept per latency stage.
const latencyWindow = 50

// App owns all subsystem lifetimes of the voicelink client.
type App struct {
	registry *config.Registry

	mu  sync.RWMutex
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	store      memory.SessionStore
	guard      *session.StoreGuard
	recognizer stt.Provider
	metrics    *observe.Metrics
	latency    *observe.LatencyTracker
	manager    *session.Manager
	health     *health.Handler

	capture session.CaptureFunc
	sink    audio.Sink
	onNew   func(*session.Session)

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of creating one from config.
func WithStore(s memory.SessionStore) Option {
	return func(a *App) { a.store = s }
}

// WithRecognizer injects a recognizer instead of building the configured
// chain.
func WithRecognizer(p stt.Provider) Option {
	return func(a *App) { a.recognizer = p }
}

// WithCapture sets how sessions open the microphone.
func WithCapture(open session.CaptureFunc) Option {
	return func(a *App) { a.capture = open }
}

// WithPlayback sends remote audio of every session to sink.
func WithPlayback(sink audio.Sink) Option {
	return func(a *App) { a.sink = sink }
}

// WithSessionHook calls fn with every session before it connects, e.g. to
// consume its status channel.
func WithSessionHook(fn func(*session.Session)) Option {
	return func(a *App) { a.onNew = fn }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg supplies the
// recognizer factories and may be nil when a recognizer is injected or none
// is configured.
//
// New performs all initialisation synchronously: store connection and
// recognizer construction. It does not contact the bridge.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: reg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.latency = observe.NewLatencyTracker(latencyWindow, a.metrics)
	a.health = health.New()

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Recognizer ────────────────────────────────────────────────────
	if err := a.initRecognizer(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}

	// ── 3. Session manager ───────────────────────────────────────────────
	a.manager = session.NewManager(a.newSession)
	a.health.Add(health.Checker{Name: "session", Check: a.manager.Check})
	a.health.SetInfo(a.info)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects PostgreSQL when a DSN is configured and falls back to
// the in-memory store otherwise. The store is always wrapped in a
// [session.StoreGuard] so a failing database never stops a conversation.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.Memory.PostgresDSN
		if dsn == "" {
			slog.Info("transcripts kept in memory only")
			a.store = memory.NewMemStore()
		} else {
			pg, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = pg
			a.health.Add(health.Checker{Name: "postgres", Check: pg.Ping})
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
			slog.Info("transcripts persisted to postgres")
		}
	}
	a.guard = session.NewStoreGuard(a.store)
	a.health.Add(health.Checker{Name: "store", Check: a.guard.Check})
	return nil
}

// initRecognizer builds the configured recognizer chain. No configured
// provider leaves recognition disabled; sessions still send text turns.
func (a *App) initRecognizer() error {
	if a.recognizer == nil {
		if len(a.cfg.Recognizer.Providers) == 0 {
			slog.Info("local speech recognition disabled")
			return nil
		}
		if a.registry == nil {
			return config.ErrNoRecognizer
		}
		fb, err := a.registry.Recognizer(a.cfg.Recognizer, a.metrics)
		if err != nil {
			return err
		}
		a.recognizer = fb
		a.closers = append(a.closers, fb.Close)
	}
	if h, ok := a.recognizer.(interface{ Healthy() bool }); ok {
		a.health.Add(health.Checker{Name: "recognizer", Check: func(context.Context) error {
			if !h.Healthy() {
				return fmt.Errorf("every recognizer backend is open-circuited")
			}
			return nil
		}})
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// ErrSessionFailed is returned by Run when the session ends in the failed
// state.
var ErrSessionFailed = errors.New("app: session failed")

// Run starts a session and blocks until ctx is cancelled or the session
// ends. When ctx is done, Run returns context.Canceled (or the underlying
// cause); a session closed by the bridge returns nil.
func (a *App) Run(ctx context.Context) error {
	s, err := a.Start(ctx)
	if err != nil {
		return err
	}
	slog.Info("app running", "session_id", s.Info().SessionID)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.Done():
	}
	if s.State() == session.StateFailed {
		return fmt.Errorf("%w: %s", ErrSessionFailed, s.Info().SessionID)
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the active config.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Health returns the health and readiness handler.
func (a *App) Health() *health.Handler { return a.health }

// Store returns the guarded transcript store.
func (a *App) Store() *session.StoreGuard { return a.guard }

// Latency returns the conversational latency tracker.
func (a *App) Latency() *observe.LatencyTracker { return a.latency }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig installs a reloaded config. It is a [config.ChangeFunc]. The
// debounce windows apply to the live session; settings listed in
// d.NextSession apply when the next session starts and d.Restart only
// after a restart.
func (a *App) ApplyConfig(cfg *config.Config, d config.ConfigDiff) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	if s := a.manager.Current(); s != nil && !s.State().Done() {
		if d.EchoWindowChanged {
			s.SetEchoWindow(d.NewEchoWindow)
			slog.Info("echo window updated", "window", d.NewEchoWindow)
		}
		if d.CommitWindowChanged {
			s.SetCommitWindow(d.NewCommitWindow)
			slog.Info("commit window updated", "window", d.NewCommitWindow)
		}
	}
	if len(d.NextSession) > 0 {
		slog.Info("config change applies to the next session", "fields", d.NextSession)
	}
	if len(d.Restart) > 0 {
		slog.Warn("config change requires a restart", "fields", d.Restart)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the current session and tears down all subsystems in
// init order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.manager != nil && a.manager.IsActive() {
			if err := a.manager.Stop(); err != nil {
				slog.Warn("session stop error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.closers = nil
}
