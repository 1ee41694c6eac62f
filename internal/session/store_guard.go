package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voicelink/pkg/memory"
)

// ErrStoreDegraded is returned by [StoreGuard.Check] while the last store
// operation failed.
var ErrStoreDegraded = errors.New("session: transcript store degraded")

var _ memory.SessionStore = (*StoreGuard)(nil)

// StoreGuard makes transcript persistence best-effort. Failures of the
// wrapped store are logged and swallowed so a database outage never ends a
// conversation; reads fall back to empty results.
//
// The guard is degraded from the first failure until the next success.
// Only the transitions are logged, not every failed call.
type StoreGuard struct {
	store    memory.SessionStore
	degraded atomic.Bool
	failures atomic.Int64
}

// NewStoreGuard wraps store.
func NewStoreGuard(store memory.SessionStore) *StoreGuard {
	return &StoreGuard{store: store}
}

func (g *StoreGuard) observe(op, sessionID string, err error) {
	if err == nil {
		if g.degraded.CompareAndSwap(true, false) {
			slog.Info("session: transcript store recovered", "op", op, "session_id", sessionID)
		}
		return
	}
	g.failures.Add(1)
	if g.degraded.CompareAndSwap(false, true) {
		slog.Warn("session: transcript store failing, continuing without persistence",
			"op", op, "session_id", sessionID, "err", err)
		return
	}
	slog.Debug("session: transcript store still failing", "op", op, "session_id", sessionID, "err", err)
}

// WriteEntry implements [memory.SessionStore]. It always returns nil.
func (g *StoreGuard) WriteEntry(ctx context.Context, sessionID string, entry memory.TranscriptEntry) error {
	g.observe("write", sessionID, g.store.WriteEntry(ctx, sessionID, entry))
	return nil
}

// GetRecent implements [memory.SessionStore]. On failure it returns an empty slice.
func (g *StoreGuard) GetRecent(ctx context.Context, sessionID string, d time.Duration) ([]memory.TranscriptEntry, error) {
	entries, err := g.store.GetRecent(ctx, sessionID, d)
	g.observe("get_recent", sessionID, err)
	if err != nil {
		return []memory.TranscriptEntry{}, nil
	}
	return entries, nil
}

// EntryCount implements [memory.SessionStore]. On failure it returns 0.
func (g *StoreGuard) EntryCount(ctx context.Context, sessionID string) (int, error) {
	n, err := g.store.EntryCount(ctx, sessionID)
	g.observe("entry_count", sessionID, err)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Search implements [memory.SessionStore]. On failure it returns an empty slice.
func (g *StoreGuard) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	entries, err := g.store.Search(ctx, query, opts)
	g.observe("search", opts.SessionID, err)
	if err != nil {
		return []memory.TranscriptEntry{}, nil
	}
	return entries, nil
}

// Degraded reports whether the most recent store operation failed.
func (g *StoreGuard) Degraded() bool { return g.degraded.Load() }

// Failures is the total number of failed store operations.
func (g *StoreGuard) Failures() int64 { return g.failures.Load() }

// Check is a readiness probe: it fails while the guard is degraded.
func (g *StoreGuard) Check(context.Context) error {
	if g.Degraded() {
		return ErrStoreDegraded
	}
	return nil
}
