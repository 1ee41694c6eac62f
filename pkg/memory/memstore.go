package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ SessionStore = (*MemStore)(nil)

// ErrEmptySessionID is returned when writing without a session id.
var ErrEmptySessionID = errors.New("memory: empty session id")

// MemStore is an in-process [SessionStore]. The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string][]TranscriptEntry
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore { return &MemStore{} }

// WriteEntry implements [SessionStore].
func (s *MemStore) WriteEntry(_ context.Context, sessionID string, entry TranscriptEntry) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string][]TranscriptEntry)
	}
	s.sessions[sessionID] = append(s.sessions[sessionID], entry)
	return nil
}

// GetRecent implements [SessionStore].
func (s *MemStore) GetRecent(_ context.Context, sessionID string, duration time.Duration) ([]TranscriptEntry, error) {
	cutoff := time.Now().Add(-duration)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []TranscriptEntry{}
	for _, e := range s.sessions[sessionID] {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// EntryCount implements [SessionStore].
func (s *MemStore) EntryCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID]), nil
}

// Search implements [SessionStore] with a case-insensitive substring match.
func (s *MemStore) Search(_ context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error) {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []TranscriptEntry{}
	for id, entries := range s.sessions {
		if opts.SessionID != "" && id != opts.SessionID {
			continue
		}
		for _, e := range entries {
			if !matches(e, q, opts) {
				continue
			}
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b TranscriptEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func matches(e TranscriptEntry, q string, opts SearchOpts) bool {
	if opts.Role != "" && e.Role != opts.Role {
		return false
	}
	if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
		return false
	}
	if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
		return false
	}
	return strings.Contains(strings.ToLower(e.Text), q)
}
