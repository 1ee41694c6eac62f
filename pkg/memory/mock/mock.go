// Package mock provides a recording test double for [memory.SessionStore].
//
// Typical usage:
//
//	store := &mock.SessionStore{}
//	store.WriteEntryErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("WriteEntry"); got != 1 {
//	    t.Errorf("expected 1 WriteEntry call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/pkg/memory"
)

var _ memory.SessionStore = (*SessionStore)(nil)

// Call records the name and non-context arguments of one invocation.
type Call struct {
	Method string
	Args   []any
}

// SessionStore is a configurable [memory.SessionStore]. Written entries are
// kept so tests can inspect them with [SessionStore.Entries].
type SessionStore struct {
	mu    sync.Mutex
	calls []Call
	saved map[string][]memory.TranscriptEntry

	// WriteEntryErr is returned by WriteEntry when non-nil; the entry is not kept.
	WriteEntryErr error

	// GetRecentErr, EntryCountErr and SearchErr are returned when non-nil.
	GetRecentErr  error
	EntryCountErr error
	SearchErr     error

	// SearchResult is returned by Search. Nil yields an empty slice.
	SearchResult []memory.TranscriptEntry
}

// Calls returns a copy of all recorded invocations.
func (m *SessionStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times method was invoked.
func (m *SessionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Entries returns a copy of the entries written for sessionID.
func (m *SessionStore) Entries(sessionID string) []memory.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.TranscriptEntry, len(m.saved[sessionID]))
	copy(out, m.saved[sessionID])
	return out
}

// WriteEntry implements [memory.SessionStore].
func (m *SessionStore) WriteEntry(_ context.Context, sessionID string, entry memory.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteEntry", Args: []any{sessionID, entry}})
	if m.WriteEntryErr != nil {
		return m.WriteEntryErr
	}
	if m.saved == nil {
		m.saved = make(map[string][]memory.TranscriptEntry)
	}
	m.saved[sessionID] = append(m.saved[sessionID], entry)
	return nil
}

// GetRecent implements [memory.SessionStore]. It returns every saved entry
// of the session regardless of duration.
func (m *SessionStore) GetRecent(_ context.Context, sessionID string, duration time.Duration) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetRecent", Args: []any{sessionID, duration}})
	out := make([]memory.TranscriptEntry, len(m.saved[sessionID]))
	copy(out, m.saved[sessionID])
	return out, m.GetRecentErr
}

// EntryCount implements [memory.SessionStore].
func (m *SessionStore) EntryCount(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "EntryCount", Args: []any{sessionID}})
	return len(m.saved[sessionID]), m.EntryCountErr
}

// Search implements [memory.SessionStore].
func (m *SessionStore) Search(_ context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, opts}})
	if m.SearchResult == nil {
		return []memory.TranscriptEntry{}, m.SearchErr
	}
	out := make([]memory.TranscriptEntry, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, m.SearchErr
}
