// Package memory persists the transcript of voicelink sessions.
//
// A [SessionStore] is an append-only, time-ordered log of [TranscriptEntry]
// records keyed by the conversation id handed out at session bootstrap.
// [MemStore] keeps entries in process; the postgres sub-package stores them
// in PostgreSQL.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// SearchOpts narrows a [SessionStore.Search]. All non-zero fields are
// applied as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to one conversation.
	SessionID string

	// Role restricts results to one speaker role.
	Role string

	// After and Before bound the entry timestamp (exclusive). Zero disables a bound.
	After  time.Time
	Before time.Time

	// Limit caps the number of results. Zero means no cap.
	Limit int
}

// SessionStore is the transcript log.
type SessionStore interface {
	// WriteEntry appends entry under sessionID, which must be non-empty.
	WriteEntry(ctx context.Context, sessionID string, entry TranscriptEntry) error

	// GetRecent returns the entries of sessionID no older than
	// time.Now()-duration, oldest first. It never returns a nil slice.
	GetRecent(ctx context.Context, sessionID string, duration time.Duration) ([]TranscriptEntry, error)

	// EntryCount returns how many entries sessionID holds.
	EntryCount(ctx context.Context, sessionID string) (int, error)

	// Search matches query against entry text, oldest first.
	Search(ctx context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error)
}
