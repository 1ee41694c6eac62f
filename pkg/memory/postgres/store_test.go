package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/memory/postgres"
)

// testDSN returns the test database DSN, or skips the test when
// VOICELINK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICELINK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICELINK_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a Store on a freshly dropped schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS session_entries CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_WriteAndGetRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := "conv-1"
	now := time.Now()
	entries := []memory.TranscriptEntry{
		{Role: memory.RoleUser, Text: "Which mushrooms fruit after rain?", RawText: "which mushroom fruit after rain", Spoken: true, Timestamp: now.Add(-10 * time.Minute), Duration: 2 * time.Second},
		{Role: memory.RoleAssistant, Text: "Chanterelles often do.", Timestamp: now.Add(-9 * time.Minute), Duration: 3 * time.Second},
		{Role: memory.RoleUser, Text: "Show me the map.", Timestamp: now.Add(-1 * time.Minute)},
	}
	for _, e := range entries {
		if err := store.WriteEntry(ctx, conv, e); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}

	all, err := store.GetRecent(ctx, conv, 30*time.Minute)
	if err != nil {
		t.Fatalf("GetRecent(30m): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("GetRecent(30m): want 3, got %d", len(all))
	}
	if all[0].Duration != entries[0].Duration || !all[0].Spoken || all[0].RawText != entries[0].RawText {
		t.Errorf("first entry not round-tripped: %+v", all[0])
	}

	narrow, err := store.GetRecent(ctx, conv, 5*time.Minute)
	if err != nil {
		t.Fatalf("GetRecent(5m): %v", err)
	}
	if len(narrow) != 1 || narrow[0].Text != entries[2].Text {
		t.Errorf("GetRecent(5m) = %+v", narrow)
	}

	n, err := store.EntryCount(ctx, conv)
	if err != nil || n != 3 {
		t.Errorf("EntryCount = %d, %v; want 3", n, err)
	}
	if n, _ := store.EntryCount(ctx, "other"); n != 0 {
		t.Errorf("EntryCount(other) = %d; want 0", n)
	}

	if err := store.WriteEntry(ctx, "", entries[0]); !errors.Is(err, memory.ErrEmptySessionID) {
		t.Errorf("empty session id: err = %v", err)
	}
}

func TestStore_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := "search-conv"
	for _, e := range []memory.TranscriptEntry{
		{Role: memory.RoleUser, Text: "Tell me about mycelium networks.", Timestamp: time.Now().Add(-5 * time.Minute)},
		{Role: memory.RoleAssistant, Text: "Mycelium networks connect trees underground.", Timestamp: time.Now().Add(-4 * time.Minute)},
		{Role: memory.RoleUser, Text: "What about lichens?", Timestamp: time.Now().Add(-3 * time.Minute)},
	} {
		if err := store.WriteEntry(ctx, conv, e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		query     string
		opts      memory.SearchOpts
		wantCount int
	}{
		{name: "mycelium", query: "mycelium", opts: memory.SearchOpts{SessionID: conv}, wantCount: 2},
		{name: "role filter", query: "mycelium", opts: memory.SearchOpts{SessionID: conv, Role: memory.RoleAssistant}, wantCount: 1},
		{name: "limit", query: "mycelium", opts: memory.SearchOpts{SessionID: conv, Limit: 1}, wantCount: 1},
		{name: "no match", query: "volcano", opts: memory.SearchOpts{SessionID: conv}, wantCount: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.Search(ctx, tc.query, tc.opts)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != tc.wantCount {
				t.Errorf("want %d results, got %d", tc.wantCount, len(got))
			}
		})
	}
}
