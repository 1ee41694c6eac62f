package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/voicelink/pkg/memory"
)

func TestMemStore_WriteAndGetRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewMemStore()

	now := time.Now()
	old := memory.TranscriptEntry{Role: memory.RoleUser, Text: "old", Timestamp: now.Add(-time.Hour)}
	recent := memory.TranscriptEntry{Role: memory.RoleAssistant, Text: "recent", Timestamp: now.Add(-time.Minute)}
	for _, e := range []memory.TranscriptEntry{old, recent} {
		if err := s.WriteEntry(ctx, "conv-1", e); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}

	got, err := s.GetRecent(ctx, "conv-1", 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]memory.TranscriptEntry{recent}, got); diff != "" {
		t.Errorf("GetRecent mismatch (-want +got):\n%s", diff)
	}

	n, _ := s.EntryCount(ctx, "conv-1")
	if n != 2 {
		t.Errorf("EntryCount = %d; want 2", n)
	}
	empty, _ := s.GetRecent(ctx, "nope", time.Hour)
	if empty == nil || len(empty) != 0 {
		t.Errorf("GetRecent unknown session = %#v; want empty non-nil", empty)
	}
}

func TestMemStore_EmptySessionID(t *testing.T) {
	t.Parallel()
	var s memory.MemStore
	if err := s.WriteEntry(context.Background(), "", memory.TranscriptEntry{Text: "x"}); !errors.Is(err, memory.ErrEmptySessionID) {
		t.Fatalf("err = %v; want ErrEmptySessionID", err)
	}
}

func TestMemStore_Search(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewMemStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []struct {
		session string
		entry   memory.TranscriptEntry
	}{
		{"a", memory.TranscriptEntry{Role: memory.RoleUser, Text: "Where do morels grow?", Timestamp: base.Add(2 * time.Second)}},
		{"a", memory.TranscriptEntry{Role: memory.RoleAssistant, Text: "Morels grow near dead elms.", Timestamp: base.Add(3 * time.Second)}},
		{"b", memory.TranscriptEntry{Role: memory.RoleUser, Text: "morels again", Timestamp: base.Add(1 * time.Second)}},
	}
	for _, e := range entries {
		if err := s.WriteEntry(ctx, e.session, e.entry); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		query string
		opts  memory.SearchOpts
		want  []string
	}{
		{name: "all sessions ordered", query: "MOREL", want: []string{"morels again", "Where do morels grow?", "Morels grow near dead elms."}},
		{name: "one session", query: "morel", opts: memory.SearchOpts{SessionID: "a"}, want: []string{"Where do morels grow?", "Morels grow near dead elms."}},
		{name: "role", query: "morel", opts: memory.SearchOpts{Role: memory.RoleAssistant}, want: []string{"Morels grow near dead elms."}},
		{name: "after", query: "morel", opts: memory.SearchOpts{After: base.Add(2 * time.Second)}, want: []string{"Morels grow near dead elms."}},
		{name: "limit", query: "morel", opts: memory.SearchOpts{Limit: 1}, want: []string{"morels again"}},
		{name: "no match", query: "truffle", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.Search(ctx, tt.query, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			texts := make([]string, 0, len(got))
			for _, e := range got {
				texts = append(texts, e.Text)
			}
			if diff := cmp.Diff(tt.want, texts); diff != "" {
				t.Errorf("Search mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewMemStore()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WriteEntry(ctx, "c", memory.TranscriptEntry{Text: "t", Timestamp: time.Now().Add(time.Duration(i))})
		}()
	}
	wg.Wait()
	if n, _ := s.EntryCount(ctx, "c"); n != 20 {
		t.Errorf("EntryCount = %d; want 20", n)
	}
}
