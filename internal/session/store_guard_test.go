package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/pkg/memory"
	memorymock "github.com/MrWong99/voicelink/pkg/memory/mock"
)

func TestStoreGuard_WriteEntry(t *testing.T) {
	t.Parallel()

	store := &memorymock.SessionStore{WriteEntryErr: errors.New("disk full")}
	g := NewStoreGuard(store)
	ctx := context.Background()

	if err := g.WriteEntry(ctx, "conv-1", memory.TranscriptEntry{Text: "a"}); err != nil {
		t.Fatalf("WriteEntry err = %v; want swallowed", err)
	}
	if !g.Degraded() {
		t.Error("Degraded = false after failed write")
	}
	if err := g.Check(ctx); !errors.Is(err, ErrStoreDegraded) {
		t.Errorf("Check err = %v; want ErrStoreDegraded", err)
	}

	store.WriteEntryErr = nil
	if err := g.WriteEntry(ctx, "conv-1", memory.TranscriptEntry{Text: "b"}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if g.Degraded() {
		t.Error("Degraded = true after a successful write")
	}
	if err := g.Check(ctx); err != nil {
		t.Errorf("Check err = %v; want nil", err)
	}
	if got := store.Entries("conv-1"); len(got) != 1 || got[0].Text != "b" {
		t.Errorf("stored entries = %+v; want only b", got)
	}
	if g.Failures() != 1 {
		t.Errorf("Failures = %d; want 1", g.Failures())
	}
}

func TestStoreGuard_ReadsFallBackToEmpty(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	store := &memorymock.SessionStore{GetRecentErr: boom, EntryCountErr: boom, SearchErr: boom}
	g := NewStoreGuard(store)
	ctx := context.Background()

	recent, err := g.GetRecent(ctx, "conv-1", time.Hour)
	if err != nil || recent == nil || len(recent) != 0 {
		t.Errorf("GetRecent = %v, %v; want empty non-nil slice", recent, err)
	}
	n, err := g.EntryCount(ctx, "conv-1")
	if err != nil || n != 0 {
		t.Errorf("EntryCount = %d, %v; want 0, nil", n, err)
	}
	found, err := g.Search(ctx, "tower", memory.SearchOpts{SessionID: "conv-1"})
	if err != nil || found == nil || len(found) != 0 {
		t.Errorf("Search = %v, %v; want empty non-nil slice", found, err)
	}
	if g.Failures() != 3 {
		t.Errorf("Failures = %d; want 3", g.Failures())
	}
}
