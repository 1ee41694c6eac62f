package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/internal/app"
	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/session"
	"github.com/MrWong99/voicelink/pkg/memory"
)

func healthzInfo(t *testing.T, a *app.App) map[string]string {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Health().Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))
	var body struct {
		Info map[string]string `json:"info"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	return body.Info
}

func TestStart_OneSessionAtATime(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge(t)
	a := newApp(t, testConfig(fb.srv.URL))

	if got := healthzInfo(t, a)["session"]; got != "none" {
		t.Errorf("info before Start = %q; want none", got)
	}

	s, err := a.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.Start(context.Background()); !errors.Is(err, session.ErrActive) {
		t.Errorf("second Start err = %v; want ErrActive", err)
	}
	<-s.Handshake()
	info := healthzInfo(t, a)
	if info["session"] != "active" || info["session_id"] != "s-1" {
		t.Errorf("info = %v", info)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Stop(); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("second Stop err = %v; want ErrNoSession", err)
	}
	if got := healthzInfo(t, a)["session"]; got != "closed" {
		t.Errorf("info after Stop = %q; want closed", got)
	}
}

func TestStart_BootstrapFailure(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig("http://127.0.0.1:1"))
	s, err := a.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded against a closed port")
	}
	if s == nil || s.State() != session.StateFailed {
		t.Fatalf("session = %v; want a failed session", s)
	}
	if code, checks := readyz(t, a); code == 200 || checks["session"] == "ok" {
		t.Errorf("readyz = %d %v; want session failure", code, checks)
	}
}

func TestStart_ReadsRecentTurns(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge(t)
	store := memory.NewMemStore()
	ctx := context.Background()
	if err := store.WriteEntry(ctx, "c-1", memory.TranscriptEntry{
		Role: memory.RoleUser, Text: "earlier", Timestamp: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	a := newApp(t, testConfig(fb.srv.URL), app.WithStore(store))

	s, err := a.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-s.Handshake()
	if err := s.SendText(ctx, "now"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	fb.next(t)

	got, err := a.Store().GetRecent(ctx, "c-1", time.Hour)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "earlier" || got[1].Text != "now" {
		t.Errorf("conversation c-1 = %+v; want earlier then now", got)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	first, second := newFakeBridge(t), newFakeBridge(t)
	a := newApp(t, testConfig(first.srv.URL))

	s, err := a.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-s.Handshake()

	next := testConfig(second.srv.URL)
	next.Audio.EchoWindow = 300 * time.Millisecond
	next.Transcript.CommitWindow = 50 * time.Millisecond
	a.ApplyConfig(next, config.Diff(a.Config(), next))

	if a.Config() != next {
		t.Fatal("Config() does not return the reloaded config")
	}
	if s.State() != session.StateActive {
		t.Errorf("live session state = %s; want active", s.State())
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := a.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := second.boots.Load(); got != 1 {
		t.Errorf("new bridge boots = %d; want 1", got)
	}
	if got := first.boots.Load(); got != 1 {
		t.Errorf("old bridge boots = %d; want 1", got)
	}
}

func TestStart_SessionHook(t *testing.T) {
	t.Parallel()

	fb := newFakeBridge(t)
	hooked := make(chan *session.Session, 2)
	a := newApp(t, testConfig(fb.srv.URL), app.WithSessionHook(func(s *session.Session) {
		if s.State() != session.StateDisconnected {
			t.Errorf("hook saw state %s; want disconnected", s.State())
		}
		hooked <- s
	}))

	s, err := a.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop() })

	select {
	case got := <-hooked:
		if got != s {
			t.Fatal("hook received a different session than Start returned")
		}
	default:
		t.Fatal("hook not called before Start returned")
	}

	<-s.Handshake()
	if err := s.SendText(context.Background(), "which trail is open"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if m := fb.next(t); m["type"] != "user_transcript" || m["text"] != "which trail is open" {
		t.Errorf("bridge got %v", m)
	}
}
