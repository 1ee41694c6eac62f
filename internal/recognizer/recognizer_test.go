package recognizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
	sttmock "github.com/MrWong99/voicelink/pkg/provider/stt/mock"
	"github.com/google/go-cmp/cmp"
)

type collector struct {
	mu    sync.Mutex
	texts []string
	ch    chan struct{}
}

func newCollector() *collector { return &collector{ch: make(chan struct{}, 16)} }

func (c *collector) add(text string) {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []string {
	t.Helper()
	for range n {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d results", n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func frame16k(samples int) audio.AudioFrame {
	return audio.AudioFrame{Data: make([]byte, samples*2), SampleRate: 16000, Channels: 1}
}

func TestRecognizer_StartFeedFinals(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	finals, partials := newCollector(), newCollector()
	r := New(p, WithOnFinal(finals.add), WithOnPartial(partials.add))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()

	if diff := cmp.Diff([]stt.StreamConfig{DefaultStreamConfig}, p.Configs()); diff != "" {
		t.Errorf("stream config mismatch (-want +got):\n%s", diff)
	}
	if err := r.Feed(frame16k(320)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	sess := p.Last()
	if n := len(sess.Chunks()); n != 1 {
		t.Fatalf("chunks = %d; want 1", n)
	}

	sess.EmitPartial("hel")
	sess.EmitFinal("")
	sess.EmitFinal("hello there")
	if got := partials.wait(t, 1); got[0] != "hel" {
		t.Errorf("partial = %q", got[0])
	}
	if got := finals.wait(t, 1); got[0] != "hello there" {
		t.Errorf("final = %q", got[0])
	}
}

func TestRecognizer_FeedConvertsFormat(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r := New(p)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()

	// 20 ms of 48 kHz stereo becomes 20 ms of 16 kHz mono.
	in := audio.AudioFrame{Data: make([]byte, 960*2*2), SampleRate: 48000, Channels: 2}
	if err := r.Feed(in); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	chunks := p.Last().Chunks()
	if len(chunks) != 1 || len(chunks[0]) != 320*2 {
		t.Fatalf("chunk sizes = %v; want one chunk of 640 bytes", len(chunks))
	}
}

func TestRecognizer_PauseResume(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	finals := newCollector()
	r := New(p, WithOnFinal(finals.add))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()
	first := p.Last()

	r.Pause()
	r.Pause()
	if !r.Paused() {
		t.Fatal("Paused = false after Pause")
	}
	if err := r.Feed(frame16k(160)); err != nil {
		t.Fatalf("Feed while paused: %v", err)
	}
	if n := len(first.Chunks()); n != 0 {
		t.Errorf("paused stream received %d chunks", n)
	}

	r.Resume()
	r.Resume()
	if r.Paused() {
		t.Fatal("Paused = true after Resume")
	}
	if n := len(p.Sessions()); n != 2 {
		t.Fatalf("sessions = %d; want 2 (resume opens a fresh stream)", n)
	}
	second := p.Last()
	if second == first {
		t.Fatal("resume reused the old stream")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !first.Closed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !first.Closed() {
		t.Error("first stream not closed by Pause")
	}

	second.EmitFinal("after resume")
	if got := finals.wait(t, 1); got[0] != "after resume" {
		t.Errorf("final = %q", got[0])
	}
}

func TestRecognizer_PauseBeforeStart(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r := New(p)
	defer r.Close()

	r.Pause()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.Paused() {
		t.Fatal("Start opened a stream after Pause")
	}
	if n := len(p.Sessions()); n != 0 {
		t.Fatalf("sessions = %d before Resume; want 0", n)
	}

	r.Resume()
	if r.Paused() {
		t.Fatal("Resume did not open the deferred stream")
	}
	if n := len(p.Sessions()); n != 1 {
		t.Errorf("sessions = %d after Resume; want 1", n)
	}
}

func TestRecognizer_ResumeFailureStaysPaused(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r := New(p)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()

	r.Pause()
	p.StartStreamErr = errors.New("provider down")
	r.Resume()
	if !r.Paused() {
		t.Error("Paused = false after a failed resume")
	}
}

func TestRecognizer_StartError(t *testing.T) {
	t.Parallel()

	want := errors.New("no credentials")
	r := New(&sttmock.Provider{StartStreamErr: want})
	if err := r.Start(context.Background()); !errors.Is(err, want) {
		t.Fatalf("Start err = %v; want %v", err, want)
	}
	if !r.Paused() {
		t.Error("Paused = false after failed start")
	}
}

func TestRecognizer_Close(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	r := New(p)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !p.Last().Closed() {
		t.Error("stream not closed")
	}
	if err := r.Feed(frame16k(160)); !errors.Is(err, ErrClosed) {
		t.Errorf("Feed after Close err = %v; want ErrClosed", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close err = %v; want ErrClosed", err)
	}
	r.Resume()
	if n := len(p.Sessions()); n != 1 {
		t.Errorf("Resume after Close opened a stream: sessions = %d", n)
	}
}

func TestRecognizer_ResumeAfterContextCancel(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	ctx, cancel := context.WithCancel(context.Background())
	r := New(p)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()

	r.Pause()
	cancel()
	r.Resume()
	if n := len(p.Sessions()); n != 1 {
		t.Errorf("sessions = %d; want 1 after cancelled resume", n)
	}
}
