// Package mock provides test doubles for the stt package.
//
// [Provider] hands out a fresh [Session] on every StartStream, so tests can
// follow a recognizer through several pause/resume cycles:
//
//	p := &mock.Provider{}
//	h, _ := p.StartStream(ctx, cfg)
//	p.Last().EmitFinal("hello")
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

// ErrClosed is returned by SendAudio after Close.
var ErrClosed = errors.New("mock: session closed")

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// Provider is a recording [stt.Provider].
type Provider struct {
	// StartStreamErr is returned by StartStream when non-nil.
	StartStreamErr error

	mu       sync.Mutex
	configs  []stt.StreamConfig
	sessions []*Session
}

// StartStream records cfg and returns a new open Session.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs = append(p.configs, cfg)
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Configs returns the stream configs passed to StartStream, in order.
func (p *Provider) Configs() []stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stt.StreamConfig(nil), p.configs...)
}

// Sessions returns every session handed out, in order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Last returns the most recent session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Session is a recording [stt.SessionHandle]. Transcripts are injected with
// EmitPartial and EmitFinal; Close closes both channels.
type Session struct {
	// SendAudioErr is returned by SendAudio when non-nil.
	SendAudioErr error

	// SetKeywordsErr is returned by SetKeywords when non-nil.
	SetKeywordsErr error

	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu       sync.Mutex
	closed   bool
	chunks   [][]byte
	keywords [][]stt.KeywordBoost
	closes   int
}

// NewSession returns an open Session with buffered channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	return nil
}

func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords records a copy of keywords.
func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append(s.keywords, append([]stt.KeywordBoost(nil), keywords...))
	return s.SetKeywordsErr
}

// Close closes both channels. It counts every call and is safe to repeat.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
	}
	return nil
}

// EmitPartial delivers an interim transcript. It reports false when the
// session is closed or the buffer is full.
func (s *Session) EmitPartial(text string) bool {
	return s.emit(s.partials, stt.Transcript{Text: text})
}

// EmitFinal delivers a final transcript. It reports false when the session
// is closed or the buffer is full.
func (s *Session) EmitFinal(text string) bool {
	return s.emit(s.finals, stt.Transcript{Text: text, IsFinal: true})
}

func (s *Session) emit(ch chan stt.Transcript, t stt.Transcript) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case ch <- t:
		return true
	default:
		return false
	}
}

// Chunks returns copies of the audio received so far.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCount is the number of Close calls.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
