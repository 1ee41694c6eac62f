package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrActive is returned by [Manager.Start] while a session is live.
	ErrActive = errors.New("session: a session is already active")

	// ErrNoSession is returned by [Manager.Stop] when nothing is running.
	ErrNoSession = errors.New("session: no active session to stop")
)

// Factory builds a new, disconnected session.
type Factory func() *Session

// Manager enforces at most one live session. A session stays current after
// it closes or fails so its transcript can still be read; the next Start
// replaces it.
//
// All methods are safe for concurrent use.
type Manager struct {
	factory Factory

	mu        sync.Mutex
	current   *Session
	startedAt time.Time
}

// NewManager returns a Manager that creates sessions with factory.
func NewManager(factory Factory) *Manager {
	return &Manager{factory: factory}
}

// Start creates and connects a new session. It fails with [ErrActive] while
// the current session is not yet closed or failed. A session whose Connect
// fails is still returned and becomes current.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.current != nil && !m.current.State().Done() {
		id := m.current.Info().SessionID
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (id=%s)", ErrActive, id)
	}
	s := m.factory()
	m.current = s
	m.startedAt = time.Now()
	m.mu.Unlock()

	// Not under m.mu so Stop can abort a slow connect.
	if err := s.Connect(ctx); err != nil {
		return s, fmt.Errorf("session: start: %w", err)
	}
	slog.Info("session started", "session_id", s.Info().SessionID, "conversation_id", s.Info().ConversationID)
	return s, nil
}

// Stop ends the current session and waits for teardown.
func (m *Manager) Stop() error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil || s.State().Done() {
		return ErrNoSession
	}
	id := s.Info().SessionID
	if err := s.Stop(); err != nil {
		return err
	}
	slog.Info("session stopped", "session_id", id)
	return nil
}

// Current returns the most recent session, or nil if none was started.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// IsActive reports whether the current session is neither closed nor failed.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.current.State().Done()
}

// Uptime is how long the current session has existed, zero when none is active.
func (m *Manager) Uptime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.State().Done() {
		return 0
	}
	return time.Since(m.startedAt)
}

// Check is a readiness probe: it fails when the current session has failed.
func (m *Manager) Check(context.Context) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s != nil && s.State() == StateFailed {
		return fmt.Errorf("session %s failed", s.Info().SessionID)
	}
	return nil
}
