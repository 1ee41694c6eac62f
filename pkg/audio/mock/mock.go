// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for unit tests.
//
// Both mocks are safe for concurrent use and record what passes through them.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Format{SampleRate: 24000, Channels: 1}, 4)
//	src.Emit(frame)
//	sink := &mock.Sink{}
//	// ... run the pipeline ...
//	got := sink.Frames()
package mock

import (
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a scriptable [audio.Source]. Frames are pushed with [Source.Emit].
type Source struct {
	format audio.Format
	ch     chan audio.AudioFrame

	mu             sync.Mutex
	closed         bool
	CallCountClose int
}

// NewSource creates a Source with a buffered frame channel of size buf.
func NewSource(format audio.Format, buf int) *Source {
	return &Source{format: format, ch: make(chan audio.AudioFrame, buf)}
}

// Emit delivers frame to consumers. It reports false if the source is closed.
func (s *Source) Emit(frame audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- frame
	return true
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame { return s.ch }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a recording [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// WriteError is returned by every Write when non-nil.
	WriteError error

	// Format, when non-zero, is reported through RequestedFormat.
	Format audio.Format

	frames []audio.AudioFrame
	closed bool

	// notify receives a value after every successful write when set via Notify.
	notify chan struct{}
}

// Notify returns a channel that receives after every successful Write.
func (s *Sink) Notify() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify == nil {
		s.notify = make(chan struct{}, 1024)
	}
	return s.notify
}

// Write implements [audio.Sink].
func (s *Sink) Write(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	s.frames = append(s.frames, frame)
	if s.notify != nil {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// RequestedFormat implements [audio.FormatRequester].
func (s *Sink) RequestedFormat() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Format
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Frames returns a copy of every frame written so far.
func (s *Sink) Frames() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Closed reports whether Close has been called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
