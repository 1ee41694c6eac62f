// Package recognizer runs local speech recognition on captured audio and
// hands finished utterances to the transcript bridge.
//
// A [Recognizer] owns at most one open [stt.SessionHandle]. [Recognizer.Pause]
// closes it and [Recognizer.Resume] opens a fresh one, which is how the echo
// coordinator keeps the remote voice out of the local transcript.
package recognizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicelink/internal/echo"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

// ErrClosed is returned by [Recognizer.Start] and [Recognizer.Feed] after Close.
var ErrClosed = errors.New("recognizer: closed")

// DefaultStreamConfig is the format local recognizers are fed unless
// configured otherwise.
var DefaultStreamConfig = stt.StreamConfig{
	SampleRate: 16000,
	Channels:   1,
	Language:   "en-US",
}

var _ echo.Recognition = (*Recognizer)(nil)

// Option configures a [Recognizer].
type Option func(*Recognizer)

// WithStreamConfig overrides [DefaultStreamConfig].
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(r *Recognizer) { r.cfg = cfg }
}

// WithOnFinal registers the callback receiving every non-empty final.
func WithOnFinal(fn func(text string)) Option {
	return func(r *Recognizer) { r.onFinal = fn }
}

// WithOnPartial registers the callback receiving interim guesses.
func WithOnPartial(fn func(text string)) Option {
	return func(r *Recognizer) { r.onPartial = fn }
}

// Recognizer is safe for concurrent use.
type Recognizer struct {
	provider  stt.Provider
	cfg       stt.StreamConfig
	onFinal   func(string)
	onPartial func(string)
	conv      *audio.FormatConverter

	// opMu serialises Start, Pause, Resume and Close so a slow StartStream
	// cannot interleave with a Pause.
	opMu sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	handle  stt.SessionHandle
	started bool
	paused  bool
	closed  bool

	wg sync.WaitGroup
}

// New returns a Recognizer over p. Nothing is opened until [Recognizer.Start].
func New(p stt.Provider, opts ...Option) *Recognizer {
	r := &Recognizer{
		provider: p,
		cfg:      DefaultStreamConfig,
	}
	for _, o := range opts {
		o(r)
	}
	r.conv = &audio.FormatConverter{Target: audio.Format{SampleRate: r.cfg.SampleRate, Channels: r.cfg.Channels}}
	return r
}

// Start opens the first stream. ctx bounds every stream opened later by
// Resume. If Pause was called before Start, no stream is opened until the
// next Resume.
func (r *Recognizer) Start(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.ctx = ctx
	r.started = true
	paused := r.paused
	r.mu.Unlock()

	if paused {
		slog.Debug("recognizer: started paused")
		return nil
	}
	return r.open()
}

// open must be called with opMu held.
func (r *Recognizer) open() error {
	h, err := r.provider.StartStream(r.ctx, r.cfg)
	if err != nil {
		r.mu.Lock()
		r.paused = true
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.handle = h
	r.paused = false
	r.mu.Unlock()

	r.wg.Add(1)
	go r.read(h)
	return nil
}

// Feed forwards one captured frame to the open stream. Frames arriving while
// paused are dropped.
func (r *Recognizer) Feed(frame audio.AudioFrame) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	h := r.handle
	frame = r.conv.Convert(frame)
	r.mu.Unlock()

	if h == nil || len(frame.Data) == 0 {
		return nil
	}
	return h.SendAudio(frame.Data)
}

// Pause closes the open stream. Finals it flushes while closing are still
// delivered. Pause is idempotent.
func (r *Recognizer) Pause() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	h := r.handle
	r.handle = nil
	r.paused = true
	r.mu.Unlock()

	if h == nil {
		return
	}
	slog.Debug("recognizer: paused")
	// Closing may wait on the provider; keep the caller's goroutine free.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := h.Close(); err != nil {
			slog.Warn("recognizer: close stream", "err", err)
		}
	}()
}

// Resume opens a new stream if the recognizer is paused. Resume is
// idempotent. A failure to open leaves the recognizer paused.
func (r *Recognizer) Resume() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	ready := r.started && r.paused && !r.closed && r.ctx.Err() == nil
	r.mu.Unlock()
	if !ready {
		return
	}
	if err := r.open(); err != nil {
		slog.Warn("recognizer: resume failed, staying paused", "err", err)
		return
	}
	slog.Debug("recognizer: resumed")
}

// Paused reports whether no stream is open.
func (r *Recognizer) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle == nil
}

// Close ends the open stream and waits for its finals to be delivered.
// Close is idempotent.
func (r *Recognizer) Close() error {
	r.opMu.Lock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.opMu.Unlock()
		return nil
	}
	r.closed = true
	h := r.handle
	r.handle = nil
	r.mu.Unlock()
	r.opMu.Unlock()

	var err error
	if h != nil {
		err = h.Close()
	}
	r.wg.Wait()
	return err
}

// read delivers results of one stream until both channels are closed.
func (r *Recognizer) read(h stt.SessionHandle) {
	defer r.wg.Done()
	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if !t.Blank() && r.onPartial != nil {
				r.onPartial(t.Text)
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if t.Blank() {
				continue
			}
			slog.Debug("recognizer: final", "text", t.Text, "confidence", t.Confidence)
			if r.onFinal != nil {
				r.onFinal(t.Text)
			}
		}
	}
}
