// Package echo keeps local speech recognition from transcribing the remote
// voice while it is being played back.
//
// The [Coordinator] is a two-state debounce: every remote audio frame marks
// the remote side as speaking and pauses recognition, and recognition resumes
// once no audio has arrived for the settle window.
package echo

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is the settle window used when none is configured.
const DefaultWindow = 800 * time.Millisecond

// Recognition is the local recognizer as seen by the coordinator. Pause and
// Resume must be idempotent.
type Recognition interface {
	Pause()
	Resume()
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithWindow sets the settle window. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithOnChange registers a callback invoked with the new speaking state on
// every transition, after the recognizer was paused or resumed. It must not
// call OnRemoteAudio.
func WithOnChange(fn func(speaking bool)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	rec      Recognition
	onChange func(bool)
	now      func() time.Time

	// tmu orders Pause and Resume calls on rec as the speaking transitions
	// that caused them. It is taken before mu.
	tmu sync.Mutex

	mu        sync.Mutex
	window    time.Duration
	speaking  bool
	lastAudio time.Time
	timer     *time.Timer
	gen       uint64
	closed    bool
}

// New returns a Coordinator controlling rec. rec may be nil when no local
// recognizer is running.
func New(rec Recognition, opts ...Option) *Coordinator {
	c := &Coordinator{
		rec:    rec,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnRemoteAudio records one remote audio frame. The first frame of a burst
// pauses recognition; every frame restarts the settle timer.
func (c *Coordinator) OnRemoteAudio() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lastAudio = c.now()
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, func() { c.settle(gen) })

	started := !c.speaking
	c.speaking = true
	c.mu.Unlock()

	if started {
		c.transition(true)
	}
}

// settle fires when the window elapsed. A fire belonging to an older
// generation lost the race with a newer frame and is ignored.
func (c *Coordinator) settle(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || !c.speaking {
		c.mu.Unlock()
		return
	}
	c.speaking = false
	c.timer = nil
	c.mu.Unlock()

	c.transition(false)
}

// transition applies a speaking change to the recognizer. The state is read
// again under tmu: a transition overtaken by a newer one is skipped, and the
// newer one runs after it.
func (c *Coordinator) transition(speaking bool) {
	c.tmu.Lock()
	defer c.tmu.Unlock()

	c.mu.Lock()
	current := c.speaking
	c.mu.Unlock()
	if current != speaking {
		return
	}

	if speaking {
		slog.Debug("echo: remote speaking, pausing recognition")
		if c.rec != nil {
			c.rec.Pause()
		}
	} else {
		slog.Debug("echo: remote settled, resuming recognition")
		if c.rec != nil {
			c.rec.Resume()
		}
	}
	if c.onChange != nil {
		c.onChange(speaking)
	}
}

// Speaking reports whether remote audio is considered to be playing.
func (c *Coordinator) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// LastAudio returns when the most recent remote frame arrived, or the zero
// time if none has.
func (c *Coordinator) LastAudio() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAudio
}

// Window returns the current settle window.
func (c *Coordinator) Window() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// SetWindow changes the settle window. It applies from the next frame on.
func (c *Coordinator) SetWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = d
}

// Close stops the timer. Recognition is left as it is; no further
// transitions happen after Close.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
