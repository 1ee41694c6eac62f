package transcript

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/memory"
)

// DefaultCommitWindow is how long the bridge waits after the last finalized
// fragment before committing the utterance.
const DefaultCommitWindow = 800 * time.Millisecond

// persistTimeout bounds one store write.
const persistTimeout = 5 * time.Second

// Turn is one committed side of the conversation.
type Turn = memory.TranscriptEntry

// BridgeOption configures a [Bridge].
type BridgeOption func(*Bridge)

// WithCommitWindow sets the commit debounce. Non-positive values are ignored.
func WithCommitWindow(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.window = d
		}
	}
}

// WithCorrector applies c to every spoken utterance before it is committed.
func WithCorrector(c *Corrector) BridgeOption {
	return func(b *Bridge) { b.corrector = c }
}

// WithStore persists every committed turn under sessionID.
func WithStore(store memory.SessionStore, sessionID string) BridgeOption {
	return func(b *Bridge) {
		b.store = store
		b.sessionID = sessionID
	}
}

// WithLatency records stage samples on lt.
func WithLatency(lt *observe.LatencyTracker) BridgeOption {
	return func(b *Bridge) { b.latency = lt }
}

// WithOnCommit registers the callback that forwards a spoken utterance to
// the remote side. It runs without the bridge lock held.
func WithOnCommit(fn func(text string)) BridgeOption {
	return func(b *Bridge) { b.onCommit = fn }
}

// WithOnFragment registers a callback invoked for every finalized fragment
// before the debounce completes.
func WithOnFragment(fn func(text string)) BridgeOption {
	return func(b *Bridge) { b.onFragment = fn }
}

// WithOnTurn registers a callback invoked for every committed turn, in order,
// after it has been persisted.
func WithOnTurn(fn func(Turn)) BridgeOption {
	return func(b *Bridge) { b.onTurn = fn }
}

func withClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

// Bridge joins the remote text stream and the local recognizer into one
// ordered list of turns. It is safe for concurrent use.
type Bridge struct {
	corrector  *Corrector
	store      memory.SessionStore
	sessionID  string
	latency    *observe.LatencyTracker
	onCommit   func(string)
	onFragment func(string)
	onTurn     func(Turn)
	now        func() time.Time

	text Buffer

	mu     sync.Mutex
	window time.Duration
	closed bool
	turns  []Turn

	// Pending spoken fragments.
	fragments     []string
	firstFragment time.Time
	timer         *time.Timer
	gen           uint64

	// Running assistant response.
	respStart     int
	firstToken    time.Time
	committedAt   time.Time
	awaitingReply bool
	awaitingAudio bool
}

// NewBridge returns a Bridge with the given options.
func NewBridge(opts ...BridgeOption) *Bridge {
	b := &Bridge{
		window: DefaultCommitWindow,
		now:    time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// AppendRemote joins a remote text token onto the running response. The
// first token after a committed user turn records a text_to_response sample.
func (b *Bridge) AppendRemote(token string) {
	if token == "" {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	now := b.now()
	b.text.Append(token)

	var sample time.Duration
	record := false
	if b.awaitingReply {
		sample, record = now.Sub(b.committedAt), true
		b.awaitingReply = false
	}
	if b.firstToken.IsZero() {
		b.firstToken = now
		b.awaitingAudio = true
	}
	b.mu.Unlock()

	if record {
		b.record(observe.StageTextToResponse, sample)
	}
}

// OnRemoteAudio notes a remote audio frame. The first one after the first
// token of a response records a response_to_audio sample.
func (b *Bridge) OnRemoteAudio() {
	b.mu.Lock()
	if b.closed || !b.awaitingAudio {
		b.mu.Unlock()
		return
	}
	b.awaitingAudio = false
	sample := b.now().Sub(b.firstToken)
	b.mu.Unlock()

	b.record(observe.StageResponseToAudio, sample)
}

// OnRecognized collects one finalized recognizer fragment and restarts the
// commit debounce.
func (b *Bridge) OnRecognized(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.fragments) == 0 {
		b.firstFragment = b.now()
	}
	b.fragments = append(b.fragments, text)
	b.gen++
	gen := b.gen
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.window, func() { b.fire(gen) })
	b.mu.Unlock()

	if b.onFragment != nil {
		b.onFragment(text)
	}
}

// fire commits the coalesced utterance unless newer fragments superseded gen.
func (b *Bridge) fire(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.gen || len(b.fragments) == 0 {
		b.mu.Unlock()
		return
	}
	raw := strings.Join(b.fragments, " ")
	started := b.firstFragment
	b.fragments = nil
	b.firstFragment = time.Time{}
	b.timer = nil
	b.mu.Unlock()

	text, corrections := b.corrector.Correct(raw)
	if len(corrections) > 0 {
		slog.Debug("transcript: corrected utterance", "raw", raw, "text", text, "corrections", len(corrections))
	} else {
		raw = ""
	}

	entries := b.commit(Turn{
		Role:    memory.RoleUser,
		Text:    text,
		RawText: raw,
		Spoken:  true,
	}, started)
	if len(entries) == 0 {
		return
	}
	b.record(observe.StageCaptureToText, entries[len(entries)-1].Duration)
	if b.onCommit != nil {
		b.onCommit(text)
	}
	b.persist(entries)
}

// CommitText commits a typed user turn immediately. The caller is
// responsible for sending it to the remote side. It reports whether a turn
// was committed.
func (b *Bridge) CommitText(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	entries := b.commit(Turn{Role: memory.RoleUser, Text: text}, time.Time{})
	b.persist(entries)
	return len(entries) > 0
}

// commit closes the running response and appends turn. It returns the
// entries added, the user turn last.
func (b *Bridge) commit(turn Turn, started time.Time) []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	now := b.now()
	var added []Turn
	if resp, ok := b.closeResponseLocked(now); ok {
		added = append(added, resp)
	}

	turn.Timestamp = now
	if !started.IsZero() {
		turn.Duration = now.Sub(started)
	}
	b.turns = append(b.turns, turn)
	added = append(added, turn)

	b.committedAt = now
	b.awaitingReply = true
	return added
}

// closeResponseLocked turns the running response into an assistant turn.
func (b *Bridge) closeResponseLocked(now time.Time) (Turn, bool) {
	resp := b.text.Since(b.respStart)
	first := b.firstToken
	b.respStart = b.text.Len()
	b.firstToken = time.Time{}
	b.awaitingAudio = false
	if resp == "" {
		return Turn{}, false
	}
	t := Turn{
		Role:      memory.RoleAssistant,
		Text:      resp,
		Timestamp: now,
		Duration:  now.Sub(first),
	}
	b.turns = append(b.turns, t)
	return t, true
}

// Response returns the assistant text streamed since the last user turn.
func (b *Bridge) Response() string {
	b.mu.Lock()
	start := b.respStart
	b.mu.Unlock()
	return b.text.Since(start)
}

// Transcript returns every remote token received in this session joined
// into one string.
func (b *Bridge) Transcript() string { return b.text.String() }

// Turns returns a copy of the committed turns in order.
func (b *Bridge) Turns() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Pending reports whether spoken fragments are waiting for the debounce.
func (b *Bridge) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fragments) > 0
}

// SetCommitWindow changes the debounce. It applies from the next fragment on.
func (b *Bridge) SetCommitWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = d
}

// Close stops the debounce, discards pending fragments and closes the
// running response as a final assistant turn. Calls after the first are
// no-ops.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if n := len(b.fragments); n > 0 {
		slog.Debug("transcript: dropping uncommitted fragments", "count", n)
	}
	b.fragments = nil
	var entries []Turn
	if resp, ok := b.closeResponseLocked(b.now()); ok {
		entries = append(entries, resp)
	}
	b.closed = true
	b.mu.Unlock()

	b.persist(entries)
}

func (b *Bridge) record(stage observe.Stage, d time.Duration) {
	if b.latency != nil {
		b.latency.Record(stage, d)
	}
}

func (b *Bridge) persist(entries []Turn) {
	if b.onTurn != nil {
		defer func() {
			for _, e := range entries {
				b.onTurn(e)
			}
		}()
	}
	if b.store == nil || len(entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for _, e := range entries {
		if err := b.store.WriteEntry(ctx, b.sessionID, e); err != nil {
			slog.Warn("transcript: failed to persist turn", "session_id", b.sessionID, "role", e.Role, "err", err)
		}
	}
}
