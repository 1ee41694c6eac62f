package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/pkg/memory"
)

// EventKind classifies an [Event].
type EventKind int

const (
	// EventState reports a lifecycle transition. State holds the new state.
	EventState EventKind = iota

	// EventWarmup is the once-per-second progress report while waiting for
	// the handshake. Elapsed holds the time since connect.
	EventWarmup

	// EventControl carries a tag-3 control acknowledgement in Message.
	EventControl

	// EventMAS carries an orchestration event verbatim in Data.
	EventMAS

	// EventInjectionAck reports that InjectionID was acknowledged.
	EventInjectionAck

	// EventRemoteError is an error message sent by the bridge.
	EventRemoteError

	// EventTransportError is a connect, send or close failure. Err is set.
	EventTransportError

	// EventPermissionDenied means the capture source could not be opened.
	// The session continues with text only.
	EventPermissionDenied

	// EventTextOnly means the codec pipeline could not be initialised.
	EventTextOnly

	// EventTurn reports a committed transcript turn in Turn.
	EventTurn
)

// String returns a short name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventWarmup:
		return "warmup"
	case EventControl:
		return "control"
	case EventMAS:
		return "mas_event"
	case EventInjectionAck:
		return "injection_ack"
	case EventRemoteError:
		return "remote_error"
	case EventTransportError:
		return "transport_error"
	case EventPermissionDenied:
		return "permission_denied"
	case EventTextOnly:
		return "text_only"
	case EventTurn:
		return "turn"
	default:
		return "unknown"
	}
}

// Event is one status report of a session.
type Event struct {
	Kind        EventKind
	At          time.Time
	State       State
	Message     string
	Elapsed     time.Duration
	Data        json.RawMessage
	InjectionID string
	Turn        memory.TranscriptEntry
	Err         error
}

// String renders the event as a single status line.
func (e Event) String() string {
	switch e.Kind {
	case EventState:
		if e.Err != nil {
			return fmt.Sprintf("session %s: %v", e.State, e.Err)
		}
		return "session " + e.State.String()
	case EventWarmup:
		return e.Message
	case EventControl:
		return "control: " + e.Message
	case EventMAS:
		return "event: " + string(e.Data)
	case EventInjectionAck:
		return "injection acknowledged: " + e.InjectionID
	case EventRemoteError:
		return "bridge error: " + e.Message
	case EventTransportError:
		return fmt.Sprintf("transport error: %v", e.Err)
	case EventPermissionDenied:
		return "microphone permission denied, continuing with text only"
	case EventTextOnly:
		return fmt.Sprintf("audio unavailable, continuing with text only: %v", e.Err)
	case EventTurn:
		return fmt.Sprintf("%s: %s", e.Turn.Role, e.Turn.Text)
	default:
		return e.Kind.String()
	}
}

// warmupMessage is the progress line for a handshake wait of elapsed.
func warmupMessage(elapsed, bound time.Duration) string {
	secs := int(elapsed.Round(time.Second) / time.Second)
	if elapsed > bound {
		return fmt.Sprintf("Still warming up the voice model (%ds), this is taking longer than expected", secs)
	}
	return fmt.Sprintf("Warming up the voice model (%ds)", secs)
}

// eventBuffer is the capacity of the status channel.
const eventBuffer = 128

// reporter fans events into a buffered channel. When the reader falls behind
// events are dropped rather than stalling the receive loop.
type reporter struct {
	ch chan Event

	mu      sync.Mutex
	closed  bool
	dropped int
}

func newReporter() *reporter {
	return &reporter{ch: make(chan Event, eventBuffer)}
}

func (r *reporter) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.dropped++
		slog.Warn("session: status channel full, dropping event", "kind", e.Kind.String(), "dropped", r.dropped)
	}
}

func (r *reporter) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
