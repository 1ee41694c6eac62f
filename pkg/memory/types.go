package memory

import "time"

// Speaker roles recorded on a [TranscriptEntry].
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptEntry is one committed turn of a voice conversation.
type TranscriptEntry struct {
	// Role is [RoleUser] for locally recognised or typed turns and
	// [RoleAssistant] for text streamed back by the remote model.
	Role string

	// Text is the committed (possibly corrected) text.
	Text string

	// RawText is the uncorrected recognizer output. Empty when no
	// correction was applied or the turn was typed.
	RawText string

	// Spoken is true when the turn came from speech rather than typing.
	Spoken bool

	// Timestamp is when the turn was committed.
	Timestamp time.Time

	// Duration is how long the turn took to produce: first fragment to
	// commit for user speech, first token to close for assistant turns.
	Duration time.Duration
}
