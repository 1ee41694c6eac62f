package stt

import (
	"strings"
	"time"
)

// Transcript is one recognizer result. Partials may be revised by later
// results; a final never is.
type Transcript struct {
	Text    string
	IsFinal bool

	// Confidence in [0, 1], zero when the backend does not report one.
	Confidence float64

	// Words is empty unless the backend reports word timings.
	Words []WordDetail

	// Timestamp is the utterance start relative to the stream start.
	Timestamp time.Duration
	Duration  time.Duration
}

// Blank reports whether the result carries no speech.
func (t Transcript) Blank() bool { return strings.TrimSpace(t.Text) == "" }

// WordDetail is the timing of one recognised word.
type WordDetail struct {
	Word       string
	Start, End time.Duration
	Confidence float64
}

// KeywordBoost biases recognition toward a vocabulary word. The Boost scale
// is backend specific.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
