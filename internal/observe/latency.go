package observe

import (
	"context"
	"sync"
	"time"
)

// Stage names one leg of the conversational round trip.
type Stage string

const (
	// StageCaptureToText runs from the first recognised fragment of an
	// utterance to its commit as a user turn.
	StageCaptureToText Stage = "capture_to_text"

	// StageTextToResponse runs from a committed user turn to the first
	// remote text token of the reply.
	StageTextToResponse Stage = "text_to_response"

	// StageResponseToAudio runs from the first remote text token to the
	// first remote audio frame.
	StageResponseToAudio Stage = "response_to_audio"
)

// Stages lists every stage in round-trip order.
var Stages = []Stage{StageCaptureToText, StageTextToResponse, StageResponseToAudio}

// DefaultLatencyWindow is the number of samples kept per stage.
const DefaultLatencyWindow = 20

// LatencyTracker keeps the most recent samples of each [Stage] and reports
// their average on demand. When built with [Metrics], every sample is also
// observed on the matching histogram.
//
// LatencyTracker is safe for concurrent use.
type LatencyTracker struct {
	window  int
	metrics *Metrics

	mu      sync.Mutex
	samples map[Stage][]time.Duration
}

// NewLatencyTracker returns a tracker keeping window samples per stage.
// A non-positive window selects [DefaultLatencyWindow]. metrics may be nil.
func NewLatencyTracker(window int, metrics *Metrics) *LatencyTracker {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &LatencyTracker{
		window:  window,
		metrics: metrics,
		samples: make(map[Stage][]time.Duration, len(Stages)),
	}
}

// Record adds a sample, evicting the oldest one when the window is full.
// Negative durations are ignored.
func (t *LatencyTracker) Record(stage Stage, d time.Duration) {
	if d < 0 {
		return
	}
	t.mu.Lock()
	s := append(t.samples[stage], d)
	if len(s) > t.window {
		s = s[len(s)-t.window:]
	}
	t.samples[stage] = s
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordStage(context.Background(), stage, d)
	}
}

// Average returns the mean of the retained samples of stage, or 0 when
// there are none.
func (t *LatencyTracker) Average(stage Stage) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.samples[stage]
	if len(s) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s {
		sum += d
	}
	return sum / time.Duration(len(s))
}

// Samples returns a copy of the retained samples of stage, oldest first.
func (t *LatencyTracker) Samples(stage Stage) []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.samples[stage]))
	copy(out, t.samples[stage])
	return out
}

// Snapshot returns the current average of every stage.
func (t *LatencyTracker) Snapshot() map[Stage]time.Duration {
	out := make(map[Stage]time.Duration, len(Stages))
	for _, s := range Stages {
		out[s] = t.Average(s)
	}
	return out
}
