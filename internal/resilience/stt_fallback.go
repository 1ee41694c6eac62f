package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens each stream on the first
// healthy backend. Each backend has its own circuit breaker.
type STTFallback struct {
	group   *FallbackGroup[stt.Provider]
	metrics *observe.Metrics
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// A nil m records nothing.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig, m *observe.Metrics) *STTFallback {
	f := &STTFallback{metrics: m}
	user := cfg.OnAttempt
	cfg.OnAttempt = func(name string, err error) {
		f.record(name, err)
		if user != nil {
			user(name, err)
		}
	}
	f.group = NewFallbackGroup(primary, primaryName, cfg)
	return f
}

// AddFallback registers an additional backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Statuses reports the breaker state of every backend.
func (f *STTFallback) Statuses() []EntryStatus { return f.group.Statuses() }

// Healthy reports whether any backend would accept a new stream.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }

// StartStream opens a stream on the primary, falling through to the next
// backend on error.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Do(f.group, func(_ string, p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Close releases backends that hold resources, such as a loaded model.
func (f *STTFallback) Close() error {
	var errs []error
	for _, p := range f.group.Values() {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func (f *STTFallback) record(name string, err error) {
	if f.metrics == nil {
		return
	}
	ctx := context.Background()
	if err != nil {
		f.metrics.RecordProviderRequest(ctx, name, "error")
		f.metrics.RecordProviderError(ctx, name)
		return
	}
	f.metrics.RecordProviderRequest(ctx, name, "ok")
}
