package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt, when set, is called once per entry that was actually invoked.
	// Entries skipped because their breaker is open are not reported.
	OnAttempt func(name string, err error)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// EntryStatus is a snapshot of one entry for readiness reporting.
type EntryStatus struct {
	Name  string
	State State
}

// FallbackGroup holds a primary and zero or more fallbacks of the same
// provider type. When the primary fails or its breaker is open, the next
// healthy fallback is tried in registration order.
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu      sync.RWMutex
	entries []*fallbackEntry[T]
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider tried after every earlier entry.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	e := &fallbackEntry[T]{name: name, value: fallback, breaker: NewCircuitBreaker(cbCfg)}

	fg.mu.Lock()
	fg.entries = append(fg.entries, e)
	fg.mu.Unlock()
}

// Statuses reports each entry's breaker state in registration order.
func (fg *FallbackGroup[T]) Statuses() []EntryStatus {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	out := make([]EntryStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryStatus{Name: e.name, State: e.breaker.State()}
	}
	return out
}

// Values returns every entry's value in registration order.
func (fg *FallbackGroup[T]) Values() []T {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	out := make([]T, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.value
	}
	return out
}

// Healthy reports whether at least one entry would currently accept a call.
func (fg *FallbackGroup[T]) Healthy() bool {
	for _, s := range fg.Statuses() {
		if s.State != StateOpen {
			return true
		}
	}
	return false
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := Do(fg, func(_ string, v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [Do] for callers that do not need the entry name.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	return Do(fg, func(_ string, v T) (R, error) { return fn(v) })
}

// Do tries fn against each entry in turn and returns the first success.
// Breaker-open entries are skipped. When every entry fails the result wraps
// [ErrAllFailed] and the last error seen.
func Do[T, R any](fg *FallbackGroup[T], fn func(name string, v T) (R, error)) (R, error) {
	fg.mu.RLock()
	entries := append([]*fallbackEntry[T](nil), fg.entries...)
	fg.mu.RUnlock()

	var (
		lastErr error
		zero    R
	)
	for _, e := range entries {
		var result R
		called := false
		err := e.breaker.Execute(func() error {
			called = true
			var innerErr error
			result, innerErr = fn(e.name, e.value)
			return innerErr
		})
		if called && fg.cfg.OnAttempt != nil {
			fg.cfg.OnAttempt(e.name, err)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", e.name)
		} else {
			slog.Warn("resilience: provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
