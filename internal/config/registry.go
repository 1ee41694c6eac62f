package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/resilience"
	"github.com/MrWong99/voicelink/pkg/provider/stt"
)

var (
	// ErrProviderNotRegistered is returned by [Registry.CreateSTT] when no
	// factory has been registered under the requested provider name.
	ErrProviderNotRegistered = errors.New("config: provider not registered")

	// ErrNoRecognizer is returned by [Registry.Recognizer] when no provider
	// is configured.
	ErrNoRecognizer = errors.New("config: no recognizer configured")
)

// STTFactory builds a recognizer backend from its config entry.
type STTFactory func(ProviderEntry) (stt.Provider, error)

// Registry maps recognizer names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]STTFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{stt: make(map[string]STTFactory)}
}

// RegisterSTT registers a recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// Names returns the registered recognizer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.stt))
}

// CreateSTT instantiates the recognizer registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Recognizer builds every configured backend and chains them, in order,
// behind per-backend circuit breakers. A name that repeats is labelled
// with its list index in logs and metrics. Entries without an api_key inherit
// rc.APIKey and entries without a language option inherit rc.Language.
// A backend that fails to build is logged and skipped; only when none can
// be built is an error returned. m may be nil.
func (r *Registry) Recognizer(rc RecognizerConfig, m *observe.Metrics) (*resilience.STTFallback, error) {
	if len(rc.Providers) == 0 {
		return nil, ErrNoRecognizer
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  rc.CircuitBreaker.MaxFailures,
			ResetTimeout: rc.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  rc.CircuitBreaker.HalfOpenMax,
		},
	}

	var (
		fb     *resilience.STTFallback
		errs   []error
		labels = make(map[string]bool)
	)
	for i, entry := range rc.Providers {
		entry = inherit(entry, rc)
		p, err := r.CreateSTT(entry)
		if err != nil {
			slog.Warn("recognizer backend unavailable", "index", i, "name", entry.Name, "err", err)
			errs = append(errs, fmt.Errorf("recognizer.providers[%d] %q: %w", i, entry.Name, err))
			continue
		}
		label := entry.Name
		if labels[label] {
			label = fmt.Sprintf("%s#%d", entry.Name, i)
		}
		labels[label] = true
		if fb == nil {
			fb = resilience.NewSTTFallback(p, label, fbCfg, m)
		} else {
			fb.AddFallback(label, p)
		}
		slog.Info("recognizer backend created", "name", label, "primary", len(fb.Statuses()) == 1)
	}
	if fb == nil {
		return nil, errors.Join(errs...)
	}
	return fb, nil
}

func inherit(entry ProviderEntry, rc RecognizerConfig) ProviderEntry {
	if entry.APIKey == "" {
		entry.APIKey = rc.APIKey
	}
	if rc.Language != "" && OptString(entry.Options, "language") == "" {
		opts := make(map[string]any, len(entry.Options)+1)
		maps.Copy(opts, entry.Options)
		opts["language"] = rc.Language
		entry.Options = opts
	}
	return entry
}

// OptString returns opts[key] when it is a string.
func OptString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// OptInt returns opts[key] when it is a whole number.
func OptInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}
