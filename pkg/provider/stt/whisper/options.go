package whisper

import (
	"net/http"
	"time"
)

const (
	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultSilence      = 500 * time.Millisecond
	defaultMaxBuffer    = 10 * time.Second
	defaultRMSThreshold = 300.0
	defaultHTTPTimeout  = 30 * time.Second
)

// settings is shared by the HTTP and native providers.
type settings struct {
	model        string
	language     string
	sampleRate   int
	silence      time.Duration
	maxBuffer    time.Duration
	rmsThreshold float64
	httpClient   *http.Client
}

func defaultSettings() settings {
	return settings{
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		silence:      defaultSilence,
		maxBuffer:    defaultMaxBuffer,
		rmsThreshold: defaultRMSThreshold,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Option configures a [Provider] or a [NativeProvider].
type Option func(*settings)

// WithModel names the model the whisper server should use. The native
// provider ignores it; its model is the file passed to [NewNative].
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithLanguage sets the default language, for example "en" or "de".
func WithLanguage(lang string) Option {
	return func(s *settings) { s.language = lang }
}

// WithSampleRate sets the default PCM rate when the stream config has none.
func WithSampleRate(rate int) Option {
	return func(s *settings) { s.sampleRate = rate }
}

// WithSilence sets how much trailing silence ends an utterance.
func WithSilence(d time.Duration) Option {
	return func(s *settings) { s.silence = d }
}

// WithMaxBuffer forces a flush once an utterance reaches d of audio.
func WithMaxBuffer(d time.Duration) Option {
	return func(s *settings) { s.maxBuffer = d }
}

// WithRMSThreshold sets the energy below which a chunk counts as silence,
// in 16-bit sample units.
func WithRMSThreshold(rms float64) Option {
	return func(s *settings) { s.rmsThreshold = rms }
}

// WithHTTPClient replaces the client used to reach the whisper server.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}
