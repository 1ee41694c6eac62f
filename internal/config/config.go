// Package config provides the configuration schema, loader, file watcher and
// recognizer registry for the voicelink client.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
//
// Fields tagged with env can be overridden by VOICELINK_-prefixed
// environment variables, see [ApplyEnv].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Audio      AudioConfig      `yaml:"audio"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Memory     MemoryConfig     `yaml:"memory"`
}

// ServerConfig holds the local observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" env:"LOG_LEVEL"`

	// TLS configures TLS for the listener. When nil, it serves plain HTTP.
	TLS *TLSConfig `yaml:"tls" env:",noinit"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// BridgeConfig describes how to reach the remote voice bridge.
type BridgeConfig struct {
	// BaseURL is the bridge base, e.g. "https://bridge.example.com". Required.
	BaseURL string `yaml:"base_url" env:"BRIDGE_URL"`

	// SessionPath is the bootstrap endpoint below BaseURL. Default: "/session".
	SessionPath string `yaml:"session_path" env:"BRIDGE_SESSION_PATH"`

	// HTTPTimeout bounds the bootstrap request. Zero means no timeout.
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"BRIDGE_HTTP_TIMEOUT"`

	// WarmupInterval is the period of warm-up progress reports. Default: 1s.
	WarmupInterval time.Duration `yaml:"warmup_interval"`

	// WarmupBound changes the progress message once exceeded. Default: 90s.
	WarmupBound time.Duration `yaml:"warmup_bound"`

	// ReadLimit caps one inbound WebSocket message in bytes. Default: 1 MiB.
	ReadLimit int64 `yaml:"read_limit"`
}

// AudioConfig holds the codec and echo tunables.
type AudioConfig struct {
	// EchoWindow is how long after the last remote audio frame the local
	// recognizer stays paused. Hot-reloadable. Default: 800ms.
	EchoWindow time.Duration `yaml:"echo_window"`

	// Bitrate of the encoded capture stream in bits per second.
	Bitrate int `yaml:"bitrate"`

	// PacketsPerPage is the Ogg batching factor of the capture stream.
	PacketsPerPage int `yaml:"packets_per_page"`

	// PlaybackChannels is the decoded channel count, 1 or 2.
	PlaybackChannels int `yaml:"playback_channels"`
}

// RecognizerConfig configures local speech recognition. With no providers
// the session does not recognise speech locally.
type RecognizerConfig struct {
	// Providers lists recognizer backends in preference order. The first is
	// the primary; the rest are fallbacks behind circuit breakers.
	Providers []ProviderEntry `yaml:"providers"`

	// APIKey is used by providers whose entry has no api_key.
	APIKey string `yaml:"api_key" env:"STT_API_KEY"`

	// Language is the BCP-47 recognition language. Default: "en-US".
	Language string `yaml:"language" env:"STT_LANGUAGE"`

	// SampleRate of the PCM fed to the recognizer. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// CircuitBreaker tunes the per-provider breakers.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig tunes a provider circuit breaker. Zero values select the
// breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the configuration block of one recognizer backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider, or the model file for
	// whisper-native.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TranscriptConfig holds the transcript bridge tunables.
type TranscriptConfig struct {
	// CommitWindow is the recognizer fragment debounce. Hot-reloadable.
	// Default: 800ms.
	CommitWindow time.Duration `yaml:"commit_window"`

	// Vocabulary lists domain words spoken turns are corrected against.
	Vocabulary []string `yaml:"vocabulary" env:"VOCABULARY"`
}

// MemoryConfig selects where transcripts are persisted.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Empty keeps
	// transcripts in memory only.
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`

	// RecentWindow is how far back transcript history is read on start.
	// Default: 1h.
	RecentWindow time.Duration `yaml:"recent_window"`
}
