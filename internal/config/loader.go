package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. VOICELINK_BRIDGE_URL.
const EnvPrefix = "VOICELINK_"

// ValidProviderNames lists the recognizer names registered by the CLI.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"deepgram", "whisper", "whisper-native", "mock"}

// LoadDotEnv loads KEY=value files into the process environment. Missing
// files are skipped and variables that are already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := load(data, envconfig.OsLookuper())
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result
// without consulting the environment.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(data []byte, env envconfig.Lookuper) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(context.Background(), cfg, env); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields of cfg from VOICELINK_-prefixed variables found
// in l. Variables that are not set leave the YAML value in place.
func ApplyEnv(ctx context.Context, cfg *Config, l envconfig.Lookuper) error {
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           cfg,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, l),
		DefaultOverwrite: true,
	})
	if err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Bridge
	if cfg.Bridge.BaseURL == "" {
		errs = append(errs, errors.New("bridge.base_url is required"))
	} else if u, err := url.Parse(cfg.Bridge.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("bridge.base_url: %w", err))
	} else {
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			errs = append(errs, fmt.Errorf("bridge.base_url scheme %q is invalid; valid values: http, https, ws, wss", u.Scheme))
		}
		if u.Host == "" {
			errs = append(errs, errors.New("bridge.base_url has no host"))
		}
	}
	if cfg.Bridge.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("bridge.read_limit %d must not be negative", cfg.Bridge.ReadLimit))
	}

	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"bridge.http_timeout", cfg.Bridge.HTTPTimeout},
		{"bridge.warmup_interval", cfg.Bridge.WarmupInterval},
		{"bridge.warmup_bound", cfg.Bridge.WarmupBound},
		{"audio.echo_window", cfg.Audio.EchoWindow},
		{"transcript.commit_window", cfg.Transcript.CommitWindow},
		{"memory.recent_window", cfg.Memory.RecentWindow},
		{"recognizer.circuit_breaker.reset_timeout", cfg.Recognizer.CircuitBreaker.ResetTimeout},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", d.name, d.v))
		}
	}

	// Audio
	if ch := cfg.Audio.PlaybackChannels; ch != 0 && ch != 1 && ch != 2 {
		errs = append(errs, fmt.Errorf("audio.playback_channels %d is invalid; valid values: 1, 2", ch))
	}
	if br := cfg.Audio.Bitrate; br != 0 && (br < 6000 || br > 510000) {
		errs = append(errs, fmt.Errorf("audio.bitrate %d is out of range [6000, 510000]", br))
	}
	if n := cfg.Audio.PacketsPerPage; n < 0 || n > 255 {
		errs = append(errs, fmt.Errorf("audio.packets_per_page %d is out of range [0, 255]", n))
	}

	// Recognizer
	if sr := cfg.Recognizer.SampleRate; sr != 0 && (sr < 8000 || sr > 48000) {
		errs = append(errs, fmt.Errorf("recognizer.sample_rate %d is out of range [8000, 48000]", sr))
	}
	if cb := cfg.Recognizer.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 {
		errs = append(errs, errors.New("recognizer.circuit_breaker counts must not be negative"))
	}
	seen := make(map[string]int, len(cfg.Recognizer.Providers))
	for i, p := range cfg.Recognizer.Providers {
		prefix := fmt.Sprintf("recognizer.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		key := p.Name + "|" + p.BaseURL + "|" + p.Model
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s duplicates recognizer.providers[%d]", prefix, prev))
		}
		seen[key] = i
		validateProviderName(p.Name)
	}

	// Memory
	if cfg.Memory.PostgresDSN == "" {
		slog.Debug("memory.postgres_dsn is empty; transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not in [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown recognizer name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
