package opus

import (
	"context"
	"errors"
	"log/slog"
)

// PipelineConfig holds the tunable codec parameters.
type PipelineConfig struct {
	// Bitrate of the capture stream in bits per second. Zero selects [DefaultBitrate].
	Bitrate int

	// PacketsPerPage is the Ogg batching factor. Zero selects [DefaultPacketsPerPage].
	PacketsPerPage int

	// PlaybackChannels is the decoded channel count. Zero selects mono.
	PlaybackChannels int
}

// Pipeline owns the single encoder/decoder pair of a session. If either
// codec fails to initialise the pipeline is text-only: both codecs are nil
// and the session carries on without audio.
type Pipeline struct {
	enc *Encoder
	dec *Decoder
	err error
}

// NewPipeline creates both codec workers. It never fails; check
// [Pipeline.TextOnly] and [Pipeline.Err].
func NewPipeline(ctx context.Context, cfg PipelineConfig) *Pipeline {
	var encOpts []EncoderOption
	if cfg.Bitrate > 0 {
		encOpts = append(encOpts, WithBitrate(cfg.Bitrate))
	}
	if cfg.PacketsPerPage > 0 {
		encOpts = append(encOpts, WithPacketsPerPage(cfg.PacketsPerPage))
	}
	var decOpts []DecoderOption
	if cfg.PlaybackChannels > 0 {
		decOpts = append(decOpts, WithChannels(cfg.PlaybackChannels))
	}

	enc, encErr := NewEncoder(ctx, encOpts...)
	dec, decErr := NewDecoder(ctx, decOpts...)
	if err := errors.Join(encErr, decErr); err != nil {
		slog.Warn("opus: codec initialisation failed, continuing text-only", "err", err)
		if enc != nil {
			enc.Close()
		}
		if dec != nil {
			dec.Close()
		}
		return &Pipeline{err: err}
	}
	return &Pipeline{enc: enc, dec: dec}
}

// TextOnly reports whether audio is unavailable.
func (p *Pipeline) TextOnly() bool { return p.enc == nil || p.dec == nil }

// Err returns the initialisation error, if any.
func (p *Pipeline) Err() error { return p.err }

// Encoder returns the capture codec, or nil when text-only.
func (p *Pipeline) Encoder() *Encoder { return p.enc }

// Decoder returns the playback codec, or nil when text-only.
func (p *Pipeline) Decoder() *Decoder { return p.dec }

// Start begins decoder warm-up. It is a no-op when text-only.
func (p *Pipeline) Start() {
	if p.dec != nil {
		p.dec.Start()
	}
}

// Close stops both codecs. In-flight work drains silently.
func (p *Pipeline) Close() error {
	if p.enc != nil {
		p.enc.Close()
	}
	if p.dec != nil {
		p.dec.Close()
	}
	return nil
}
