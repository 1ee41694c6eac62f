// Package stt defines the streaming speech recognition interface used for
// the local side of a voice session.
//
// A [Provider] opens one [SessionHandle] per listening period. The
// recognizer closes the handle whenever remote playback pauses recognition
// and opens a fresh one when it resumes, so implementations must make
// StartStream cheap and Close prompt.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional operations a provider lacks.
var ErrNotSupported = errors.New("stt: operation not supported")

// StreamConfig describes the audio format and hints for a new stream.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels. Most providers want 1.
	Channels int

	// Language is a BCP-47 tag such as "en-US". Empty lets the provider
	// detect the language where supported.
	Language string

	// Keywords boost recognition of uncommon vocabulary.
	Keywords []KeywordBoost
}

// SessionHandle is an open recognition stream. All methods are safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio delivers 16-bit little-endian PCM matching the stream
	// config. It returns an error after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim guesses. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed results. Closed when the session ends.
	Finals() <-chan Transcript

	// SetKeywords replaces the boost list mid-stream, or returns
	// [ErrNotSupported].
	SetKeywords(keywords []KeywordBoost) error

	// Close flushes pending audio and ends the session. Partials and Finals
	// are closed once it returns. Repeated calls return nil.
	Close() error
}

// Provider opens recognition streams. Implementations must be safe for
// concurrent use.
type Provider interface {
	// StartStream opens a stream ready to accept audio. The caller must
	// Close the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
