// Package audio defines the PCM frame type and the capture and playback
// endpoints of a voicelink session.
//
// The two endpoint abstractions are:
//
//   - [Source] delivers captured frames (a microphone, a WAV file, a test script).
//   - [Sink] accepts frames for realtime playback.
//
// Implementations live in sub-packages (audio/wav, audio/mock).
package audio

import "errors"

// ErrPermissionDenied is returned (possibly wrapped) when a capture source
// cannot be opened because access was refused. Sessions surface it as a
// distinct status and continue in text-only mode.
var ErrPermissionDenied = errors.New("audio: capture permission denied")

// Source is a capture endpoint.
//
// Frames is closed when the source is exhausted or closed. Implementations
// must be safe for concurrent use.
type Source interface {
	// Frames returns the channel of captured frames.
	Frames() <-chan AudioFrame

	// Format reports the PCM format of the captured frames.
	Format() Format

	// Close stops capture and closes the Frames channel. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Sink is a playback endpoint.
//
// Write must not block for longer than the duration of the frame it is given.
type Sink interface {
	// Write queues one frame for playback.
	Write(frame AudioFrame) error

	// Close flushes and releases the sink. Calling Close more than once is safe.
	Close() error
}

// FormatRequester is implemented by sinks that need a specific PCM format.
// Frames are converted before [Sink.Write] when the decoder output differs.
type FormatRequester interface {
	RequestedFormat() Format
}
