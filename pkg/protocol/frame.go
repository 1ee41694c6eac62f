// Package protocol implements the wire format spoken between a voicelink
// client and the voice bridge.
//
// Binary WebSocket messages carry a single leading tag byte followed by a
// payload whose meaning is fully determined by the tag:
//
//	0x00               handshake complete (server only, exactly one byte)
//	0x01 || payload    Ogg/Opus audio pages (same tag in both directions)
//	0x03 || utf8-text  control acknowledgement
//
// Text WebSocket messages carry JSON control messages, see [ParseServerMessage].
package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Tag is the first byte of every binary message.
type Tag byte

const (
	// TagHandshake is sent once by the bridge when the remote model is ready
	// for duplex audio. The client never sends it.
	TagHandshake Tag = 0x00

	// TagAudio prefixes undecoded Ogg/Opus bytes.
	TagAudio Tag = 0x01

	// TagControl prefixes a UTF-8 control acknowledgement string.
	TagControl Tag = 0x03
)

// String returns a short name for the tag.
func (t Tag) String() string {
	switch t {
	case TagHandshake:
		return "handshake"
	case TagAudio:
		return "audio"
	case TagControl:
		return "control"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Kind classifies a raw binary message.
type Kind int

const (
	// KindMalformed is an empty message or a handshake tag carrying a payload.
	KindMalformed Kind = iota

	// KindHandshake is the exact one-byte message 0x00.
	KindHandshake

	// KindAudio is a tag-1 message.
	KindAudio

	// KindControl is a tag-3 message.
	KindControl

	// KindUnknown is any other tag.
	KindUnknown
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindHandshake:
		return "handshake"
	case KindAudio:
		return "audio"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

var (
	// ErrEmptyMessage is returned by [Decode] for a zero-length message.
	ErrEmptyMessage = errors.New("protocol: empty message")

	// ErrClientHandshake is returned when a client tries to send the
	// server-only handshake tag.
	ErrClientHandshake = errors.New("protocol: handshake tag is server-initiated only")

	// ErrInvalidUTF8 is returned by [Control] when the payload is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("protocol: control payload is not valid utf-8")
)

// Frame is a decoded binary message.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// Decode splits b into its tag and payload. The payload aliases b.
// Any tag value is accepted; use [Classify] to decide what to do with it.
func Decode(b []byte) (Frame, error) {
	if len(b) == 0 {
		return Frame{}, ErrEmptyMessage
	}
	return Frame{Tag: Tag(b[0]), Payload: b[1:]}, nil
}

// Encode returns the wire form of f: the tag byte followed by the payload.
func Encode(f Frame) []byte {
	out := make([]byte, 1+len(f.Payload))
	out[0] = byte(f.Tag)
	copy(out[1:], f.Payload)
	return out
}

// EncodeAudio prefixes an Ogg/Opus chunk with [TagAudio].
func EncodeAudio(payload []byte) []byte {
	return Encode(Frame{Tag: TagAudio, Payload: payload})
}

// EncodeClient is the client-side send path. It refuses [TagHandshake].
func EncodeClient(f Frame) ([]byte, error) {
	if f.Tag == TagHandshake {
		return nil, ErrClientHandshake
	}
	return Encode(f), nil
}

// Classify reports how a raw binary message must be handled. The result does
// not depend on any session state: a lone 0x00 is always a handshake.
func Classify(b []byte) Kind {
	if len(b) == 0 {
		return KindMalformed
	}
	switch Tag(b[0]) {
	case TagHandshake:
		if len(b) != 1 {
			return KindMalformed
		}
		return KindHandshake
	case TagAudio:
		return KindAudio
	case TagControl:
		return KindControl
	default:
		return KindUnknown
	}
}

// Control returns the payload of a control frame as a string.
func Control(f Frame) (string, error) {
	if !utf8.Valid(f.Payload) {
		return "", ErrInvalidUTF8
	}
	return string(f.Payload), nil
}
