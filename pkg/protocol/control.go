package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Server-to-client JSON message types.
const (
	TypeText         = "text"
	TypeMASEvent     = "mas_event"
	TypeInjectionAck = "injection_ack"
	TypeError        = "error"
)

// Client-to-server JSON message types.
const (
	TypeUserTranscript = "user_transcript"
	TypeUserSpeech     = "user_speech"
	TypeInject         = "inject"
)

// ServerMessage is one of [TextMessage], [MASEvent], [InjectionAck],
// [ErrorMessage] or [UnknownMessage].
type ServerMessage interface {
	// MessageType returns the JSON "type" discriminator.
	MessageType() string
}

// TextMessage carries a token of the remote model's spoken text.
type TextMessage struct {
	Text string `json:"text"`
}

// MASEvent is an out-of-band orchestration event. Event is kept verbatim.
type MASEvent struct {
	Event json.RawMessage `json:"event"`
}

// InjectionAck confirms that an [Injection] reached the remote conversation.
type InjectionAck struct {
	InjectionID string `json:"injection_id"`
}

// ErrorMessage reports a bridge-side failure.
type ErrorMessage struct {
	Message string `json:"message"`
}

// UnknownMessage is any message whose type is not recognised.
type UnknownMessage struct {
	Type string
	Raw  json.RawMessage
}

func (TextMessage) MessageType() string      { return TypeText }
func (MASEvent) MessageType() string         { return TypeMASEvent }
func (InjectionAck) MessageType() string     { return TypeInjectionAck }
func (ErrorMessage) MessageType() string     { return TypeError }
func (m UnknownMessage) MessageType() string { return m.Type }

// ErrNoType is returned for JSON objects without a "type" field.
var ErrNoType = errors.New("protocol: message has no type")

type envelope struct {
	Type string `json:"type"`
}

// ParseServerMessage decodes a JSON text message from the bridge. Unknown
// types are returned as [UnknownMessage] rather than an error so the caller
// can log and ignore them.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrNoType
	}

	switch env.Type {
	case TypeText:
		var m TextMessage
		return decodeInto(data, &m)
	case TypeMASEvent:
		var m MASEvent
		return decodeInto(data, &m)
	case TypeInjectionAck:
		var m InjectionAck
		return decodeInto(data, &m)
	case TypeError:
		var m ErrorMessage
		return decodeInto(data, &m)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownMessage{Type: env.Type, Raw: raw}, nil
	}
}

func decodeInto[T ServerMessage](data []byte, m *T) (ServerMessage, error) {
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", (*m).MessageType(), err)
	}
	return *m, nil
}

// ── Client messages ──────────────────────────────────────────────────────────

// UserTranscript is a committed user turn recognised locally.
type UserTranscript struct {
	Text string
}

// UserSpeech is an interim notice that the user is speaking.
type UserSpeech struct {
	Text string
}

// Injection pushes out-of-band text into the remote conversation. The bridge
// answers with an [InjectionAck] carrying the same ID.
type Injection struct {
	InjectionID string
	Text        string
}

// NewInjection returns an Injection with a fresh random ID.
func NewInjection(text string) Injection {
	return Injection{InjectionID: uuid.NewString(), Text: text}
}

type clientWire struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	InjectionID string `json:"injection_id,omitempty"`
}

// MarshalClient encodes one of the client message types as JSON.
func MarshalClient(m any) ([]byte, error) {
	var w clientWire
	switch v := m.(type) {
	case UserTranscript:
		w = clientWire{Type: TypeUserTranscript, Text: v.Text}
	case UserSpeech:
		w = clientWire{Type: TypeUserSpeech, Text: v.Text}
	case Injection:
		if v.InjectionID == "" {
			return nil, errors.New("protocol: injection without id")
		}
		w = clientWire{Type: TypeInject, Text: v.Text, InjectionID: v.InjectionID}
	default:
		return nil, fmt.Errorf("protocol: unsupported client message %T", m)
	}
	return json.Marshal(w)
}
