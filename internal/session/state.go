// Package session runs one voice conversation with the bridge: it bootstraps
// the session over HTTP, holds the WebSocket, dispatches every inbound frame
// to its handler and owns the codec pipeline, the echo coordinator, the local
// recognizer and the transcript bridge for as long as the session lives.
//
// A [Session] is single-use. Once it reaches [StateClosed] or [StateFailed] a
// new one must be created; there is no reconnect.
package session

// State is the lifecycle position of a [Session].
type State int32

const (
	// StateDisconnected is the state of a new session.
	StateDisconnected State = iota

	// StateConnecting covers bootstrap and the WebSocket dial.
	StateConnecting

	// StateAwaitingHandshake is an open transport waiting for the 0x00 frame.
	StateAwaitingHandshake

	// StateActive is entered on the handshake; audio flows both ways.
	StateActive

	// StateClosed is a session that ended after the handshake or was stopped.
	StateClosed

	// StateFailed is a session whose bootstrap or dial failed, or whose
	// transport closed before the handshake was ever reached.
	StateFailed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Done reports whether s is terminal.
func (s State) Done() bool { return s == StateClosed || s == StateFailed }

// Open reports whether the transport is up in s.
func (s State) Open() bool { return s == StateAwaitingHandshake || s == StateActive }
