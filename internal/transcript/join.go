// Package transcript keeps the two-sided text record of a voice session.
//
// Remote text arrives as streamed tokens and is joined into the running
// assistant response with [JoinToken]. Local speech arrives as finalized
// recognizer fragments that the [Bridge] coalesces behind a debounce before
// committing them as a user turn. Committed turns can be persisted through a
// [memory.SessionStore].
package transcript

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// closingPunct never gets a space in front of it.
const closingPunct = ".,!?;:'\")"

// JoinToken appends token to buf, inserting one space unless buf is empty,
// buf already ends in whitespace, or token starts with whitespace or closing
// punctuation.
func JoinToken(buf, token string) string {
	if token == "" {
		return buf
	}
	if needsSpace(buf, token) {
		return buf + " " + token
	}
	return buf + token
}

func needsSpace(buf, token string) bool {
	if buf == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(buf)
	if unicode.IsSpace(last) {
		return false
	}
	first, _ := utf8.DecodeRuneInString(token)
	if unicode.IsSpace(first) || strings.ContainsRune(closingPunct, first) {
		return false
	}
	return true
}

// Buffer is an append-only text buffer joined with [JoinToken]. Its length
// never decreases. Buffer is safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	text string
}

// Append joins token onto the buffer and returns the new length.
func (b *Buffer) Append(token string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = JoinToken(b.text, token)
	return len(b.text)
}

// String returns the whole buffer.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.text)
}

// Since returns the text appended after offset, without leading whitespace.
func (b *Buffer) Since(offset int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset >= len(b.text) {
		return ""
	}
	return strings.TrimLeftFunc(b.text[max(offset, 0):], unicode.IsSpace)
}
