package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/voicelink/internal/transcript/phonetic"
)

// Correction is one vocabulary substitution made by a [Corrector].
type Correction struct {
	// Original is the recognised phrase without surrounding punctuation.
	Original string

	// Corrected is the vocabulary entry that replaced it.
	Corrected string

	// Confidence is the matcher score in [0, 1].
	Confidence float64
}

// Corrector rewrites recognizer output towards a configured vocabulary. At
// each position it tries the widest word window first so that multi-word
// entries win over single-word partial matches. Windows reach twice the
// longest entry to catch entries the recognizer split into several words. Punctuation around a
// replaced window is kept.
//
// A nil *Corrector returns its input unchanged.
type Corrector struct {
	matcher *phonetic.Matcher
}

// NewCorrector returns a Corrector for vocab. It returns nil when vocab has
// no usable entries.
func NewCorrector(vocab []string, opts ...phonetic.Option) *Corrector {
	m := phonetic.New(vocab, opts...)
	if m.Len() == 0 {
		return nil
	}
	return &Corrector{matcher: m}
}

// Correct returns the corrected text and the substitutions made. Windows
// whose match is identical to the input are not reported.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	parts := make([]token, len(tokens))
	for i, t := range tokens {
		parts[i] = splitToken(t)
	}

	var (
		out         []string
		corrections []Correction
		changed     bool
	)
	for i := 0; i < len(parts); {
		n, word, score := c.longestMatch(parts[i:])
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		phrase := joinCores(parts[i : i+n])
		if word != phrase {
			changed = true
			corrections = append(corrections, Correction{Original: phrase, Corrected: word, Confidence: score})
		}
		out = append(out, parts[i].prefix+word+parts[i+n-1].suffix)
		i += n
	}
	if !changed {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

func (c *Corrector) longestMatch(parts []token) (n int, word string, score float64) {
	limit := min(2*c.matcher.MaxWords(), len(parts))
	for n := limit; n >= 1; n-- {
		if !contiguous(parts[:n]) {
			continue
		}
		if w, s, ok := c.matcher.Match(joinCores(parts[:n])); ok {
			return n, w, s
		}
	}
	return 0, "", 0
}

type token struct {
	prefix, core, suffix string
}

func splitToken(s string) token {
	core := strings.TrimLeftFunc(s, unicode.IsPunct)
	prefix := s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
	return token{prefix: prefix, core: trimmed, suffix: core[len(trimmed):]}
}

// contiguous reports whether a window reads as one phrase: no punctuation
// between its words and no punctuation-only tokens.
func contiguous(parts []token) bool {
	for i, p := range parts {
		if p.core == "" {
			return false
		}
		if i > 0 && p.prefix != "" {
			return false
		}
		if i < len(parts)-1 && p.suffix != "" {
			return false
		}
	}
	return true
}

func joinCores(parts []token) string {
	cores := make([]string, len(parts))
	for i, p := range parts {
		cores[i] = p.core
	}
	return strings.Join(cores, " ")
}
