// Package phonetic matches misheard phrases against a fixed vocabulary using
// Double Metaphone codes and Jaro-Winkler similarity.
//
// A vocabulary word is a candidate when any Double Metaphone code of the
// input shares a code with it. Candidates must reach the phonetic threshold
// (default 0.70) on their best Jaro-Winkler score. When no candidate exists,
// a pure Jaro-Winkler pass with the stricter fuzzy threshold (default 0.85)
// runs over the whole vocabulary.
//
// Multi-word vocabulary entries ("Tower of Whispers") are compared word by
// word. A single entry may also match a phrase the recognizer split into
// several words ("elder nacks" for "Eldrinax").
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum score for a phonetic candidate.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum score for the pure string fallback.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

type entry struct {
	word   string
	lower  string
	tokens []string
	codes  map[string]struct{}

	firstCodes map[string]struct{}
}

// Matcher holds a prepared vocabulary. It is read-only after [New] and safe
// for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	entries  []entry
	maxWords int
}

// New prepares vocab for matching. Blank entries are ignored.
func New(vocab []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, w := range vocab {
		lower := strings.ToLower(strings.TrimSpace(w))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		m.entries = append(m.entries, entry{
			word:   strings.TrimSpace(w),
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),

			firstCodes: codesForTokens(tokens[:1]),
		})
		m.maxWords = max(m.maxWords, len(tokens))
	}
	return m
}

// MaxWords is the word count of the longest vocabulary entry, or 0 for an
// empty vocabulary.
func (m *Matcher) MaxWords() int { return m.maxWords }

// Len is the number of prepared vocabulary entries.
func (m *Matcher) Len() int { return len(m.entries) }

// Match returns the vocabulary entry closest to phrase. When ok is false,
// word is phrase unchanged and score is 0.
func (m *Matcher) Match(phrase string) (word string, score float64, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if len(m.entries) == 0 || lower == "" {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	codes := codesForTokens(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range m.entries {
		jw := similarity(tokens, lower, e)
		if codesOverlap(codes, e.codes) {
			if jw >= m.phoneticThreshold && (!bestPhonetic || jw > bestScore) {
				best, bestScore, bestPhonetic = e.word, jw, true
			}
			continue
		}
		if !bestPhonetic && jw >= m.fuzzyThreshold && jw > bestScore {
			best, bestScore = e.word, jw
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity scores input against e. Equal word counts compare both the
// full phrases and the words position by position and keep the lower score.
// An input split into more words than the entry (at most twice as many)
// compares the full and space-stripped phrases, provided its first word
// sounds like the entry's first word. Inputs with fewer words never match.
func similarity(inputTokens []string, inputFull string, e entry) float64 {
	switch n, k := len(inputTokens), len(e.tokens); {
	case n < k || n > 2*k:
		return 0
	case n == 1:
		return matchr.JaroWinkler(inputFull, e.lower, false)
	case n == k:
		var sum float64
		for i := range inputTokens {
			sum += matchr.JaroWinkler(inputTokens[i], e.tokens[i], false)
		}
		return min(sum/float64(n), matchr.JaroWinkler(inputFull, e.lower, false))
	default:
		if !codesOverlap(codesForTokens(inputTokens[:1]), e.firstCodes) {
			return 0
		}
		full := matchr.JaroWinkler(inputFull, e.lower, false)
		joined := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(e.tokens, ""), false)
		return max(full, joined)
	}
}
