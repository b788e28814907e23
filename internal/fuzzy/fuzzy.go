// Package fuzzy relocates further occurrences of an already-detected entity
// in the document, tolerant of incidental whitespace and punctuation noise
// ("Jean-Pierre Muster" vs "Jean Pierre  Muster").
//
// Pattern construction follows a strict safety contract:
//
//   - entities whose cleaned form is shorter than 3 or longer than 30
//     characters are rejected outright (no pattern is built);
//   - escaped literal characters are interleaved with a bounded, non-greedy
//     "0–2 non-alphanumeric characters" gap — never an unbounded or nested
//     quantifier — so matching stays linear;
//   - matching is case-insensitive and diacritic-tolerant;
//   - any construction failure silently rejects the entity;
//   - every search runs under a wall-clock budget, and a timeout means
//     "no match", never an error.
package fuzzy

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Length bounds on the cleaned entity. Below the minimum, single letters and
// initials would flood the document with false positives; above the maximum,
// pattern length stops paying for itself.
const (
	minEntityLen = 3
	maxEntityLen = 30
)

// gap is the bounded inter-character tolerance. Non-greedy so the shortest
// noise run wins; bounded so matching cost stays linear in document length.
const gap = `[^\pL\pN]{0,2}?`

// foldDiacritics strips combining marks: "é" → "e". Used to widen each
// literal into a two-rune class so accented and plain spellings cross-match.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Matcher is a compiled fuzzy pattern for one entity string.
type Matcher struct {
	re     *regexp.Regexp
	budget time.Duration
}

// Build constructs a Matcher for the given entity text, or ok=false if any
// safety rule rejects it. Build never panics and never returns an error:
// a rejected entity simply gets no fuzzy expansion.
func Build(entityText string, budget time.Duration) (*Matcher, bool) {
	literals := cleanLiterals(entityText)
	if len(literals) < minEntityLen || len(literals) > maxEntityLen {
		return nil, false
	}

	var b strings.Builder
	b.WriteString(`(?i)`)
	for i, r := range literals {
		if i > 0 {
			b.WriteString(gap)
		}
		b.WriteString(charClass(r))
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, false
	}
	return &Matcher{re: re, budget: budget}, true
}

// FindAll returns the byte spans of every fuzzy occurrence in doc, or nil if
// the search exceeds the wall-clock budget. The search itself is linear-time
// (RE2 semantics), so the budget is a belt-and-suspenders guard for very
// large documents; on timeout the search goroutine finishes in the
// background and its result is discarded.
func (m *Matcher) FindAll(doc string) [][]int {
	done := make(chan [][]int, 1)
	go func() {
		done <- m.re.FindAllStringIndex(doc, -1)
	}()

	timer := time.NewTimer(m.budget)
	defer timer.Stop()

	select {
	case spans := <-done:
		return spans
	case <-timer.C:
		return nil
	}
}

// Occurrences is the convenience form: build a matcher for entityText and
// return every fuzzy occurrence span in doc. A rejected entity or a timed-out
// search yields nil.
func Occurrences(entityText, doc string, budget time.Duration) [][]int {
	m, ok := Build(entityText, budget)
	if !ok {
		return nil
	}
	return m.FindAll(doc)
}

// cleanLiterals reduces the entity to the rune sequence worth matching:
// NFC-normalized letters and digits only. Whitespace and punctuation are
// dropped — the inter-character gap re-absorbs them at match time.
func cleanLiterals(s string) []rune {
	s = norm.NFC.String(s)
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

// charClass returns the pattern fragment for one literal rune: the escaped
// rune itself, widened to a class with its diacritic-folded form when they
// differ ("é" → [ée]).
func charClass(r rune) string {
	lit := regexp.QuoteMeta(string(r))
	folded, _, err := transform.String(foldDiacritics, string(r))
	if err != nil || folded == string(r) || folded == "" {
		return lit
	}
	return "[" + lit + regexp.QuoteMeta(folded) + "]"
}
