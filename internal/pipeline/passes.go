package pipeline

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
	"github.com/ch8ri0s/pii-anonymizer/internal/validate"
)

// --- high-recall pass ----------------------------------------------------

// highRecallPass casts the wide net: it unions the rule and recognizer
// outputs, folding duplicates confirmed by both detectors into a single
// BOTH-sourced candidate, and drops only what falls below the low
// high-recall confidence floor.
type highRecallPass struct {
	floor float64
}

func (p *highRecallPass) Name() string { return "high-recall" }

func (p *highRecallPass) Run(_ context.Context, _ string, cands []entity.Candidate) ([]entity.Candidate, error) {
	merged := make(map[candKey]entity.Candidate, len(cands))
	order := make([]candKey, 0, len(cands))
	for _, c := range cands {
		if c.Confidence < p.floor {
			continue
		}
		k := keyOf(c)
		prev, ok := merged[k]
		if !ok {
			merged[k] = c
			order = append(order, k)
			continue
		}
		// Same span, same type, found independently: keep one candidate
		// with the stronger confidence and mark it dual-confirmed.
		if c.Confidence > prev.Confidence {
			prev.Confidence = c.Confidence
		}
		if prev.Source != c.Source {
			prev.Source = entity.SourceBoth
		}
		merged[k] = prev
	}
	out := make([]entity.Candidate, 0, len(merged))
	for _, k := range order {
		out = append(out, merged[k])
	}
	return out, nil
}

// --- format-validation pass ----------------------------------------------

// typeValidators re-applies the checksum library per type. Masked values
// (placeholder runs instead of digits) have nothing left to checksum and
// are exempt.
var typeValidators = map[entity.Type]func(string) bool{
	entity.BankAccount: validate.IBAN,
	entity.NationalID:  validate.NationalID,
	entity.TaxID:       validate.TaxID,
	entity.CreditCard:  validate.CreditCard,
	entity.Phone:       validate.Phone,
}

// formatValidationPass drops candidates of structured types whose text fails
// its checksum or sanity validator. One failing candidate never affects the
// rest of the set.
type formatValidationPass struct{}

func (p *formatValidationPass) Name() string { return "format-validation" }

func (p *formatValidationPass) Run(_ context.Context, _ string, cands []entity.Candidate) ([]entity.Candidate, error) {
	out := make([]entity.Candidate, 0, len(cands))
	for _, c := range cands {
		if v, ok := typeValidators[c.Type]; ok && !isMasked(c.Text) && !v(c.Text) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func isMasked(s string) bool { return strings.ContainsAny(s, "X*") }

// --- context-scoring pass ------------------------------------------------

// contextPolicy is one tunable row of the context heuristics table:
// keywords near a candidate of the given type promote or demote it.
// Matching is whole-word and case-insensitive over both sides of the
// candidate's window.
type contextPolicy struct {
	typ     entity.Type
	promote []string
	demote  []string
}

// defaultContextPolicies is the hand-tuned multilingual policy table
// (French, German, Italian, English). It is data, not logic: jurisdictional
// deployments adjust rows without touching the pass.
var defaultContextPolicies = []contextPolicy{
	{
		typ:     entity.Phone,
		promote: []string{"tel", "tél", "telefon", "telefono", "phone", "mobile", "natel", "fax", "portable", "gsm"},
		demote:  []string{"art", "ref", "réf", "sku", "serial", "artikel", "article", "item", "lot"},
	},
	{
		typ:     entity.NationalID,
		promote: []string{"avs", "ahv", "assurance", "versicherung"},
	},
	{
		typ:     entity.CreditCard,
		promote: []string{"card", "carte", "karte", "visa", "mastercard"},
		demote:  []string{"ref", "sku", "serial", "artikel"},
	},
	{
		typ:     entity.DocumentID,
		promote: []string{"passeport", "passport", "permis", "permit", "ausweis"},
	},
	{
		typ:    entity.Date,
		demote: []string{"version", "rev", "révision"},
	},
}

// productPrefix matches a product-code prefix immediately before a match,
// e.g. the "ART-" in "ART-021-627-4137". Anchored to the window end so only
// directly adjacent prefixes count.
var productPrefix = regexp.MustCompile(`(?i)[a-z]{2,6}[-./#]$`)

const (
	demoteFactor = 0.2
	promoteBoost = 0.2
	maxPromoted  = 0.99
)

// contextScoringPass inspects a fixed window around each candidate for
// corroborating or contradicting signals and rescores it. Candidates demoted
// below the floor are dropped.
type contextScoringPass struct {
	window   int
	floor    float64
	policies []contextPolicy
}

func (p *contextScoringPass) Name() string { return "context-scoring" }

func (p *contextScoringPass) Run(_ context.Context, text string, cands []entity.Candidate) ([]entity.Candidate, error) {
	out := make([]entity.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Located() {
			c = p.score(text, c)
			if c.Confidence < p.floor {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *contextScoringPass) score(text string, c entity.Candidate) entity.Candidate {
	before := windowBefore(text, c.Start, p.window)
	after := windowAfter(text, c.End, p.window)
	words := windowWords(before + " " + after)

	// An adjacent product-code prefix contradicts number-shaped types
	// regardless of keyword tables.
	if c.Type == entity.Phone || c.Type == entity.CreditCard || c.Type == entity.DocumentID {
		if productPrefix.MatchString(before) {
			c.Confidence *= demoteFactor
			return c
		}
	}

	for _, pol := range p.policies {
		if pol.typ != c.Type {
			continue
		}
		if containsAnyWord(words, pol.demote) {
			c.Confidence *= demoteFactor
		} else if containsAnyWord(words, pol.promote) {
			c.Confidence += promoteBoost
			if c.Confidence > maxPromoted {
				c.Confidence = maxPromoted
			}
		}
		break
	}
	return c
}

// windowBefore and windowAfter clamp the cut to a rune boundary so a
// multi-byte keyword at the window edge is dropped whole instead of leaking
// a partial rune into the word split.

func windowBefore(text string, start, window int) string {
	lo := start - window
	if lo < 0 {
		lo = 0
	}
	for lo < start && !utf8.RuneStart(text[lo]) {
		lo++
	}
	return text[lo:start]
}

func windowAfter(text string, end, window int) string {
	hi := end + window
	if hi > len(text) {
		hi = len(text)
	}
	for hi > end && hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi--
	}
	return text[end:hi]
}

// windowWords lowercases the window and splits it into letter runs, so
// keyword checks are whole-word ("art" never fires inside "partner").
func windowWords(s string) map[string]bool {
	words := map[string]bool{}
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words[b.String()] = true
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		if ('a' <= r && r <= 'z') || r > 127 {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return words
}

func containsAnyWord(words map[string]bool, keywords []string) bool {
	for _, k := range keywords {
		if words[k] {
			return true
		}
	}
	return false
}
