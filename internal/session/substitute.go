package session

import (
	"sort"
	"strings"
)

// Substitute applies the currently approved subset of entities to the
// original, unmodified text and returns the redacted result. Each approved
// entity's every literal occurrence is replaced with its pseudonym or edited
// override; entities whose text no longer appears verbatim are skipped.
// Substitution is repeatable: review changes followed by another Substitute
// always start from the pristine source text.
func (s *Session) Substitute() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIngested {
		return s.text
	}
	_, redacted := s.substitutionsLocked()
	return redacted
}

// replaceAll substitutes every literal occurrence of old in text, reporting
// whether anything changed.
func replaceAll(text, old, new string) (string, bool) {
	if old == "" || !strings.Contains(text, old) {
		return text, false
	}
	return strings.ReplaceAll(text, old, new), true
}

// Deanonymize reverses a substitution using an exported mapping artifact:
// every pseudonym occurrence is replaced back with its original text.
// Longer pseudonyms are restored first so "PER_12" is never clobbered by
// "PER_1".
func Deanonymize(text string, a *Artifact) string {
	if a == nil || len(a.Entities) == 0 {
		return text
	}
	type pair struct{ pseudonym, original string }
	pairs := make([]pair, 0, len(a.Entities))
	for original, pseudonym := range a.Entities {
		pairs = append(pairs, pair{pseudonym, original})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if len(pairs[i].pseudonym) != len(pairs[j].pseudonym) {
			return len(pairs[i].pseudonym) > len(pairs[j].pseudonym)
		}
		return pairs[i].pseudonym < pairs[j].pseudonym
	})
	for _, p := range pairs {
		text = strings.ReplaceAll(text, p.pseudonym, p.original)
	}
	return text
}
