package pipeline

import (
	"sort"

	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
)

// Resolve is the overlap resolver: it returns a candidate set in which no
// two spans intersect.
//
// Candidates are ordered by start offset, ties broken by the fixed
// descending type-priority table. The set is then scanned left to right;
// whenever a candidate overlaps the last kept one, the lower-priority
// candidate is discarded — and on a priority tie, the shorter one.
// Unlocated candidates cannot take part in span arithmetic and are dropped.
func Resolve(cands []entity.Candidate) []entity.Candidate {
	located := make([]entity.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Located() {
			located = append(located, c)
		}
	}
	sort.SliceStable(located, func(i, j int) bool {
		if located[i].Start != located[j].Start {
			return located[i].Start < located[j].Start
		}
		return located[i].Type.Priority() > located[j].Type.Priority()
	})

	var kept []entity.Candidate
	for _, c := range located {
		if len(kept) == 0 {
			kept = append(kept, c)
			continue
		}
		last := &kept[len(kept)-1]
		if !c.Overlaps(*last) {
			kept = append(kept, c)
			continue
		}
		// Conflict: higher priority wins, longer span breaks a tie.
		if c.Type.Priority() > last.Type.Priority() ||
			(c.Type.Priority() == last.Type.Priority() && c.Len() > last.Len()) {
			*last = c
		}
	}
	return kept
}
