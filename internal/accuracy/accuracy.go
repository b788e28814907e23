// Package accuracy compares a detected candidate set (pre- or post-review)
// against externally supplied ground-truth annotations and computes
// per-type precision and recall.
//
// The comparison is by (type, exact text): each annotation can satisfy at
// most one candidate. The resulting report is a plain JSON-serialisable
// snapshot consumed by the out-of-scope accuracy dashboard.
package accuracy

import (
	"math"

	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
)

// Annotation is one ground-truth entity supplied by the caller.
type Annotation struct {
	Type entity.Type `json:"type"`
	Text string      `json:"text"`
}

// TypeReport holds the confusion counts and derived rates for one type.
type TypeReport struct {
	TruePositives  int     `json:"truePositives"`
	FalsePositives int     `json:"falsePositives"`
	FalseNegatives int     `json:"falseNegatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Report is the full evaluation snapshot.
type Report struct {
	PerType map[string]TypeReport `json:"perType"`
	Overall TypeReport            `json:"overall"` // micro-averaged
}

// matchKey pairs a type with an exact entity text.
type matchKey struct {
	typ  entity.Type
	text string
}

// Evaluate scores the candidate set against the annotations.
// Duplicate candidates with identical (type, text) count once — the engine
// deduplicates occurrences into one mapping entry, so accuracy is measured
// per distinct entity, not per occurrence.
func Evaluate(cands []entity.Candidate, truth []Annotation) Report {
	detected := map[matchKey]bool{}
	for _, c := range cands {
		detected[matchKey{c.Type, c.Text}] = true
	}
	expected := map[matchKey]bool{}
	for _, a := range truth {
		expected[matchKey{a.Type, a.Text}] = true
	}

	counts := map[entity.Type]*TypeReport{}
	get := func(t entity.Type) *TypeReport {
		if r, ok := counts[t]; ok {
			return r
		}
		r := &TypeReport{}
		counts[t] = r
		return r
	}

	for k := range detected {
		if expected[k] {
			get(k.typ).TruePositives++
		} else {
			get(k.typ).FalsePositives++
		}
	}
	for k := range expected {
		if !detected[k] {
			get(k.typ).FalseNegatives++
		}
	}

	report := Report{PerType: make(map[string]TypeReport, len(counts))}
	var overall TypeReport
	for t, r := range counts {
		r.derive()
		report.PerType[t.String()] = *r
		overall.TruePositives += r.TruePositives
		overall.FalsePositives += r.FalsePositives
		overall.FalseNegatives += r.FalseNegatives
	}
	overall.derive()
	report.Overall = overall
	return report
}

// derive fills in precision, recall and F1 from the confusion counts.
func (r *TypeReport) derive() {
	if d := r.TruePositives + r.FalsePositives; d > 0 {
		r.Precision = round3(float64(r.TruePositives) / float64(d))
	}
	if d := r.TruePositives + r.FalseNegatives; d > 0 {
		r.Recall = round3(float64(r.TruePositives) / float64(d))
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = round3(2 * r.Precision * r.Recall / (r.Precision + r.Recall))
	}
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
