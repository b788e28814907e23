// Package pipeline orchestrates multi-pass PII detection over one document.
//
// Detection runs in two independent stages — the rule-based pattern registry
// and the statistical recognizer — whose outputs are merged and then refined
// by an ordered chain of passes (high recall, format validation, context
// scoring). A later pass never sees a candidate a prior pass removed. The
// final candidate set goes through the overlap resolver, so no two spans in
// the result intersect.
//
// The recognizer stage is best-effort: if the service is unavailable the
// pipeline degrades to rule-only output and flags the result, rather than
// failing the operation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ch8ri0s/pii-anonymizer/internal/config"
	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
	"github.com/ch8ri0s/pii-anonymizer/internal/fuzzy"
	"github.com/ch8ri0s/pii-anonymizer/internal/logger"
	"github.com/ch8ri0s/pii-anonymizer/internal/recognizer"
	"github.com/ch8ri0s/pii-anonymizer/internal/rules"
)

// Recognizer is the statistical detection stage. *recognizer.Client
// implements it; tests substitute fakes.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]entity.Candidate, error)
	Model() string
}

// Pass is one refinement stage. It receives the raw text and the current
// candidate set and returns the refined set. Passes must not mutate the
// input slice.
type Pass interface {
	Name() string
	Run(ctx context.Context, text string, cands []entity.Candidate) ([]entity.Candidate, error)
}

// PassStats records what one pass did, for debuggability.
type PassStats struct {
	Name     string `json:"name"`
	In       int    `json:"in"`
	Out      int    `json:"out"`
	Added    int    `json:"added"`
	Removed  int    `json:"removed"`
	Modified int    `json:"modified"`
}

// Result is the outcome of one Detect call.
type Result struct {
	Candidates []entity.Candidate `json:"candidates"`
	Passes     []PassStats        `json:"passes"`

	// RecognizerSkipped is set when the ML stage could not run and the
	// result is rule-based only. SkipReason carries the cause (no PII).
	RecognizerSkipped bool   `json:"recognizerSkipped"`
	SkipReason        string `json:"skipReason,omitempty"`
}

// Pipeline is one configured detection pipeline. Pipelines share no mutable
// state: two instances with different registries or thresholds run fully
// independently.
type Pipeline struct {
	registry *rules.Registry
	rec      Recognizer // nil = rule-based only
	passes   []Pass
	matchers *fuzzy.Cache // compiled fuzzy patterns, shared across documents
	log      *logger.Logger
}

// matcherCacheSize bounds the number of compiled fuzzy patterns kept hot.
const matcherCacheSize = 1024

// New builds a pipeline with the standard pass chain: high recall, format
// validation, context scoring. rec may be nil to run rule-based only.
func New(registry *rules.Registry, rec Recognizer, cfg *config.Config, log *logger.Logger) *Pipeline {
	return &Pipeline{
		registry: registry,
		rec:      rec,
		matchers: fuzzy.NewCache(matcherCacheSize, time.Duration(cfg.FuzzyTimeoutMs)*time.Millisecond),
		log:      log,
		passes: []Pass{
			&highRecallPass{floor: cfg.HighRecallFloor},
			&formatValidationPass{},
			&contextScoringPass{window: cfg.ContextWindow, floor: cfg.HighRecallFloor, policies: defaultContextPolicies},
		},
	}
}

// AddPass appends a custom pass after the standard chain. Passes run
// strictly in registration order.
func (p *Pipeline) AddPass(pass Pass) { p.passes = append(p.passes, pass) }

// Detect runs the full pipeline over the text. Empty input yields an empty
// result. The context is honored between stages: a cancelled context aborts
// with ctx.Err() and no partial result.
func (p *Pipeline) Detect(ctx context.Context, text string) (*Result, error) {
	res := &Result{}
	if text == "" {
		return res, nil
	}

	// Stage 1: rule-based patterns (always runs, synchronous).
	cands := p.registry.Detect(text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 2: statistical recognizer, then fuzzy relocation of its hits.
	// The inference call is the only suspending step and is awaited here —
	// never overlapped with another pass on the same text.
	if p.rec != nil {
		mlCands, err := p.rec.Recognize(ctx, text)
		switch {
		case err == nil:
			cands = append(cands, p.locate(text, mlCands)...)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			// Degraded mode: rule-based output still stands.
			res.RecognizerSkipped = true
			res.SkipReason = fmt.Sprintf("recognizer stage skipped: %v", err)
			if p.log != nil {
				p.log.Warnf("recognize", "degrading to rule-only: %v", err)
			}
		}
	}

	// Refinement passes, strictly in order.
	for _, pass := range p.passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := pass.Run(ctx, text, cands)
		if err != nil {
			return nil, fmt.Errorf("pass %s: %w", pass.Name(), err)
		}
		stats := diffStats(pass.Name(), cands, out)
		res.Passes = append(res.Passes, stats)
		if p.log != nil {
			p.log.Debugf("pass_complete", "%s: in=%d out=%d added=%d removed=%d modified=%d",
				stats.Name, stats.In, stats.Out, stats.Added, stats.Removed, stats.Modified)
		}
		cands = out
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Candidates = Resolve(cands)
	return res, nil
}

// locate turns unlocated ML entities into located candidates by finding
// every fuzzy occurrence in the document. Entities the fuzzy builder rejects
// (too short, too long, unbuildable) are silently dropped — only their type
// is logged, never their text.
func (p *Pipeline) locate(text string, mlCands []entity.Candidate) []entity.Candidate {
	var out []entity.Candidate
	for _, c := range mlCands {
		if c.Located() {
			out = append(out, c)
			continue
		}
		spans := p.matchers.Occurrences(c.Text, text)
		if len(spans) == 0 {
			if p.log != nil {
				p.log.Debugf("fuzzy_skip", "no locatable occurrence for %s entity", c.Type)
			}
			continue
		}
		for _, s := range spans {
			out = append(out, entity.Candidate{
				Type:       c.Type,
				Text:       text[s[0]:s[1]],
				Start:      s[0],
				End:        s[1],
				Confidence: c.Confidence,
				Source:     entity.SourceML,
			})
		}
	}
	return out
}

// candKey identifies a candidate across passes for stat diffing.
type candKey struct {
	typ        entity.Type
	start, end int
	text       string
}

func keyOf(c entity.Candidate) candKey {
	return candKey{typ: c.Type, start: c.Start, end: c.End, text: c.Text}
}

// diffStats compares a pass's input and output candidate sets.
func diffStats(name string, in, out []entity.Candidate) PassStats {
	before := make(map[candKey]entity.Candidate, len(in))
	for _, c := range in {
		before[keyOf(c)] = c
	}
	stats := PassStats{Name: name, In: len(in), Out: len(out)}
	seen := make(map[candKey]bool, len(out))
	for _, c := range out {
		k := keyOf(c)
		seen[k] = true
		prev, ok := before[k]
		switch {
		case !ok:
			stats.Added++
		case prev.Confidence != c.Confidence || prev.Source != c.Source:
			stats.Modified++
		}
	}
	for k := range before {
		if !seen[k] {
			stats.Removed++
		}
	}
	return stats
}

// Interface conformance check for the production recognizer.
var _ Recognizer = (*recognizer.Client)(nil)
