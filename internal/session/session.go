// Package session scopes one document-processing operation: pseudonym
// numbering, review decisions, selective substitution, and the final mapping
// artifact all live inside a Session and nowhere else.
//
// Sessions share no mutable state. Independent documents processed through
// independent sessions never see each other's counters or mappings, so they
// can run concurrently without coordination.
//
// Lifecycle: INGESTED → DETECTED → REVIEWED (repeatable) → FINALIZED.
// FINALIZED is terminal: every mutation afterwards returns ErrFinalized, and
// the mapping artifact is exported exactly once, at finalization.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
)

// State is the lifecycle position of a session.
type State int

// Session lifecycle states, in order.
const (
	StateIngested State = iota
	StateDetected
	StateReviewed
	StateFinalized
)

// String returns the state's display name.
func (s State) String() string {
	switch s {
	case StateIngested:
		return "INGESTED"
	case StateDetected:
		return "DETECTED"
	case StateReviewed:
		return "REVIEWED"
	case StateFinalized:
		return "FINALIZED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sentinel errors for review and lifecycle violations.
var (
	ErrFinalized   = errors.New("session already finalized")
	ErrNoCandidate = errors.New("no candidate with that id")
	ErrNotDetected = errors.New("detection has not run yet")
)

// Decision is the review status of one candidate.
type Decision string

// Review decisions. Every candidate starts approved.
const (
	Approved Decision = "approved"
	Rejected Decision = "rejected"
	Edited   Decision = "edited"
)

// Item is the review view of one candidate: what was found, what it will be
// replaced with, and whether a human should look at it.
type Item struct {
	ID          int              `json:"id"`
	Candidate   entity.Candidate `json:"candidate"`
	Replacement string           `json:"replacement"`
	Status      Decision         `json:"status"`
	NeedsReview bool             `json:"needsReview"`
}

// Artifact is the exported recovery mapping. It contains the very PII
// removed from the redacted text; protecting it is the caller's concern.
type Artifact struct {
	Version          string            `json:"version"`
	Timestamp        time.Time         `json:"timestamp"`
	ModelIdentifier  string            `json:"modelIdentifier"`
	DetectionMethods []string          `json:"detectionMethods"`
	Entities         map[string]string `json:"entities"` // original → pseudonym
}

// Session holds all per-document state. Safe for concurrent use; two
// sessions never share anything mutable.
type Session struct {
	mu sync.Mutex

	id    string
	state State
	text  string // original text, never mutated

	items    []Item
	counters map[entity.Type]int
	mapping  map[string]string // original → pseudonym, insertion implies approval

	needsReviewBelow float64
	modelID          string
	methods          []string
}

// New creates a session over the original document text.
func New(text string, needsReviewBelow float64) *Session {
	return &Session{
		id:               uuid.NewString(),
		state:            StateIngested,
		text:             text,
		counters:         make(map[entity.Type]int),
		mapping:          make(map[string]string),
		needsReviewBelow: needsReviewBelow,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the original, unmodified document text.
func (s *Session) Text() string { return s.text }

// SetDetection installs the pipeline's deduplicated candidate set. Every
// candidate becomes an approved review item with a pseudonym assigned, in
// span order, so repeated detection of identical input yields identical
// numbering. modelID and methods feed the artifact metadata.
func (s *Session) SetDetection(cands []entity.Candidate, modelID string, methods []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalized {
		return ErrFinalized
	}

	s.items = s.items[:0]
	for i, c := range cands {
		s.items = append(s.items, Item{
			ID:          i,
			Candidate:   c,
			Replacement: s.pseudonymLocked(c.Text, c.Type),
			Status:      Approved,
			NeedsReview: c.Confidence < s.needsReviewBelow,
		})
	}
	s.modelID = modelID
	s.methods = methods
	s.state = StateDetected
	return nil
}

// Items returns a snapshot of the review items.
func (s *Session) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Approve re-includes a candidate in substitution.
func (s *Session) Approve(id int) error { return s.setStatus(id, Approved, "") }

// Reject excludes a candidate from substitution. Its original text stays in
// the output.
func (s *Session) Reject(id int) error { return s.setStatus(id, Rejected, "") }

// Edit replaces the candidate's pseudonym with a caller-supplied override.
func (s *Session) Edit(id int, replacement string) error {
	if replacement == "" {
		return fmt.Errorf("edit candidate %d: empty replacement", id)
	}
	return s.setStatus(id, Edited, replacement)
}

func (s *Session) setStatus(id int, status Decision, replacement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateFinalized:
		return ErrFinalized
	case StateIngested:
		return ErrNotDetected
	}
	if id < 0 || id >= len(s.items) {
		return fmt.Errorf("%w: %d", ErrNoCandidate, id)
	}
	it := &s.items[id]
	it.Status = status
	switch status {
	case Edited:
		it.Replacement = replacement
	case Approved:
		// Re-approval restores the session pseudonym.
		it.Replacement = s.pseudonymLocked(it.Candidate.Text, it.Candidate.Type)
	}
	s.state = StateReviewed
	return nil
}

// AddManual injects a caller-supplied entity outside automatic detection.
// Manual entities carry confidence 1.0 and never need review.
func (s *Session) AddManual(typ entity.Type, text string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateFinalized:
		return Item{}, ErrFinalized
	case StateIngested:
		return Item{}, ErrNotDetected
	}
	if text == "" {
		return Item{}, errors.New("manual entity: empty text")
	}
	it := Item{
		ID: len(s.items),
		Candidate: entity.Candidate{
			Type: typ, Text: text, Start: -1, End: -1,
			Confidence: 1.0, Source: entity.SourceManual,
		},
		Replacement: s.pseudonymLocked(text, typ),
		Status:      Approved,
	}
	s.items = append(s.items, it)
	s.state = StateReviewed
	return it, nil
}

// pseudonymLocked implements getOrCreatePseudonym: one original text maps to
// exactly one pseudonym per session, and a pseudonym is never reused for a
// different original. Caller must hold s.mu.
func (s *Session) pseudonymLocked(text string, typ entity.Type) string {
	if p, ok := s.mapping[text]; ok {
		return p
	}
	s.counters[typ]++
	p := fmt.Sprintf("%s_%d", typ.Tag(), s.counters[typ])
	s.mapping[text] = p
	return p
}

// Mapping returns an immutable snapshot of original → pseudonym assignments
// made so far.
func (s *Session) Mapping() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.mapping))
	for k, v := range s.mapping {
		out[k] = v
	}
	return out
}

// Finalize seals the session and exports the mapping artifact exactly once.
// Only entities that actually took part in substitution (approved or edited,
// present verbatim in the text) appear in the artifact.
func (s *Session) Finalize() (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalized {
		return nil, ErrFinalized
	}
	if s.state == StateIngested {
		return nil, ErrNotDetected
	}

	plans, _ := s.substitutionsLocked()
	entities := make(map[string]string)
	for _, r := range plans {
		if r.applied {
			entities[r.original] = r.replacement
		}
	}

	s.state = StateFinalized
	return &Artifact{
		Version:          "1",
		Timestamp:        time.Now().UTC(),
		ModelIdentifier:  s.modelID,
		DetectionMethods: s.methods,
		Entities:         entities,
	}, nil
}

// replacementPlan is one planned substitution, longest original first.
type replacementPlan struct {
	original    string
	replacement string
	applied     bool
}

// substitutionsLocked builds the ordered substitution plan from the current
// approval state and applies it to the original text: approved and edited
// items only, deduplicated by original text, sorted by original length
// descending so a shorter entity can never corrupt a longer one. Plans whose
// original no longer appears verbatim are left unapplied (silently skipped).
// Caller must hold s.mu.
func (s *Session) substitutionsLocked() ([]*replacementPlan, string) {
	byOriginal := make(map[string]*replacementPlan)
	var plans []*replacementPlan
	for i := range s.items {
		it := &s.items[i]
		if it.Status == Rejected {
			continue
		}
		if _, ok := byOriginal[it.Candidate.Text]; ok {
			continue
		}
		p := &replacementPlan{original: it.Candidate.Text, replacement: it.Replacement}
		byOriginal[it.Candidate.Text] = p
		plans = append(plans, p)
	}
	sort.SliceStable(plans, func(i, j int) bool {
		return len(plans[i].original) > len(plans[j].original)
	})
	// Always applied to the pristine original, never to a previous
	// substitution result, so re-running after review changes stays
	// idempotent relative to the source.
	working := s.text
	for _, p := range plans {
		if replaced, changed := replaceAll(working, p.original, p.replacement); changed {
			p.applied = true
			working = replaced
		}
	}
	return plans, working
}
