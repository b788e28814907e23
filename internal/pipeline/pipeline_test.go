package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"unicode/utf8"

	"github.com/ch8ri0s/pii-anonymizer/internal/config"
	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
	"github.com/ch8ri0s/pii-anonymizer/internal/recognizer"
	"github.com/ch8ri0s/pii-anonymizer/internal/rules"
)

// fakeRecognizer returns canned unlocated ML candidates, or an error.
type fakeRecognizer struct {
	cands []entity.Candidate
	err   error
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ string) ([]entity.Candidate, error) {
	return f.cands, f.err
}

func (f *fakeRecognizer) Model() string { return "fake-model" }

func testConfig() *config.Config {
	return &config.Config{
		TokenMergeFloor:  0.5,
		HighRecallFloor:  0.3,
		NeedsReviewBelow: 0.7,
		FuzzyTimeoutMs:   100,
		ContextWindow:    30,
	}
}

func newTestPipeline(rec Recognizer) *Pipeline {
	return New(rules.NewRegistry(nil), rec, testConfig(), nil)
}

func mlPerson(text string, conf float64) entity.Candidate {
	return entity.Candidate{Type: entity.Person, Text: text, Start: -1, End: -1, Confidence: conf, Source: entity.SourceML}
}

func typesOf(cands []entity.Candidate) map[entity.Type]int {
	m := map[entity.Type]int{}
	for _, c := range cands {
		m[c.Type]++
	}
	return m
}

func TestDetect_EmptyInput(t *testing.T) {
	res, err := newTestPipeline(nil).Detect(context.Background(), "")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Candidates) != 0 {
		t.Errorf("expected empty result, got %v", res.Candidates)
	}
}

func TestDetect_ValidNationalID(t *testing.T) {
	res, err := newTestPipeline(nil).Detect(context.Background(), "AVS: 756.1234.5678.97")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	var ids []entity.Candidate
	for _, c := range res.Candidates {
		if c.Type == entity.NationalID {
			ids = append(ids, c)
		}
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly 1 NATIONAL_ID, got %d (%v)", len(ids), res.Candidates)
	}
	if ids[0].Text != "756.1234.5678.97" {
		t.Errorf("text: got %q", ids[0].Text)
	}
}

func TestDetect_BrokenChecksumNationalID(t *testing.T) {
	res, err := newTestPipeline(nil).Detect(context.Background(), "AVS: 756.1234.5678.99")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if n := typesOf(res.Candidates)[entity.NationalID]; n != 0 {
		t.Errorf("expected 0 NATIONAL_ID for broken checksum, got %d", n)
	}
}

func TestDetect_IBAN(t *testing.T) {
	res, err := newTestPipeline(nil).Detect(context.Background(), "IBAN CH93 0076 2011 6238 5295 7")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	var banks []entity.Candidate
	for _, c := range res.Candidates {
		if c.Type == entity.BankAccount {
			banks = append(banks, c)
		}
	}
	if len(banks) != 1 {
		t.Fatalf("expected 1 BANK_ACCOUNT, got %d (%v)", len(banks), res.Candidates)
	}
	if banks[0].Text != "CH93 0076 2011 6238 5295 7" {
		t.Errorf("text: got %q", banks[0].Text)
	}
}

func TestDetect_ProductCodeIsNotPhone(t *testing.T) {
	res, err := newTestPipeline(nil).Detect(context.Background(), "Order item ART-021-627-4137 today")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if n := typesOf(res.Candidates)[entity.Phone]; n != 0 {
		t.Errorf("product code reported as PHONE: %v", res.Candidates)
	}
}

func TestContextScoring_DemotionDropsBelowFloor(t *testing.T) {
	// Demotion must remove the candidate, not just lower its score: a
	// product-prefixed phone shape at 0.80 lands at 0.16, below the floor.
	text := "Order item ART-021-627-4137 today"
	pass := &contextScoringPass{window: 30, floor: 0.3, policies: defaultContextPolicies}
	in := []entity.Candidate{{
		Type: entity.Phone, Text: "021-627-4137", Start: 15, End: 27,
		Confidence: 0.80, Source: entity.SourceRule,
	}}
	out, err := pass.Run(context.Background(), text, in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("demoted candidate survived the floor: %v", out)
	}
}

func TestNew_ContextScoringCarriesFloor(t *testing.T) {
	p := newTestPipeline(nil)
	for _, pass := range p.passes {
		if cs, ok := pass.(*contextScoringPass); ok {
			if cs.floor != testConfig().HighRecallFloor {
				t.Errorf("scoring floor: got %f, want %f", cs.floor, testConfig().HighRecallFloor)
			}
			return
		}
	}
	t.Fatal("no context-scoring pass installed")
}

func TestContextWindows_ClampToRuneBoundaries(t *testing.T) {
	// "aéb": é occupies bytes 1-2. A window edge inside it must not leak a
	// partial rune.
	text := "aéb"
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"before splits rune", windowBefore(text, 3, 1), ""},
		{"before at boundary", windowBefore(text, 3, 2), "é"},
		{"after splits rune", windowAfter(text, 0, 2), "a"},
		{"after at boundary", windowAfter(text, 0, 3), "aé"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, c.got, c.want)
		}
		if !utf8.ValidString(c.got) {
			t.Errorf("%s: window is not valid UTF-8: %q", c.name, c.got)
		}
	}
}

func TestDetect_MaskedPhoneAccepted(t *testing.T) {
	res, err := newTestPipeline(nil).Detect(context.Background(), "Call +41 21 XXX XX 37 for details")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if n := typesOf(res.Candidates)[entity.Phone]; n != 1 {
		t.Errorf("expected masked value as canonical PHONE, got %v", res.Candidates)
	}
}

func TestDetect_PhoneKeywordPromotesBorderlineMatch(t *testing.T) {
	p := newTestPipeline(nil)
	res, err := p.Detect(context.Background(), "Tél: 021 627 41 37")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	var phone *entity.Candidate
	for i := range res.Candidates {
		if res.Candidates[i].Type == entity.Phone {
			phone = &res.Candidates[i]
		}
	}
	if phone == nil {
		t.Fatalf("no PHONE candidate: %v", res.Candidates)
	}
	if phone.Confidence <= 0.80 {
		t.Errorf("phone context keyword should promote confidence, got %f", phone.Confidence)
	}
}

func TestDetect_MLEntityLocatedEverywhere(t *testing.T) {
	rec := &fakeRecognizer{cands: []entity.Candidate{mlPerson("Jean Muster", 0.9)}}
	text := "Jean Muster signed. Later, Jean-Muster confirmed."
	res, err := newTestPipeline(rec).Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if n := typesOf(res.Candidates)[entity.Person]; n != 2 {
		t.Errorf("expected 2 located PERSON occurrences, got %d (%v)", n, res.Candidates)
	}
}

func TestDetect_ShortMLEntityDropped(t *testing.T) {
	rec := &fakeRecognizer{cands: []entity.Candidate{mlPerson("Al", 0.9)}}
	res, err := newTestPipeline(rec).Detect(context.Background(), "Al was here. Al left.")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if n := typesOf(res.Candidates)[entity.Person]; n != 0 {
		t.Errorf("2-char ML entity should be dropped by fuzzy safety rules, got %d", n)
	}
}

func TestDetect_RecognizerFailureDegrades(t *testing.T) {
	rec := &fakeRecognizer{err: recognizer.ErrUnavailable}
	res, err := newTestPipeline(rec).Detect(context.Background(), "Mail alice@example.com now")
	if err != nil {
		t.Fatalf("degraded mode must not fail the operation: %v", err)
	}
	if !res.RecognizerSkipped {
		t.Error("RecognizerSkipped should be set")
	}
	if n := typesOf(res.Candidates)[entity.Email]; n != 1 {
		t.Errorf("rule-based output should survive degradation, got %v", res.Candidates)
	}
}

func TestDetect_CancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestPipeline(nil).Detect(ctx, "alice@example.com")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDetect_RecognizerCancellationPropagates(t *testing.T) {
	rec := &fakeRecognizer{err: context.Canceled}
	_, err := newTestPipeline(rec).Detect(context.Background(), "alice@example.com")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDetect_NoOverlappingSpans(t *testing.T) {
	text := "IBAN CH93 0076 2011 6238 5295 7, AVS 756.1234.5678.97, tel +41 21 627 41 37, mail a.muster@example.ch"
	res, err := newTestPipeline(nil).Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for i := 0; i < len(res.Candidates); i++ {
		for j := i + 1; j < len(res.Candidates); j++ {
			if res.Candidates[i].Overlaps(res.Candidates[j]) {
				t.Errorf("overlapping spans in final set: %s and %s",
					res.Candidates[i], res.Candidates[j])
			}
		}
	}
}

func TestDetect_Idempotent(t *testing.T) {
	text := "Contact a.muster@example.ch or +41 21 627 41 37. AVS 756.1234.5678.97."
	p := newTestPipeline(nil)
	first, err := p.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	second, err := p.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(first.Candidates, second.Candidates) {
		t.Errorf("repeated detection differs:\n first: %v\nsecond: %v", first.Candidates, second.Candidates)
	}
}

func TestDetect_PassStatsExposed(t *testing.T) {
	res, err := newTestPipeline(nil).Detect(context.Background(), "mail alice@example.com")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Passes) != 3 {
		t.Fatalf("expected 3 pass traces, got %d", len(res.Passes))
	}
	want := []string{"high-recall", "format-validation", "context-scoring"}
	for i, name := range want {
		if res.Passes[i].Name != name {
			t.Errorf("pass %d: got %s, want %s", i, res.Passes[i].Name, name)
		}
	}
}

func TestDetect_DualSourceMarkedBoth(t *testing.T) {
	// The recognizer reports the same email the rules find; after fuzzy
	// location both candidates share a span and merge into one BOTH entry.
	rec := &fakeRecognizer{cands: []entity.Candidate{{
		Type: entity.Email, Text: "alice@example.com", Start: -1, End: -1,
		Confidence: 0.88, Source: entity.SourceML,
	}}}
	res, err := newTestPipeline(rec).Detect(context.Background(), "mail alice@example.com")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	var emails []entity.Candidate
	for _, c := range res.Candidates {
		if c.Type == entity.Email {
			emails = append(emails, c)
		}
	}
	if len(emails) != 1 {
		t.Fatalf("expected 1 merged EMAIL, got %d", len(emails))
	}
	if emails[0].Source != entity.SourceBoth {
		t.Errorf("source: got %s, want BOTH", emails[0].Source)
	}
}
