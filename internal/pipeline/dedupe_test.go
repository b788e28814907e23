package pipeline

import (
	"testing"

	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
)

func cand(t entity.Type, start, end int, text string) entity.Candidate {
	return entity.Candidate{Type: t, Text: text, Start: start, End: end, Confidence: 0.9, Source: entity.SourceRule}
}

func TestResolve_Empty(t *testing.T) {
	if got := Resolve(nil); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
}

func TestResolve_DisjointKept(t *testing.T) {
	in := []entity.Candidate{
		cand(entity.Email, 0, 10, "a@b.ch"),
		cand(entity.Phone, 20, 35, "+41 21 627 41 37"),
	}
	got := Resolve(in)
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
}

func TestResolve_HigherPriorityWinsOnOverlap(t *testing.T) {
	// A bank-account-shaped match beats a phone-shaped match on the same span.
	in := []entity.Candidate{
		cand(entity.Phone, 5, 26, "0076 2011 6238 5295 7"),
		cand(entity.BankAccount, 0, 26, "CH93 0076 2011 6238 5295 7"),
	}
	got := Resolve(in)
	if len(got) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(got))
	}
	if got[0].Type != entity.BankAccount {
		t.Errorf("got %s, want BANK_ACCOUNT", got[0].Type)
	}
}

func TestResolve_SamePositionPriorityTie(t *testing.T) {
	// Identical span, different types: the fixed table decides.
	in := []entity.Candidate{
		cand(entity.Phone, 10, 23, "756123456789"),
		cand(entity.NationalID, 10, 23, "756123456789"),
	}
	got := Resolve(in)
	if len(got) != 1 || got[0].Type != entity.NationalID {
		t.Fatalf("expected single NATIONAL_ID, got %v", got)
	}
}

func TestResolve_EqualPriorityLongerWins(t *testing.T) {
	in := []entity.Candidate{
		cand(entity.Person, 0, 10, "Jean Muste"),
		cand(entity.Person, 5, 20, "Muster-Keller AG"),
	}
	got := Resolve(in)
	if len(got) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(got))
	}
	if got[0].Start != 5 || got[0].End != 20 {
		t.Errorf("longer candidate should win the tie, got %s", got[0])
	}
}

func TestResolve_ChainOfOverlaps(t *testing.T) {
	// Winner replacement must not reintroduce an overlap with earlier keeps.
	in := []entity.Candidate{
		cand(entity.Email, 0, 8, "a@bc.ch"),
		cand(entity.Date, 10, 20, "01.02.2024"),
		cand(entity.NationalID, 12, 28, "756.1234.5678.97"),
	}
	got := Resolve(in)
	if len(got) != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	if got[1].Type != entity.NationalID {
		t.Errorf("NATIONAL_ID should displace DATE, got %s", got[1].Type)
	}
	for i := 0; i < len(got); i++ {
		for j := i + 1; j < len(got); j++ {
			if got[i].Overlaps(got[j]) {
				t.Errorf("result overlaps: %s / %s", got[i], got[j])
			}
		}
	}
}

func TestResolve_UnlocatedDropped(t *testing.T) {
	in := []entity.Candidate{
		{Type: entity.Person, Text: "Jean Muster", Start: -1, End: -1, Confidence: 0.9, Source: entity.SourceML},
		cand(entity.Email, 0, 8, "a@bc.ch"),
	}
	got := Resolve(in)
	if len(got) != 1 || got[0].Type != entity.Email {
		t.Fatalf("unlocated candidates must not survive resolution, got %v", got)
	}
}
