// Package entity defines the closed entity-type tag set, the fixed
// type-priority table used for overlap resolution, and the Candidate record
// shared by every detection stage.
//
// Types are a closed enum; strings appear only at the JSON boundary. The
// invariant for located candidates is text[Start:End] == Text (byte offsets).
package entity

import (
	"encoding/json"
	"fmt"
)

// Type classifies the kind of sensitive data found.
type Type int

// Supported entity types for detection and anonymization.
const (
	Person       Type = iota // personal name
	Organization             // company or institution name
	Location                 // city, country, region
	Address                  // street address, postal code + locality
	BankAccount              // IBAN
	CreditCard               // payment card number
	NationalID               // social insurance number (AVS/AHV)
	Phone                    // phone or fax number
	Email                    // email address
	Date                     // calendar date
	TaxID                    // company register / VAT number (UID)
	DocumentID               // passport, permit, identity card number
	ContractRef              // contract or policy reference
	Misc                     // anything else the recognizer reports
)

// typeNames maps Type values to their wire names.
var typeNames = [...]string{
	Person:       "PERSON",
	Organization: "ORGANIZATION",
	Location:     "LOCATION",
	Address:      "ADDRESS",
	BankAccount:  "BANK_ACCOUNT",
	CreditCard:   "CREDIT_CARD",
	NationalID:   "NATIONAL_ID",
	Phone:        "PHONE",
	Email:        "EMAIL",
	Date:         "DATE",
	TaxID:        "TAX_ID",
	DocumentID:   "DOCUMENT_ID",
	ContractRef:  "CONTRACT_REF",
	Misc:         "MISC",
}

// typeFromName maps wire names back to Type values.
var typeFromName = map[string]Type{}

func init() {
	for t, name := range typeNames {
		typeFromName[name] = Type(t)
	}
}

// String returns the wire name of the entity type, e.g. "BANK_ACCOUNT".
func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// MarshalJSON encodes the type as a JSON string (e.g. "PHONE").
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a JSON string (e.g. "PHONE") into a Type.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	et, ok := typeFromName[s]
	if !ok {
		const maxErrLen = 50
		if len(s) > maxErrLen {
			s = s[:maxErrLen] + "..."
		}
		return fmt.Errorf("unknown entity type: %q", s)
	}
	*t = et
	return nil
}

// ParseType returns the Type for a wire name, or Misc with ok=false if the
// name is not a known type.
func ParseType(name string) (Type, bool) {
	t, ok := typeFromName[name]
	if !ok {
		return Misc, false
	}
	return t, true
}

// typePriority is the fixed descending priority table used when two
// overlapping candidates of different types compete for the same span.
// Structured, checksum-backed identifiers outrank loosely shaped ones.
var typePriority = [...]int{
	BankAccount:  100,
	NationalID:   95,
	Email:        90,
	CreditCard:   85,
	TaxID:        80,
	DocumentID:   75,
	Phone:        70,
	Address:      60,
	Person:       55,
	Organization: 50,
	Date:         40,
	Location:     35,
	ContractRef:  30,
	Misc:         10,
}

// typeTags maps types to the short tag used in pseudonyms ("PER_1").
var typeTags = [...]string{
	Person:       "PER",
	Organization: "ORG",
	Location:     "LOC",
	Address:      "ADR",
	BankAccount:  "IBAN",
	CreditCard:   "CARD",
	NationalID:   "AVS",
	Phone:        "TEL",
	Email:        "EMAIL",
	Date:         "DATE",
	TaxID:        "UID",
	DocumentID:   "DOC",
	ContractRef:  "REF",
	Misc:         "MISC",
}

// Tag returns the short pseudonym tag of the type, e.g. "PER" for Person.
func (t Type) Tag() string {
	if int(t) >= 0 && int(t) < len(typeTags) {
		return typeTags[t]
	}
	return typeTags[Misc]
}

// Priority returns the overlap-resolution priority of the type.
// Higher wins. Unknown types get the Misc priority.
func (t Type) Priority() int {
	if int(t) >= 0 && int(t) < len(typePriority) {
		return typePriority[t]
	}
	return typePriority[Misc]
}

// Source records which detector produced a candidate.
type Source string

// Detection sources.
const (
	SourceRule   Source = "RULE"   // pattern registry match
	SourceML     Source = "ML"     // statistical recognizer (incl. fuzzy re-match)
	SourceManual Source = "MANUAL" // injected by the caller during review
	SourceBoth   Source = "BOTH"   // confirmed independently by rule and ML
)

// Candidate is a span tentatively classified as PII. It is created by a
// detection pass, may be dropped or rescored by later passes, and is consumed
// by the overlap resolver.
type Candidate struct {
	Type       Type    `json:"type"`
	Text       string  `json:"text"`
	Start      int     `json:"start"` // byte offset, -1 if unlocated
	End        int     `json:"end"`   // byte offset, exclusive
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// Located reports whether the candidate carries a resolved span.
func (c Candidate) Located() bool { return c.Start >= 0 && c.End > c.Start }

// Overlaps reports whether the spans of c and o intersect.
// Unlocated candidates never overlap anything.
func (c Candidate) Overlaps(o Candidate) bool {
	if !c.Located() || !o.Located() {
		return false
	}
	return c.Start < o.End && o.Start < c.End
}

// Len returns the span length in bytes, or len(Text) for unlocated candidates.
func (c Candidate) Len() int {
	if c.Located() {
		return c.End - c.Start
	}
	return len(c.Text)
}

// String returns a debug representation that never includes the matched
// text, e.g. PHONE[12:25](0.80,RULE).
func (c Candidate) String() string {
	return fmt.Sprintf("%s[%d:%d](%.2f,%s)", c.Type, c.Start, c.End, c.Confidence, c.Source)
}
