// Package rules implements the rule-based detection stage: an ordered
// registry of (type, pattern, validator) entries run globally over the raw
// text. Every raw hit is passed through its validator and kept only if it
// holds, so a phone-shaped string of repeated zeros or an IBAN with a broken
// mod-97 remainder never becomes a candidate.
//
// Masked variants cover partially redacted values (digit groups replaced by
// X or * placeholders). They share the canonical type of their strict
// counterpart but carry no numeric validator — a masked value has no
// checksum left to verify — and are accepted by form alone, provided the hit
// actually contains a placeholder run.
package rules

import (
	"regexp"

	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
	"github.com/ch8ri0s/pii-anonymizer/internal/logger"
	"github.com/ch8ri0s/pii-anonymizer/internal/validate"
)

// Rule is one compiled registry entry.
type Rule struct {
	Type       entity.Type
	Masked     bool // placeholder variant: hit must contain X/* runs
	re         *regexp.Regexp
	group      int // submatch index to report (0 = whole match)
	validator  func(string) bool
	confidence float64
}

// spec describes a rule before compilation.
type spec struct {
	typ        entity.Type
	expr       string
	group      int
	validator  func(string) bool
	masked     bool
	confidence float64
}

// defaultSpecs is the built-in rule set, ordered strict-before-masked per
// type. Patterns are written for RE2: no backreferences, no lookaround, no
// nested unbounded quantifiers.
var defaultSpecs = []spec{
	{typ: entity.Email, confidence: 0.95, validator: validate.Any,
		expr: `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`},

	// IBAN: two-letter country, two check digits, 11 to 30 grouped
	// alphanumerics. The mod-97 validator rejects look-alikes.
	{typ: entity.BankAccount, confidence: 0.95, validator: validate.IBAN,
		expr: `\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`},
	{typ: entity.BankAccount, confidence: 0.75, masked: true,
		expr: `\b[A-Z]{2}\d{2}(?: ?[X*0-9]{4}){2,7}(?: ?[X*0-9]{1,3})?\b`},

	// Swiss AVS/AHV social insurance number, 756-prefixed.
	{typ: entity.NationalID, confidence: 0.95, validator: validate.NationalID,
		expr: `\b756[.\- ]?\d{4}[.\- ]?\d{4}[.\- ]?\d{2}\b`},
	{typ: entity.NationalID, confidence: 0.75, masked: true,
		expr: `\b756[.\- ]?[X*0-9]{4}[.\- ]?[X*0-9]{4}[.\- ]?[X*0-9]{2}\b`},

	// Swiss UID company register number.
	{typ: entity.TaxID, confidence: 0.95, validator: validate.TaxID,
		expr: `\bCHE[\- .]?\d{3}[. ]?\d{3}[. ]?\d{3}\b`},

	{typ: entity.CreditCard, confidence: 0.95, validator: validate.CreditCard,
		expr: `\b(?:\d{4}[ \-]?){3}\d{4}\b`},

	// International then national phone forms.
	{typ: entity.Phone, confidence: 0.85, validator: validate.Phone,
		expr: `(?:\+|00)[1-9]\d{0,2}[ .\-/]?\d{2,3}[ .\-/]?\d{3}[ .\-/]?\d{2}[ .\-/]?\d{2,4}\b`},
	{typ: entity.Phone, confidence: 0.80, validator: validate.Phone,
		expr: `\b0\d{2}[ .\-/]?\d{3}[ .\-/]?\d{2}[ .\-/]?\d{2}\b`},
	{typ: entity.Phone, confidence: 0.75, masked: true,
		expr: `(?:\+|00)?\d{2,3}[ .\-]?\d{2,3}[ .\-]?[X*]{2,3}[ .\-]?[X*]{2,3}[ .\-]?\d{2}\b`},

	// Labeled government document numbers (passport, permit).
	{typ: entity.DocumentID, confidence: 0.85, group: 1, validator: validate.Any,
		expr: `(?i)\b(?:passeport|passport|permis|permit|ausweis)\s*(?:no|n°|nr|#|:)?\s*([A-Z]\d{7})\b`},

	// Labeled contract and policy references.
	{typ: entity.ContractRef, confidence: 0.85, group: 1, validator: validate.Any,
		expr: `(?i)\b(?:contrat|contract|vertrag|police|policy)\s*(?:no|n°|nr|#|:)?\s*([A-Z0-9][A-Z0-9.\-/]{3,19})\b`},

	// Street addresses: romance-language street keyword forms and the
	// compound German form (…strasse 12).
	{typ: entity.Address, confidence: 0.70, validator: validate.Any,
		expr: `(?i)\b(?:rue|avenue|chemin|route|boulevard|place|quai|via)\s+(?:de la |de |du |des |d')?[\p{L}][\p{L}'\-]*(?: [\p{L}'\-]+){0,3} \d{1,4}[a-z]?\b`},
	{typ: entity.Address, confidence: 0.70, validator: validate.Any,
		expr: `\b[A-ZÄÖÜ][\p{L}]*(?:strasse|gasse|weg|platz)\s+\d{1,4}[a-z]?\b`},
	// Postal code + locality.
	{typ: entity.Address, confidence: 0.60, validator: validate.Any,
		expr: `\b(?:CH-)?\d{4} [A-ZÄÖÜÉÈ][\p{L}\-]+\b`},

	{typ: entity.Date, confidence: 0.80, validator: validate.Any,
		expr: `\b\d{1,2}[./]\d{1,2}[./]\d{2,4}\b`},
	{typ: entity.Date, confidence: 0.80, validator: validate.Any,
		expr: `\b\d{4}-\d{2}-\d{2}\b`},
}

// Registry holds the compiled, ordered rule set for one pipeline instance.
// Registries are independent: two pipelines configured for different
// jurisdictions share no state.
type Registry struct {
	rules []Rule
	log   *logger.Logger
}

// NewRegistry compiles the built-in rule set. Rules whose pattern fails to
// compile are logged (pattern only, never input text) and skipped.
func NewRegistry(log *logger.Logger) *Registry {
	r := &Registry{log: log}
	for _, s := range defaultSpecs {
		r.add(s)
	}
	return r
}

// Add appends a custom rule to the registry. A nil validator accepts every
// hit. Returns false if the pattern does not compile.
func (r *Registry) Add(typ entity.Type, expr string, validator func(string) bool, confidence float64) bool {
	return r.add(spec{typ: typ, expr: expr, validator: validator, confidence: confidence})
}

func (r *Registry) add(s spec) bool {
	re, err := regexp.Compile(s.expr)
	if err != nil {
		if r.log != nil {
			r.log.Warnf("rule_compile", "skipping %s pattern: %v", s.typ, err)
		}
		return false
	}
	v := s.validator
	if v == nil {
		v = validate.Any
	}
	r.rules = append(r.rules, Rule{
		Type:       s.typ,
		Masked:     s.masked,
		re:         re,
		group:      s.group,
		validator:  v,
		confidence: s.confidence,
	})
	return true
}

// Len returns the number of compiled rules.
func (r *Registry) Len() int { return len(r.rules) }

// Detect runs every rule over the text and returns validated candidates with
// resolved byte spans. Empty input yields no candidates, never an error.
func (r *Registry) Detect(text string) []entity.Candidate {
	if text == "" {
		return nil
	}
	var out []entity.Candidate
	for _, rule := range r.rules {
		for _, m := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if rule.group > 0 && len(m) > 2*rule.group+1 && m[2*rule.group] >= 0 {
				start, end = m[2*rule.group], m[2*rule.group+1]
			}
			hit := text[start:end]
			if rule.Masked {
				if !containsMask(hit) {
					continue // strict variant already covers fully numeric hits
				}
			} else if !rule.validator(hit) {
				continue
			}
			out = append(out, entity.Candidate{
				Type:       rule.Type,
				Text:       hit,
				Start:      start,
				End:        end,
				Confidence: rule.confidence,
				Source:     entity.SourceRule,
			})
		}
	}
	return out
}

// containsMask reports whether the hit carries at least one placeholder
// character, i.e. is genuinely a partially redacted value.
func containsMask(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 'X' || s[i] == '*' {
			return true
		}
	}
	return false
}
