// Package recognizer wraps the external token-classification service used
// for statistical entity detection.
//
// The service tags sub-word tokens with BIO-prefixed labels ("B-PER",
// "I-PER", ...) and a per-token confidence score. This package merges those
// tokens back into whole entity strings: consecutive same-type tokens are
// concatenated, sub-word markers are stripped, and a type change or a token
// below the merge floor ends the current entity.
//
// The adapter is stateless per call: nothing from one document's inference
// survives into the next. If the service is unreachable the caller receives
// ErrUnavailable and is expected to degrade to rule-based detection rather
// than fail the whole operation.
package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ch8ri0s/pii-anonymizer/internal/entity"
	"github.com/ch8ri0s/pii-anonymizer/internal/logger"
)

// ErrUnavailable indicates the recognizer service could not be reached or
// returned an unusable response. Detection should continue rule-only.
var ErrUnavailable = errors.New("recognizer unavailable")

// Token is one sub-word token as returned by the classification service.
type Token struct {
	Text  string  `json:"text"`
	Tag   string  `json:"tag"`   // BIO-prefixed label, e.g. "B-PER", "I-ORG", "O"
	Score float64 `json:"score"` // confidence in [0,1]
}

type classifyRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type classifyResponse struct {
	Tokens []Token `json:"tokens"`
}

// Client calls the token-classification service.
type Client struct {
	url        string
	model      string
	mergeFloor float64
	http       *http.Client
	log        *logger.Logger
}

// New creates a recognizer client. mergeFloor is the per-token confidence
// below which a token ends the current entity merge.
func New(endpoint, model string, mergeFloor float64, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		url:        endpoint + "/classify",
		model:      model,
		mergeFloor: mergeFloor,
		http:       &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Model returns the model identifier used for inference, for the mapping
// artifact's modelIdentifier field.
func (c *Client) Model() string { return c.model }

// Recognize runs one inference call over the text and returns merged,
// unlocated ML candidates. Empty input yields no candidates and no call.
func (c *Client) Recognize(ctx context.Context, text string) ([]entity.Candidate, error) {
	if text == "" {
		return nil, nil
	}

	reqBody, err := json.Marshal(classifyRequest{Model: c.model, Text: text})
	if err != nil {
		return nil, fmt.Errorf("encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	const maxResponse = 10 << 20 // 10 MB
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var cr classifyResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrUnavailable, err)
	}

	merged := MergeTokens(cr.Tokens, c.mergeFloor)
	if c.log != nil {
		c.log.Debugf("classify", "%d tokens merged into %d entities", len(cr.Tokens), len(merged))
	}
	return merged, nil
}

// labelTypes maps model labels (BIO prefix stripped) to entity types.
// Labels outside the table fall back to MISC.
var labelTypes = map[string]entity.Type{
	"PER":    entity.Person,
	"PERSON": entity.Person,
	"ORG":    entity.Organization,
	"LOC":    entity.Location,
	"ADDR":   entity.Address,
	"DATE":   entity.Date,
	"PHONE":  entity.Phone,
	"EMAIL":  entity.Email,
}

// MergeTokens folds sub-word tokens into whole-entity candidates.
//
// Walk rule: consecutive tokens of the same type accumulate into one entity;
// a type change, an "O" tag, or a token scoring below floor flushes the
// accumulator (dropping it if the accumulated text cleans to empty). A "B-"
// prefix always starts a fresh entity, even for the same type.
//
// Returned candidates are unlocated (Start = End = -1); the fuzzy re-matcher
// resolves their occurrences in the document.
func MergeTokens(tokens []Token, floor float64) []entity.Candidate {
	var out []entity.Candidate

	var (
		curType  entity.Type
		curText  strings.Builder
		scoreSum float64
		scoreN   int
		active   bool
	)

	flush := func() {
		if !active {
			return
		}
		text := cleanEntityText(curText.String())
		if text != "" {
			out = append(out, entity.Candidate{
				Type:       curType,
				Text:       text,
				Start:      -1,
				End:        -1,
				Confidence: scoreSum / float64(scoreN),
				Source:     entity.SourceML,
			})
		}
		curText.Reset()
		scoreSum, scoreN = 0, 0
		active = false
	}

	for _, tok := range tokens {
		begin, label := splitTag(tok.Tag)
		typ, known := labelTypes[label]
		if label == "" || label == "O" || tok.Score < floor {
			flush()
			continue
		}
		if !known {
			typ = entity.Misc
		}
		if active && (typ != curType || begin) {
			flush()
		}
		if !active {
			curType = typ
			active = true
		}
		appendToken(&curText, tok.Text)
		scoreSum += tok.Score
		scoreN++
	}
	flush()
	return out
}

// splitTag splits a BIO tag into (isBegin, label). "B-PER" → (true, "PER"),
// "I-PER" → (false, "PER"), "O" → (false, "O").
func splitTag(tag string) (bool, string) {
	switch {
	case strings.HasPrefix(tag, "B-"):
		return true, tag[2:]
	case strings.HasPrefix(tag, "I-"):
		return false, tag[2:]
	default:
		return false, tag
	}
}

// appendToken writes one sub-word token into the accumulator. Tokens carrying
// a continuation marker ("##" prefix) join the previous token directly; a
// word-start marker ("▁" prefix) or a plain token joins with a space.
func appendToken(b *strings.Builder, text string) {
	switch {
	case strings.HasPrefix(text, "##"):
		b.WriteString(text[2:])
	case strings.HasPrefix(text, "▁"): // SentencePiece word-start marker
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimPrefix(text, "▁"))
	default:
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}

// cleanEntityText normalizes a merged entity: NFC form, collapsed whitespace,
// and non-semantic punctuation stripped from the edges. Name-internal
// hyphens and apostrophes are preserved.
func cleanEntityText(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	// TrimFunc only touches the edges, so name-internal hyphens and
	// apostrophes (Jean-Pierre, O'Connor) survive.
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
}
