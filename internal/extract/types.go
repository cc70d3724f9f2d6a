// Package extract implements the multi-strategy event extraction ensemble.
// Independent strategies (calendar invite, rule-based text heuristics,
// remote NER, remote LLM) produce partial candidates that the Coordinator
// merges with first-write-wins precedence and a field-completeness gate
// between stages.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parchlabs/mailevent/internal/normalize"
)

// Field identifies one extractable event attribute.
type Field int

const (
	FieldEventName Field = iota
	FieldDate
	FieldTime
	FieldVenue
)

func (f Field) String() string {
	switch f {
	case FieldEventName:
		return "event_name"
	case FieldDate:
		return "date"
	case FieldTime:
		return "time"
	case FieldVenue:
		return "venue"
	default:
		return "unknown"
	}
}

// Source names an extraction strategy for provenance tracking.
type Source string

const (
	SourceInvite Source = "invite"
	SourceRule   Source = "rule"
	SourceNER    Source = "ner"
	SourceLLM    Source = "llm"
)

// Span is one recognized value for a field, produced by a strategy and
// consumed immediately by the merge step.
type Span struct {
	Field      Field
	Value      string
	Source     Source
	Confidence float64
}

// Outcome tags a strategy contribution so the Coordinator's gating logic
// can pattern-match instead of relying on raised errors.
type Outcome int

const (
	// OutcomeSuccess means the strategy ran and produced at least one span.
	OutcomeSuccess Outcome = iota
	// OutcomeEmpty means the strategy ran but found nothing.
	OutcomeEmpty
	// OutcomeError means the strategy failed (network, malformed response).
	// It is treated identically to OutcomeEmpty during merging.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Contribution is the full result of one strategy invocation.
type Contribution struct {
	Source     Source
	Outcome    Outcome
	Spans      []Span
	Confidence float64
	Err        error // populated only for OutcomeError; informational
}

// emptyContribution is the absorbed form of a failed or fruitless strategy.
func emptyContribution(src Source, outcome Outcome, err error) Contribution {
	return Contribution{Source: src, Outcome: outcome, Err: err}
}

// Message is the external input contract: a decoded subject and body plus
// an optional raw calendar invite. The ensemble never mutates it.
type Message struct {
	Subject        string               `json:"subject"`
	BodyParts      []normalize.BodyPart `json:"body_parts"`
	CalendarInvite string               `json:"calendar_invite,omitempty"`
}

// Input is the per-call view handed to strategies: normalized text plus
// the original subject and invite payload. It lives for one extraction
// call and is discarded afterwards.
type Input struct {
	Subject string
	Text    normalize.Text
	Invite  string
}

// Strategy is one independent extraction method.
type Strategy interface {
	Name() Source
	Extract(ctx context.Context, in Input) Contribution
}

// Result is the ensemble's output contract. Field values are canonical
// (date YYYY-MM-DD, time HH:MM 24-hour); empty means not extracted.
// FieldCount counts non-empty values among date/time/venue and is always
// recomputed from the final merged fields.
type Result struct {
	EventName  string  `json:"event_name"`
	Date       string  `json:"date"`
	Time       string  `json:"time"`
	Venue      string  `json:"venue"`
	Provenance string  `json:"provenance"`
	Confidence float64 `json:"confidence"`
	FieldCount int     `json:"field_count"`
}

// sentinelValues are strategy outputs that mean "no value found".
var sentinelValues = map[string]struct{}{
	"":        {},
	"unknown": {},
	"na":      {},
	"n/a":     {},
	"null":    {},
	"none":    {},
	"nil":     {},
}

// normalizeSentinel maps sentinel spellings to the empty string.
func normalizeSentinel(v string) string {
	trimmed := strings.TrimSpace(v)
	if _, ok := sentinelValues[strings.ToLower(trimmed)]; ok {
		return ""
	}
	return trimmed
}

// StrategyOrder selects the invocation order of the rule and LLM stages.
type StrategyOrder string

const (
	OrderRulesFirst StrategyOrder = "rules-first"
	OrderLLMFirst   StrategyOrder = "llm-first"
)

// ErrInvalidConfig marks configuration problems surfaced at startup.
var ErrInvalidConfig = errors.New("invalid extraction config")

// Config controls the Coordinator. Zero values are filled by Validate's
// callers via DefaultConfig.
type Config struct {
	StrategyOrder       StrategyOrder `koanf:"strategy_order"`
	FieldCountThreshold int           `koanf:"field_count_threshold"`
	NEREnabled          bool          `koanf:"ner_enabled"`
	LLMEnabled          bool          `koanf:"llm_enabled"`
}

// DefaultConfig returns the rules-first pipeline with a threshold of 2.
// Stricter deployments raise the threshold to 3 in config.
func DefaultConfig() Config {
	return Config{
		StrategyOrder:       OrderRulesFirst,
		FieldCountThreshold: 2,
		NEREnabled:          true,
		LLMEnabled:          true,
	}
}

// Validate rejects configurations that must fail at startup.
func (c Config) Validate() error {
	if c.FieldCountThreshold < 0 {
		return fmt.Errorf("%w: field_count_threshold must be >= 0, got %d", ErrInvalidConfig, c.FieldCountThreshold)
	}
	switch c.StrategyOrder {
	case OrderRulesFirst, OrderLLMFirst:
	default:
		return fmt.Errorf("%w: unknown strategy_order %q", ErrInvalidConfig, c.StrategyOrder)
	}
	return nil
}
