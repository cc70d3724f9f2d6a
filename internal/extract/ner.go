package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// NER confidence tiers: the higher value applies when the merged result
// reaches two populated fields after this strategy contributes.
const (
	nerConfidenceHigh = 0.7
	nerConfidenceLow  = 0.5
)

const (
	defaultNERTimeout   = 5 * time.Second
	defaultNERRateLimit = 50.0 / 60.0
	defaultNERBurst     = 5
)

// nerLabelFields maps sequence-labeling groups to event fields. The
// optional B-/I- prefix is stripped before lookup.
var nerLabelFields = map[string]Field{
	"DATE":     FieldDate,
	"DATETIME": FieldDate,
	"TIME":     FieldTime,
	"LOC":      FieldVenue,
	"LOCATION": FieldVenue,
	"VENUE":    FieldVenue,
	"FAC":      FieldVenue,
	"GPE":      FieldVenue,
}

// NERConfig holds the remote sequence-labeling endpoint settings.
type NERConfig struct {
	Endpoint string        `koanf:"endpoint"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// NERExtractor delegates span detection to an external sequence-labeling
// service and aggregates sub-word tokens into entity strings. Every
// failure mode (non-2xx status, timeout, malformed body) is absorbed into
// an empty contribution.
type NERExtractor struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewNERExtractor creates the remote NER strategy.
func NewNERExtractor(cfg NERConfig) (*NERExtractor, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: ner endpoint required", ErrInvalidConfig)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultNERTimeout
	}
	return &NERExtractor{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultNERRateLimit), defaultNERBurst),
	}, nil
}

// Name implements Strategy.
func (n *NERExtractor) Name() Source { return SourceNER }

// nerRequest is the inference request body.
type nerRequest struct {
	Inputs  string `json:"inputs"`
	Options struct {
		WaitForModel bool `json:"wait_for_model"`
	} `json:"options"`
}

// nerEntity is one labeled span. Services disagree on the tag key
// (entity vs entity_group) and the token key (word vs token); both
// spellings are accepted.
type nerEntity struct {
	Entity      string  `json:"entity"`
	EntityGroup string  `json:"entity_group"`
	Word        string  `json:"word"`
	Token       string  `json:"token"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Score       float64 `json:"score"`
}

func (e nerEntity) label() string {
	tag := e.Entity
	if e.EntityGroup != "" {
		tag = e.EntityGroup
	}
	tag = strings.TrimPrefix(tag, "B-")
	tag = strings.TrimPrefix(tag, "I-")
	return strings.ToUpper(tag)
}

func (e nerEntity) text() string {
	if e.Word != "" {
		return e.Word
	}
	return e.Token
}

// Extract implements Strategy.
func (n *NERExtractor) Extract(ctx context.Context, in Input) Contribution {
	if in.Text.Empty() {
		return emptyContribution(SourceNER, OutcomeEmpty, nil)
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return emptyContribution(SourceNER, OutcomeError, err)
	}

	entities, err := n.call(ctx, in.Text.PlainText)
	if err != nil {
		return emptyContribution(SourceNER, OutcomeError, err)
	}

	spans := spansFromEntities(mergeSubwords(entities))
	if len(spans) == 0 {
		return emptyContribution(SourceNER, OutcomeEmpty, nil)
	}
	return Contribution{
		Source:  SourceNER,
		Outcome: OutcomeSuccess,
		Spans:   spans,
		// The Coordinator raises this to the high tier when the merged
		// field count reaches two.
		Confidence: nerConfidenceLow,
	}
}

// call performs the inference request and normalizes the response shape.
func (n *NERExtractor) call(ctx context.Context, text string) ([]nerEntity, error) {
	var req nerRequest
	req.Inputs = text
	req.Options.WaitForModel = true

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ner request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create ner request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ner request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ner response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ner service status %d: %s", resp.StatusCode, truncateForError(body))
	}

	// Flat list first, then the singly-nested shape some services return.
	var flat []nerEntity
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}
	var nested [][]nerEntity
	if err := json.Unmarshal(body, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	return nil, fmt.Errorf("malformed ner response: %s", truncateForError(body))
}

// mergeSubwords joins adjacent same-label sub-word tokens into contiguous
// entity strings. Adjacency means the previous span's end offset equals
// the next span's start offset; continuation markers ("##") are stripped.
func mergeSubwords(entities []nerEntity) []nerEntity {
	var merged []nerEntity
	for _, e := range entities {
		word := strings.TrimPrefix(e.text(), "##")

		if len(merged) > 0 {
			prev := &merged[len(merged)-1]
			if prev.label() == e.label() && prev.End == e.Start {
				prev.Word += word
				prev.End = e.End
				if e.Score < prev.Score {
					prev.Score = e.Score
				}
				continue
			}
		}
		e.Word = word
		e.Token = ""
		merged = append(merged, e)
	}
	return merged
}

// spansFromEntities maps labeled entities to field spans, keeping only the
// first value seen per field.
func spansFromEntities(entities []nerEntity) []Span {
	seen := make(map[Field]bool, 3)
	var spans []Span
	for _, e := range entities {
		field, ok := nerLabelFields[e.label()]
		if !ok || seen[field] {
			continue
		}
		value := normalizeSentinel(e.Word)
		if value == "" {
			continue
		}
		seen[field] = true
		spans = append(spans, Span{
			Field:      field,
			Value:      value,
			Source:     SourceNER,
			Confidence: e.Score,
		})
	}
	return spans
}

// truncateForError keeps error messages bounded.
func truncateForError(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
