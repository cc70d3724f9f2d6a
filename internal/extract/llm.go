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
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// llmConfidence is fixed: a successful structured parse earns 0.8
// regardless of which fields came back populated.
const llmConfidence = 0.8

const (
	defaultLLMTimeout   = 6 * time.Second
	defaultLLMMaxChars  = 6000
	defaultLLMRateLimit = 50.0 / 60.0
	defaultLLMBurst     = 5
)

// llmSystemInstruction pins the model to a fixed-shape JSON object.
// Missing values use the "unknown" sentinel so the response always has
// exactly four keys.
const llmSystemInstruction = `You extract event info from emails. ` +
	`Output ONLY valid JSON: {"event_name": string, "date": "YYYY-MM-DD", "time": "HH:MM", "venue": string}. ` +
	`Use "unknown" for any value you cannot find. No extra text.`

// LLMConfig holds the remote generative-model endpoint settings.
type LLMConfig struct {
	Endpoint string        `koanf:"endpoint"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
	MaxChars int           `koanf:"max_chars"`
}

// LLMExtractor delegates extraction to an external generative model with
// a strict structured-output contract. Parse failures and service errors
// are absorbed into empty contributions, never raised.
type LLMExtractor struct {
	endpoint   string
	apiKey     string
	maxChars   int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewLLMExtractor creates the LLM strategy.
func NewLLMExtractor(cfg LLMConfig) (*LLMExtractor, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: llm endpoint required", ErrInvalidConfig)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultLLMMaxChars
	}
	return &LLMExtractor{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxChars:   maxChars,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultLLMRateLimit), defaultLLMBurst),
	}, nil
}

// Name implements Strategy.
func (l *LLMExtractor) Name() Source { return SourceLLM }

// llmRequest is the structured-output request body.
type llmRequest struct {
	SystemInstruction string  `json:"system_instruction"`
	Prompt            string  `json:"prompt"`
	Temperature       float64 `json:"temperature"`
	ResponseMIMEType  string  `json:"response_mime_type"`
}

// llmFields is the fixed response shape: exactly four keys.
type llmFields struct {
	EventName string `json:"event_name"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Venue     string `json:"venue"`
}

// Extract implements Strategy.
func (l *LLMExtractor) Extract(ctx context.Context, in Input) Contribution {
	if strings.TrimSpace(in.Subject) == "" && in.Text.Empty() {
		return emptyContribution(SourceLLM, OutcomeEmpty, nil)
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return emptyContribution(SourceLLM, OutcomeError, err)
	}

	body := in.Text.PlainText
	if len(body) > l.maxChars {
		cut := l.maxChars
		// Back off to a rune boundary so a split character never
		// reaches the model.
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	prompt := fmt.Sprintf("Subject: %s\n\nBody:\n%s", in.Subject, body)

	fields, err := l.call(ctx, prompt)
	if err != nil {
		return emptyContribution(SourceLLM, OutcomeError, err)
	}

	var spans []Span
	appendSpan := func(f Field, v string) {
		if v = normalizeSentinel(v); v != "" {
			spans = append(spans, Span{Field: f, Value: v, Source: SourceLLM, Confidence: llmConfidence})
		}
	}
	appendSpan(FieldEventName, fields.EventName)
	appendSpan(FieldDate, fields.Date)
	appendSpan(FieldTime, fields.Time)
	appendSpan(FieldVenue, fields.Venue)

	if len(spans) == 0 {
		return emptyContribution(SourceLLM, OutcomeEmpty, nil)
	}
	return Contribution{
		Source:     SourceLLM,
		Outcome:    OutcomeSuccess,
		Spans:      spans,
		Confidence: llmConfidence,
	}
}

// call issues the generation request and parses the structured response
// defensively: code fences are stripped, anything unparsable is an error.
func (l *LLMExtractor) call(ctx context.Context, prompt string) (llmFields, error) {
	req := llmRequest{
		SystemInstruction: llmSystemInstruction,
		Prompt:            prompt,
		Temperature:       0,
		ResponseMIMEType:  "application/json",
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return llmFields{}, fmt.Errorf("marshal llm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(payload))
	if err != nil {
		return llmFields{}, fmt.Errorf("create llm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return llmFields{}, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return llmFields{}, fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llmFields{}, fmt.Errorf("llm service status %d: %s", resp.StatusCode, truncateForError(body))
	}

	return parseLLMFields(body)
}

// parseLLMFields unwraps code fences and backticks that models sometimes
// add despite the JSON-only instruction, then unmarshals the four-key
// object.
func parseLLMFields(body []byte) (llmFields, error) {
	text := strings.TrimSpace(string(body))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.Trim(strings.TrimSpace(text), "`")

	var fields llmFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return llmFields{}, fmt.Errorf("malformed llm response: %w", err)
	}
	return fields, nil
}
