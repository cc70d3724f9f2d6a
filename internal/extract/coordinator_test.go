package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parchlabs/mailevent/internal/normalize"
)

// stubStrategy returns a canned contribution and records invocations.
type stubStrategy struct {
	name    Source
	contrib Contribution
	calls   int
	log     *[]Source
}

func (s *stubStrategy) Name() Source { return s.name }

func (s *stubStrategy) Extract(_ context.Context, _ Input) Contribution {
	s.calls++
	if s.log != nil {
		*s.log = append(*s.log, s.name)
	}
	return s.contrib
}

func stubContrib(src Source, conf float64, spans ...Span) Contribution {
	if len(spans) == 0 {
		return emptyContribution(src, OutcomeEmpty, nil)
	}
	return Contribution{Source: src, Outcome: OutcomeSuccess, Spans: spans, Confidence: conf}
}

func sp(f Field, v string) Span {
	return Span{Field: f, Value: v}
}

func emptyStub(src Source) *stubStrategy {
	return &stubStrategy{name: src, contrib: emptyContribution(src, OutcomeEmpty, nil)}
}

func plainMessage(subject, body string) Message {
	return Message{
		Subject:   subject,
		BodyParts: []normalize.BodyPart{{MIMEType: "text/plain", Content: body}},
	}
}

func newTestCoordinator(t *testing.T, cfg Config, invite, rules, ner, llm Strategy) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(cfg, invite, rules, ner, llm, nil)
	require.NoError(t, err)
	return c
}

func TestCoordinator_GateSkipsRemoteStrategies(t *testing.T) {
	rules := &stubStrategy{
		name:    SourceRule,
		contrib: stubContrib(SourceRule, 0.85, sp(FieldDate, "2025-11-19"), sp(FieldTime, "10:00")),
	}
	ner := emptyStub(SourceNER)
	llm := emptyStub(SourceLLM)

	c := newTestCoordinator(t, DefaultConfig(), nil, rules, ner, llm)
	res := c.Extract(context.Background(), plainMessage("Conference", "body"))

	assert.Equal(t, "2025-11-19", res.Date)
	assert.Equal(t, "10:00", res.Time)
	assert.Equal(t, "rule", res.Provenance)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Equal(t, 2, res.FieldCount)
	assert.Zero(t, ner.calls, "ner must be gated off at two fields")
	assert.Zero(t, llm.calls, "llm must be gated off at two fields")
	assert.True(t, c.IsEvent(res))
}

func TestCoordinator_FirstWriteWins(t *testing.T) {
	rules := &stubStrategy{
		name:    SourceRule,
		contrib: stubContrib(SourceRule, 0.6, sp(FieldDate, "2025-11-19")),
	}
	ner := &stubStrategy{
		name:    SourceNER,
		contrib: stubContrib(SourceNER, nerConfidenceLow, sp(FieldDate, "2025-12-01"), sp(FieldVenue, "City Hall")),
	}
	llm := emptyStub(SourceLLM)

	c := newTestCoordinator(t, DefaultConfig(), nil, rules, ner, llm)
	res := c.Extract(context.Background(), plainMessage("Conference", "body"))

	assert.Equal(t, "2025-11-19", res.Date, "the earlier strategy's date must stand")
	assert.Equal(t, "City Hall", res.Venue)
	assert.Equal(t, "rule+ner", res.Provenance)
	assert.Equal(t, nerConfidenceHigh, res.Confidence, "ner reaches the high tier at two merged fields")
	assert.Zero(t, llm.calls)
}

func TestCoordinator_InviteLocksDateAndTime(t *testing.T) {
	invite := &stubStrategy{
		name:    SourceInvite,
		contrib: stubContrib(SourceInvite, 0.9, sp(FieldDate, "2025-08-13")),
	}
	rules := &stubStrategy{
		name: SourceRule,
		contrib: stubContrib(SourceRule, 0.85,
			sp(FieldDate, "2025-09-01"), sp(FieldTime, "18:00"), sp(FieldVenue, "Room 4")),
	}

	c := newTestCoordinator(t, DefaultConfig(), invite, rules, emptyStub(SourceNER), emptyStub(SourceLLM))
	res := c.Extract(context.Background(), Message{
		Subject:        "Team Sync",
		BodyParts:      []normalize.BodyPart{{MIMEType: "text/plain", Content: "body"}},
		CalendarInvite: "BEGIN:VCALENDAR",
	})

	assert.Equal(t, "2025-08-13", res.Date, "invite date is authoritative")
	assert.Empty(t, res.Time, "an invite date locks the time slot too")
	assert.Equal(t, "Room 4", res.Venue)
	assert.Equal(t, "invite+rule", res.Provenance)
}

func TestCoordinator_InviteWithoutDateDoesNotLock(t *testing.T) {
	invite := &stubStrategy{
		name:    SourceInvite,
		contrib: stubContrib(SourceInvite, 0.9, sp(FieldEventName, "Standup")),
	}
	rules := &stubStrategy{
		name:    SourceRule,
		contrib: stubContrib(SourceRule, 0.85, sp(FieldDate, "2025-09-01"), sp(FieldTime, "18:00")),
	}

	c := newTestCoordinator(t, DefaultConfig(), invite, rules, emptyStub(SourceNER), emptyStub(SourceLLM))
	res := c.Extract(context.Background(), Message{
		Subject:        "Standup",
		BodyParts:      []normalize.BodyPart{{MIMEType: "text/plain", Content: "body"}},
		CalendarInvite: "BEGIN:VCALENDAR",
	})

	assert.Equal(t, "2025-09-01", res.Date)
	assert.Equal(t, "18:00", res.Time)
	assert.Equal(t, "invite+rule", res.Provenance)
}

func TestCoordinator_FirstPostInviteStrategyAlwaysRuns(t *testing.T) {
	invite := &stubStrategy{
		name:    SourceInvite,
		contrib: stubContrib(SourceInvite, 1.0, sp(FieldDate, "2025-08-13"), sp(FieldTime, "09:30")),
	}
	rules := emptyStub(SourceRule)
	ner := emptyStub(SourceNER)
	llm := emptyStub(SourceLLM)

	c := newTestCoordinator(t, DefaultConfig(), invite, rules, ner, llm)
	c.Extract(context.Background(), Message{
		Subject:        "Team Sync",
		CalendarInvite: "BEGIN:VCALENDAR",
	})

	assert.Equal(t, 1, rules.calls, "the first post-invite strategy is never gated")
	assert.Zero(t, ner.calls)
	assert.Zero(t, llm.calls)
}

func TestCoordinator_StrategyErrorAbsorbed(t *testing.T) {
	rules := &stubStrategy{
		name:    SourceRule,
		contrib: stubContrib(SourceRule, 0.6, sp(FieldDate, "2025-11-19")),
	}
	ner := &stubStrategy{
		name:    SourceNER,
		contrib: emptyContribution(SourceNER, OutcomeError, context.DeadlineExceeded),
	}
	llm := &stubStrategy{
		name:    SourceLLM,
		contrib: stubContrib(SourceLLM, llmConfidence, sp(FieldVenue, "Main Hall")),
	}

	c := newTestCoordinator(t, DefaultConfig(), nil, rules, ner, llm)
	res := c.Extract(context.Background(), plainMessage("Conference", "body"))

	assert.Equal(t, "2025-11-19", res.Date)
	assert.Equal(t, "Main Hall", res.Venue)
	assert.Equal(t, "rule+llm", res.Provenance, "a failed strategy never appears in provenance")
	assert.Equal(t, llmConfidence, res.Confidence)
}

func TestCoordinator_EmptyInput(t *testing.T) {
	c := newTestCoordinator(t, DefaultConfig(), nil,
		emptyStub(SourceRule), emptyStub(SourceNER), emptyStub(SourceLLM))
	res := c.Extract(context.Background(), Message{})

	assert.Empty(t, res.EventName)
	assert.Empty(t, res.Date)
	assert.Empty(t, res.Provenance)
	assert.Zero(t, res.Confidence)
	assert.Zero(t, res.FieldCount)
	assert.False(t, c.IsEvent(res))
}

func TestCoordinator_LLMFirstOrder(t *testing.T) {
	var order []Source
	rules := &stubStrategy{name: SourceRule, contrib: emptyContribution(SourceRule, OutcomeEmpty, nil), log: &order}
	ner := &stubStrategy{name: SourceNER, contrib: emptyContribution(SourceNER, OutcomeEmpty, nil), log: &order}
	llm := &stubStrategy{name: SourceLLM, contrib: emptyContribution(SourceLLM, OutcomeEmpty, nil), log: &order}

	cfg := DefaultConfig()
	cfg.StrategyOrder = OrderLLMFirst
	c := newTestCoordinator(t, cfg, nil, rules, ner, llm)
	c.Extract(context.Background(), plainMessage("Conference", "body"))

	assert.Equal(t, []Source{SourceLLM, SourceRule, SourceNER}, order)
}

func TestCoordinator_LLMFirstWithLLMDisabled(t *testing.T) {
	var order []Source
	rules := &stubStrategy{
		name:    SourceRule,
		contrib: stubContrib(SourceRule, 0.85, sp(FieldDate, "2025-11-19"), sp(FieldTime, "10:00")),
		log:     &order,
	}
	ner := &stubStrategy{name: SourceNER, contrib: emptyContribution(SourceNER, OutcomeEmpty, nil), log: &order}
	llm := &stubStrategy{name: SourceLLM, contrib: emptyContribution(SourceLLM, OutcomeEmpty, nil), log: &order}

	cfg := DefaultConfig()
	cfg.StrategyOrder = OrderLLMFirst
	cfg.LLMEnabled = false
	c := newTestCoordinator(t, cfg, nil, rules, ner, llm)
	c.Extract(context.Background(), plainMessage("Conference", "body"))

	assert.Equal(t, []Source{SourceRule}, order, "rules become the first, ungated strategy")
	assert.Zero(t, llm.calls)
	assert.Zero(t, ner.calls, "ner gated after rules fill two fields")
}

func TestCoordinator_DisabledNERNeverRuns(t *testing.T) {
	rules := emptyStub(SourceRule)
	ner := emptyStub(SourceNER)
	llm := emptyStub(SourceLLM)

	cfg := DefaultConfig()
	cfg.NEREnabled = false
	c := newTestCoordinator(t, cfg, nil, rules, ner, llm)
	c.Extract(context.Background(), plainMessage("Conference", "body"))

	assert.Zero(t, ner.calls)
	assert.Equal(t, 1, rules.calls)
	assert.Equal(t, 1, llm.calls)
}

func TestCoordinator_CanonicalizesMergedValues(t *testing.T) {
	ner := &stubStrategy{
		name: SourceNER,
		contrib: stubContrib(SourceNER, nerConfidenceLow,
			sp(FieldDate, "19 Nov 2025"), sp(FieldTime, "10 am"), sp(FieldVenue, "City Hall")),
	}

	c := newTestCoordinator(t, DefaultConfig(), nil, emptyStub(SourceRule), ner, emptyStub(SourceLLM))
	res := c.Extract(context.Background(), plainMessage("Conference", "body"))

	assert.Equal(t, "2025-11-19", res.Date)
	assert.Equal(t, "10:00", res.Time)
	assert.Equal(t, "City Hall", res.Venue)
	assert.Equal(t, 3, res.FieldCount)
}

func TestCoordinator_UnparsableValuesDropped(t *testing.T) {
	llm := &stubStrategy{
		name: SourceLLM,
		contrib: stubContrib(SourceLLM, llmConfidence,
			sp(FieldDate, "sometime next week"), sp(FieldTime, "after lunch")),
	}

	c := newTestCoordinator(t, DefaultConfig(), nil, emptyStub(SourceRule), emptyStub(SourceNER), llm)
	res := c.Extract(context.Background(), plainMessage("Conference", "body"))

	assert.Empty(t, res.Date, "uncanonicalizable dates are dropped, not passed through")
	assert.Empty(t, res.Time)
	assert.Empty(t, res.Provenance, "a strategy that contributed nothing stays out of provenance")
	assert.Zero(t, res.Confidence)
}

func TestCoordinator_ThresholdConfigurable(t *testing.T) {
	rules := &stubStrategy{
		name:    SourceRule,
		contrib: stubContrib(SourceRule, 0.85, sp(FieldDate, "2025-11-19"), sp(FieldTime, "10:00")),
	}

	cfg := DefaultConfig()
	cfg.FieldCountThreshold = 3
	c := newTestCoordinator(t, cfg, nil, rules, emptyStub(SourceNER), emptyStub(SourceLLM))
	res := c.Extract(context.Background(), plainMessage("Conference", "body"))

	assert.Equal(t, 2, res.FieldCount)
	assert.False(t, c.IsEvent(res), "two fields fall short of a threshold of three")
}

func TestCoordinator_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrategyOrder = "alphabetical"
	_, err := NewCoordinator(cfg, nil, emptyStub(SourceRule), nil, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
