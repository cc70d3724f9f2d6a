package extract

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parchlabs/mailevent/internal/normalize"
)

// gateFieldCount is the completeness gate: later strategies run only
// while fewer than this many of {date, time, venue} are populated.
const gateFieldCount = 2

// Coordinator orchestrates the strategy cascade. Strategies run
// sequentially; each gate consults the merged field count so far, and the
// merge is strictly first-write-wins in invocation order. A strategy
// failure is an empty contribution, never a failed extraction.
type Coordinator struct {
	cfg    Config
	invite Strategy
	rules  Strategy
	ner    Strategy
	llm    Strategy
	logger *zap.Logger
}

// NewCoordinator wires the ensemble. The remote strategies may be nil
// (or disabled via config), leaving a rules-plus-invite pipeline.
// Configuration problems are fatal here, at construction.
func NewCoordinator(cfg Config, invite, rules, ner, llm Strategy, logger *zap.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:    cfg,
		invite: invite,
		rules:  rules,
		ner:    ner,
		llm:    llm,
		logger: logger.Named("coordinator"),
	}, nil
}

// IsEvent applies the configured field-count threshold to a result.
func (c *Coordinator) IsEvent(res Result) bool {
	return res.FieldCount >= c.cfg.FieldCountThreshold
}

// mergeState accumulates the per-call pipeline state. It exists for one
// extraction call only.
type mergeState struct {
	fields       map[Field]string
	lockDateTime bool
	order        []Source
	confidence   map[Source]float64
}

func newMergeState() *mergeState {
	return &mergeState{
		fields:     make(map[Field]string, 4),
		confidence: make(map[Source]float64, 4),
	}
}

// fieldCount counts populated values among date, time and venue. The
// event name never participates in gating or the threshold.
func (m *mergeState) fieldCount() int {
	n := 0
	for _, f := range []Field{FieldDate, FieldTime, FieldVenue} {
		if m.fields[f] != "" {
			n++
		}
	}
	return n
}

// absorb merges one contribution. A field set by an earlier strategy is
// never overwritten, and once the invite supplies a date, later
// strategies cannot touch date or time at all.
func (m *mergeState) absorb(contrib Contribution) {
	contributed := false
	for _, span := range contrib.Spans {
		span = canonicalizeSpan(span)
		if span.Value == "" {
			continue
		}
		if m.lockDateTime && contrib.Source != SourceInvite &&
			(span.Field == FieldDate || span.Field == FieldTime) {
			continue
		}
		if m.fields[span.Field] != "" {
			continue
		}
		m.fields[span.Field] = span.Value
		contributed = true
	}
	if !contributed {
		return
	}
	if contrib.Source == SourceInvite && m.fields[FieldDate] != "" {
		m.lockDateTime = true
	}
	m.order = append(m.order, contrib.Source)
	m.confidence[contrib.Source] = contrib.Confidence
}

// Extract runs the full cascade for one message and always returns a
// well-formed result. Completely undecodable input produces an
// empty-field result with confidence zero.
func (c *Coordinator) Extract(ctx context.Context, msg Message) Result {
	in := Input{
		Subject: msg.Subject,
		Text:    normalize.Message(msg.BodyParts),
		Invite:  msg.CalendarInvite,
	}
	state := newMergeState()

	if strings.TrimSpace(msg.CalendarInvite) != "" && c.invite != nil {
		c.runStage(ctx, c.invite, in, state)
	}

	for i, s := range c.sequence() {
		if i > 0 && state.fieldCount() >= gateFieldCount {
			strategySkipped.WithLabelValues(string(s.Name())).Inc()
			c.logger.Debug("strategy gated off",
				zap.String("strategy", string(s.Name())),
				zap.Int("field_count", state.fieldCount()))
			continue
		}
		c.runStage(ctx, s, in, state)
	}

	return c.finalize(state)
}

// sequence returns the post-invite invocation order. NER stays the
// last-resort strategy in both modes.
func (c *Coordinator) sequence() []Strategy {
	ner := c.ner
	if !c.cfg.NEREnabled {
		ner = nil
	}
	llm := c.llm
	if !c.cfg.LLMEnabled {
		llm = nil
	}

	var raw []Strategy
	if c.cfg.StrategyOrder == OrderLLMFirst {
		raw = []Strategy{llm, c.rules, ner}
	} else {
		raw = []Strategy{c.rules, ner, llm}
	}
	seq := make([]Strategy, 0, len(raw))
	for _, s := range raw {
		if s != nil {
			seq = append(seq, s)
		}
	}
	return seq
}

// runStage invokes one strategy and merges its contribution.
func (c *Coordinator) runStage(ctx context.Context, s Strategy, in Input, state *mergeState) {
	start := time.Now()
	contrib := s.Extract(ctx, in)
	strategyDuration.WithLabelValues(string(s.Name()), contrib.Outcome.String()).
		Observe(time.Since(start).Seconds())

	if contrib.Outcome == OutcomeError {
		c.logger.Warn("strategy unavailable, continuing without it",
			zap.String("strategy", string(s.Name())),
			zap.Error(contrib.Err))
		return
	}

	state.absorb(contrib)

	// The NER tiers depend on the post-merge field count.
	if contrib.Source == SourceNER {
		if _, ok := state.confidence[SourceNER]; ok && state.fieldCount() >= gateFieldCount {
			state.confidence[SourceNER] = nerConfidenceHigh
		}
	}

	c.logger.Debug("strategy merged",
		zap.String("strategy", string(s.Name())),
		zap.String("outcome", contrib.Outcome.String()),
		zap.Int("field_count", state.fieldCount()))
}

// finalize recomputes the field count from the merged fields, picks the
// maximum contributing confidence, and assembles provenance in
// invocation order.
func (c *Coordinator) finalize(state *mergeState) Result {
	res := Result{
		EventName:  state.fields[FieldEventName],
		Date:       state.fields[FieldDate],
		Time:       state.fields[FieldTime],
		Venue:      state.fields[FieldVenue],
		FieldCount: state.fieldCount(),
	}

	names := make([]string, 0, len(state.order))
	for _, src := range state.order {
		names = append(names, string(src))
		if conf := state.confidence[src]; conf > res.Confidence {
			res.Confidence = conf
		}
	}
	res.Provenance = strings.Join(names, "+")

	extractionsTotal.WithLabelValues(res.Provenance, boolLabel(c.IsEvent(res))).Inc()
	return res
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
