package extract

import (
	"context"

	"github.com/parchlabs/mailevent/internal/invite"
)

// InviteStrategy wraps the calendar-invite parser as the highest-trust
// strategy. It runs first in every mode; a date it produces locks the
// date and time fields against later strategies.
type InviteStrategy struct{}

// NewInviteStrategy creates the invite strategy.
func NewInviteStrategy() *InviteStrategy { return &InviteStrategy{} }

// Name implements Strategy.
func (s *InviteStrategy) Name() Source { return SourceInvite }

// Extract implements Strategy. Malformed invite text yields an empty
// contribution, matching the parser's no-raise contract.
func (s *InviteStrategy) Extract(ctx context.Context, in Input) Contribution {
	ev := invite.Parse(in.Invite)
	if ev.Empty() {
		return emptyContribution(SourceInvite, OutcomeEmpty, nil)
	}

	confidence := ev.Confidence()
	var spans []Span
	appendSpan := func(f Field, v string) {
		if v != "" {
			spans = append(spans, Span{Field: f, Value: v, Source: SourceInvite, Confidence: confidence})
		}
	}
	appendSpan(FieldEventName, ev.Summary)
	appendSpan(FieldDate, ev.Date)
	appendSpan(FieldTime, ev.Time)
	appendSpan(FieldVenue, ev.Location)

	return Contribution{
		Source:     SourceInvite,
		Outcome:    OutcomeSuccess,
		Spans:      spans,
		Confidence: confidence,
	}
}
