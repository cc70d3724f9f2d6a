package server

import (
	"context"
	"sync"
	"time"

	"github.com/parchlabs/mailevent/internal/extract"
)

// defaultAttendees seeds every accepted event record. Attendance tracking
// happens downstream of extraction, so new records always start at one.
const defaultAttendees = 1

// Record is one accepted event, ready for downstream persistence.
type Record struct {
	ID         string         `json:"id"`
	MessageID  string         `json:"message_id"`
	Result     extract.Result `json:"result"`
	Attendees  int            `json:"attendees"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Sink receives accepted event records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Store(ctx context.Context, rec Record) error
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Store(context.Context, Record) error { return nil }

// MemorySink keeps records in memory, oldest first.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Store implements Sink.
func (s *MemorySink) Store(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the stored records.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
