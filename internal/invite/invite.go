// Package invite parses calendar-invite payloads (iCalendar text) into
// event candidates. The invite is the highest-trust extraction source:
// a date or time taken from DTSTART is authoritative for the message.
package invite

import (
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

// Event holds the fields parsed from the first VEVENT of an invite.
// Empty strings mean the invite did not carry the field.
type Event struct {
	Summary  string
	Date     string // YYYY-MM-DD
	Time     string // HH:MM, empty for date-only DTSTART values
	Location string
}

// Empty reports whether nothing usable was parsed.
func (e Event) Empty() bool {
	return e.Summary == "" && e.Date == "" && e.Time == "" && e.Location == ""
}

// Confidence scores the invite per its completeness: 1.0 when the start
// date plus either a time-of-day or a location is present, 0.9 otherwise.
func (e Event) Confidence() float64 {
	if e.Date != "" && (e.Time != "" || e.Location != "") {
		return 1.0
	}
	return 0.9
}

// DTSTART layouts, most specific first. Date-only values carry no
// time-of-day and must not produce a Time field.
var dtstartLayouts = []struct {
	layout  string
	hasTime bool
}{
	{"20060102T150405Z", true},
	{"20060102T150405", true},
	{"20060102", false},
}

// Parse extracts the first event component from raw iCalendar text.
// Malformed input yields a zero Event; no error escapes to the caller.
func Parse(raw string) Event {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Event{}
	}

	cal, err := ics.ParseCalendar(strings.NewReader(raw))
	if err != nil {
		return Event{}
	}
	events := cal.Events()
	if len(events) == 0 {
		return Event{}
	}
	ev := events[0]

	var out Event
	if p := ev.GetProperty(ics.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}
	if p := ev.GetProperty(ics.ComponentPropertyLocation); p != nil {
		out.Location = strings.TrimSpace(p.Value)
	}
	if p := ev.GetProperty(ics.ComponentPropertyDtStart); p != nil {
		out.Date, out.Time = parseDtstart(strings.TrimSpace(p.Value))
	}
	return out
}

// parseDtstart canonicalizes a DTSTART value. Unparsable values are
// dropped rather than passed through.
func parseDtstart(value string) (date, clock string) {
	for _, l := range dtstartLayouts {
		ts, err := time.Parse(l.layout, value)
		if err != nil {
			continue
		}
		date = ts.Format("2006-01-02")
		if l.hasTime {
			clock = ts.Format("15:04")
		}
		return date, clock
	}
	return "", ""
}
