package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Canonical formats for merged field values.
const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var (
	ordinalRe    = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	clock12Re    = regexp.MustCompile(`(?i)^(\d{1,2})(?::([0-5]\d))?\s*([ap])\.?m\.?$`)
	clock24Re    = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)(?::[0-5]\d)?$`)
	numericDigit = regexp.MustCompile(`^\d+$`)
)

// canonDateLayouts are tried in order against whole candidate strings
// coming back from the NER and LLM strategies.
var canonDateLayouts = []string{
	"2006-01-02",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
}

// CanonicalDate converts a free-form date string to YYYY-MM-DD.
// Unparsable input yields the empty string (treated as not extracted, the
// canonical-format invariant admits no pass-through of raw values).
func CanonicalDate(raw string) string {
	s := strings.TrimSpace(ordinalRe.ReplaceAllString(raw, "$1"))
	if s == "" {
		return ""
	}
	for _, layout := range canonDateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Format(dateLayout)
		}
	}
	return ""
}

// CanonicalTime converts a clock string to 24-hour HH:MM. Both 12-hour
// ("2:30 PM", "12 am") and 24-hour ("14:30") forms are accepted.
func CanonicalTime(raw string) string {
	s := strings.TrimSpace(raw)
	if m := clock12Re.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		return clockFrom12(hour, minute, m[3])
	}
	if m := clock24Re.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%02d:%02d", hour, minute)
	}
	return ""
}

// clockFrom12 applies AM/PM disambiguation. Noon and midnight are the
// edge cases: 12 PM is 12:00, 12 AM is 00:00.
func clockFrom12(hour, minute int, meridiem string) string {
	if hour < 1 || hour > 12 || minute < 0 || minute > 59 {
		return ""
	}
	switch strings.ToLower(meridiem[:1]) {
	case "p":
		if hour != 12 {
			hour += 12
		}
	case "a":
		if hour == 12 {
			hour = 0
		}
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// canonicalizeSpan rewrites date/time span values into canonical form.
// Values that cannot be canonicalized are emptied so they never reach the
// merged result in a non-canonical shape.
func canonicalizeSpan(s Span) Span {
	s.Value = normalizeSentinel(s.Value)
	if s.Value == "" {
		return s
	}
	switch s.Field {
	case FieldDate:
		s.Value = CanonicalDate(s.Value)
	case FieldTime:
		s.Value = CanonicalTime(s.Value)
	}
	return s
}
