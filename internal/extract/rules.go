package extract

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// proximityWindow is how many lines around a matched date are searched
// for time tokens and venue keywords.
const proximityWindow = 3

// Rule-extractor confidence tiers.
const (
	ruleConfidenceBoth = 0.85
	ruleConfidenceOne  = 0.6
	ruleConfidenceNone = 0.4
)

var (
	dateISORe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dateDMYRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`)
	dateMDYRe = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dateNumRe = regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{2,4})\b`)

	hourRangeRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5]\d))?\s*(?:-|–|—|to)\s*\d{1,2}(?::[0-5]\d)?\s*([ap])\.?m\.?\b`)
	time12Re    = regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5]\d))?\s*([ap])\.?m\.?\b`)
	time24Re    = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)

	venueLabelRe = regexp.MustCompile(`(?i)^\s*(?:venue|where|location|address|place)\s*[:\-]\s*(.+)$`)
	trailingAtRe = regexp.MustCompile(`(?i)\s*(?:,|at|from|on)?\s*\d{1,2}(?::[0-5]\d\s*(?:[ap]\.?m\.?)?|\s*[ap]\.?m\.?)\s*$`)

	subjectTagRe    = regexp.MustCompile(`\[[^\]]*\]`)
	subjectPrefixRe = regexp.MustCompile(`(?i)^(re|fwd?|fw)\s*:\s*`)
)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// venueKeywords are nouns that usually name a place in event mail.
var venueKeywords = map[string]struct{}{
	"hall": {}, "auditorium": {}, "room": {}, "centre": {}, "center": {},
	"stadium": {}, "arena": {}, "theatre": {}, "theater": {}, "hotel": {},
	"campus": {}, "park": {}, "club": {}, "library": {}, "ballroom": {},
	"grounds": {}, "pavilion": {}, "lounge": {}, "cafe": {}, "restaurant": {},
}

// venueStopwords end the trailing-token expansion after a venue keyword.
var venueStopwords = map[string]struct{}{
	"at": {}, "on": {}, "from": {}, "by": {}, "with": {}, "for": {},
	"starting": {}, "between": {}, "until": {},
}

// RuleExtractor finds dates, times and venues with regular expressions and
// proximity heuristics over the normalized text. Natural-language
// expressions ("next Friday") fall back to the when parser.
type RuleExtractor struct {
	parser *when.Parser
	now    func() time.Time
}

// RuleOption configures a RuleExtractor.
type RuleOption func(*RuleExtractor)

// WithClock substitutes the reference clock used for the future-date
// preference. Tests inject a fixed instant here.
func WithClock(now func() time.Time) RuleOption {
	return func(r *RuleExtractor) { r.now = now }
}

// NewRuleExtractor creates the rule-based strategy.
func NewRuleExtractor(opts ...RuleOption) *RuleExtractor {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r := &RuleExtractor{
		parser: w,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements Strategy.
func (r *RuleExtractor) Name() Source { return SourceRule }

// dateCandidate is one located date expression. Natural-language matches
// that embed a time-of-day carry it in clock.
type dateCandidate struct {
	when  time.Time
	line  int
	clock string
}

// Extract implements Strategy. The subject participates as line zero so
// announcement-style subjects contribute dates and times.
func (r *RuleExtractor) Extract(ctx context.Context, in Input) Contribution {
	lines := make([]string, 0, len(in.Text.Lines)+1)
	if s := strings.TrimSpace(in.Subject); s != "" {
		lines = append(lines, s)
	}
	lines = append(lines, in.Text.Lines...)
	if len(lines) == 0 {
		return emptyContribution(SourceRule, OutcomeEmpty, nil)
	}

	date, dateLine, nlClock := r.findDate(lines)
	clock := r.findTime(lines, dateLine)
	if clock == "" {
		clock = nlClock
	}
	venue := r.findVenue(lines, dateLine)
	name := eventNameFromSubject(in.Subject)

	confidence := ruleConfidenceNone
	switch {
	case date != "" && clock != "":
		confidence = ruleConfidenceBoth
	case date != "" || clock != "":
		confidence = ruleConfidenceOne
	}

	var spans []Span
	appendSpan := func(f Field, v string) {
		if v != "" {
			spans = append(spans, Span{Field: f, Value: v, Source: SourceRule, Confidence: confidence})
		}
	}
	appendSpan(FieldEventName, name)
	appendSpan(FieldDate, date)
	appendSpan(FieldTime, clock)
	appendSpan(FieldVenue, venue)

	if len(spans) == 0 {
		return emptyContribution(SourceRule, OutcomeEmpty, nil)
	}
	return Contribution{
		Source:     SourceRule,
		Outcome:    OutcomeSuccess,
		Spans:      spans,
		Confidence: confidence,
	}
}

// findDate locates the most plausible date expression. Among all
// candidates the first future-dated one wins; if none lie in the future
// the first match is kept. Returns the canonical date, its line index
// (-1 when nothing matched), and any time-of-day the candidate embedded.
func (r *RuleExtractor) findDate(lines []string) (string, int, string) {
	var candidates []dateCandidate
	for i, line := range lines {
		candidates = append(candidates, r.datesInLine(line, i)...)
	}
	if len(candidates) == 0 {
		if c, ok := r.naturalLanguageDate(lines); ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return "", -1, ""
	}

	today := r.now().Truncate(24 * time.Hour)
	chosen := candidates[0]
	for _, c := range candidates {
		if !c.when.Before(today) {
			chosen = c
			break
		}
	}
	return chosen.when.Format(dateLayout), chosen.line, chosen.clock
}

// datesInLine matches numeric and written date formats in one line.
func (r *RuleExtractor) datesInLine(line string, idx int) []dateCandidate {
	var out []dateCandidate
	add := func(year, month, day int) {
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return
		}
		ts := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		// Reject rollovers like Feb 30.
		if ts.Day() != day || ts.Month() != time.Month(month) {
			return
		}
		out = append(out, dateCandidate{when: ts, line: idx})
	}

	for _, m := range dateISORe.FindAllStringSubmatch(line, -1) {
		add(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	for _, m := range dateDMYRe.FindAllStringSubmatch(line, -1) {
		add(atoi(m[3]), int(monthIndex[strings.ToLower(m[2])]), atoi(m[1]))
	}
	for _, m := range dateMDYRe.FindAllStringSubmatch(line, -1) {
		add(atoi(m[3]), int(monthIndex[strings.ToLower(m[1])]), atoi(m[2]))
	}
	for _, m := range dateNumRe.FindAllStringSubmatch(line, -1) {
		day, month, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if year < 100 {
			year += 2000
		}
		// Day-first by default; swap when that is impossible.
		if month > 12 && day <= 12 {
			day, month = month, day
		}
		add(year, month, day)
	}
	return out
}

// naturalLanguageDate asks the when parser for relative expressions the
// regexes cannot see ("tomorrow", "next Friday at 5pm"). Parsing starts
// from a midnight base, so date-only matches stay at 00:00 and any other
// clock value means the match embedded a time-of-day.
func (r *RuleExtractor) naturalLanguageDate(lines []string) (dateCandidate, bool) {
	base := r.now().Truncate(24 * time.Hour)
	for i, line := range lines {
		res, err := r.parser.Parse(line, base)
		if err != nil || res == nil {
			continue
		}
		c := dateCandidate{when: res.Time.Truncate(24 * time.Hour), line: i}
		if hour, minute, _ := res.Time.Clock(); hour != 0 || minute != 0 {
			c.clock = fmt.Sprintf("%02d:%02d", hour, minute)
		}
		return c, true
	}
	return dateCandidate{}, false
}

// findTime searches the date's own line first, then a bounded window of
// nearby lines, for a clock token or an hour range. Without a located
// date the whole text is scanned.
func (r *RuleExtractor) findTime(lines []string, dateLine int) string {
	for _, i := range searchOrder(len(lines), dateLine) {
		if clock := timeInLine(lines[i]); clock != "" {
			return clock
		}
	}
	return ""
}

// timeInLine extracts and canonicalizes the first clock token in a line.
// Hour ranges ("4-6pm") resolve to their start.
func timeInLine(line string) string {
	if m := hourRangeRe.FindStringSubmatch(line); m != nil {
		minute := 0
		if m[2] != "" {
			minute = atoi(m[2])
		}
		return clockFrom12(atoi(m[1]), minute, m[3])
	}
	if m := time12Re.FindStringSubmatch(line); m != nil {
		minute := 0
		if m[2] != "" {
			minute = atoi(m[2])
		}
		return clockFrom12(atoi(m[1]), minute, m[3])
	}
	if m := time24Re.FindStringSubmatch(line); m != nil {
		return fmt.Sprintf("%02d:%02d", atoi(m[1]), atoi(m[2]))
	}
	return ""
}

// findVenue prefers explicitly labeled lines, then keyword-anchored
// phrases anywhere in the text, scanning the proximity window around the
// date line before the remaining lines.
func (r *RuleExtractor) findVenue(lines []string, dateLine int) string {
	for _, line := range lines {
		if m := venueLabelRe.FindStringSubmatch(line); m != nil {
			if v := cleanVenue(m[1]); v != "" {
				return v
			}
		}
	}
	order := searchOrder(len(lines), dateLine)
	scanned := make(map[int]bool, len(order))
	for _, i := range order {
		scanned[i] = true
		if v := venuePhrase(lines[i]); v != "" {
			return v
		}
	}
	for i := range lines {
		if scanned[i] {
			continue
		}
		if v := venuePhrase(lines[i]); v != "" {
			return v
		}
	}
	return ""
}

// venuePhrase anchors on a venue keyword and expands to neighboring
// tokens: preceding capitalized words (the proper-noun part of "Global
// Sustainability Center") and up to five trailing tokens.
func venuePhrase(line string) string {
	tokens := strings.Fields(line)
	for i, tok := range tokens {
		word := strings.ToLower(strings.Trim(tok, ".,;:!?()"))
		if _, ok := venueKeywords[word]; !ok {
			continue
		}

		start := i
		for start > 0 && i-start < 4 && isProperToken(tokens[start-1]) {
			start--
		}
		end := i + 1
		for end < len(tokens) && end-i-1 < 5 {
			raw := tokens[end]
			next := strings.ToLower(strings.Trim(raw, ".,;:!?()"))
			if next == "" {
				break
			}
			if _, stop := venueStopwords[next]; stop {
				break
			}
			if !isProperToken(raw) && !numericDigit.MatchString(next) {
				break
			}
			end++
			// Punctuation that ended a token also ends the phrase.
			if strings.ContainsAny(raw, ".,;") {
				break
			}
		}

		phrase := strings.Join(tokens[start:end], " ")
		if v := cleanVenue(phrase); v != "" {
			return v
		}
	}
	return ""
}

// isProperToken reports whether a token looks like part of a proper noun.
func isProperToken(tok string) bool {
	trimmed := strings.Trim(tok, ".,;:!?()'\"")
	if trimmed == "" {
		return false
	}
	first := rune(trimmed[0])
	return first >= 'A' && first <= 'Z'
}

// cleanVenue strips time fragments and punctuation that leaked into a
// venue phrase.
func cleanVenue(v string) string {
	v = strings.TrimSpace(v)
	for {
		stripped := trailingAtRe.ReplaceAllString(v, "")
		stripped = strings.TrimRight(strings.TrimSpace(stripped), ".,;:-")
		if stripped == v {
			break
		}
		v = stripped
	}
	if len(v) < 2 {
		return ""
	}
	return v
}

// searchOrder yields line indexes for proximity searches: the anchor line,
// then the window around it; without an anchor, every line in order.
func searchOrder(n, anchor int) []int {
	if anchor < 0 {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	order := []int{anchor}
	for d := 1; d <= proximityWindow; d++ {
		if anchor-d >= 0 {
			order = append(order, anchor-d)
		}
		if anchor+d < n {
			order = append(order, anchor+d)
		}
	}
	return order
}

// eventNameFromSubject turns a subject line into an event name: reply and
// forward prefixes go, bracketed tags go, and a trailing " - <date...>"
// segment is cut.
func eventNameFromSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		next := subjectPrefixRe.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = strings.TrimSpace(next)
	}
	s = strings.TrimSpace(subjectTagRe.ReplaceAllString(s, ""))

	if idx := strings.Index(s, " - "); idx > 0 {
		suffix := s[idx+3:]
		if dateISORe.MatchString(suffix) || dateDMYRe.MatchString(suffix) ||
			dateMDYRe.MatchString(suffix) || dateNumRe.MatchString(suffix) {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
