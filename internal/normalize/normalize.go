// Package normalize turns raw email bodies into plain text suitable for
// entity extraction. It selects the best body part from a MIME tree,
// strips HTML markup, and removes quoted replies and forwarded content
// so only the sender's original text remains.
package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BodyPart is one decoded MIME part of an email body. Multipart containers
// carry their children in Parts and have empty Content.
type BodyPart struct {
	MIMEType string     `json:"mime_type"`
	Content  string     `json:"data"`
	Parts    []BodyPart `json:"parts,omitempty"`
}

// Text is the normalized view of a message body. Lines preserves line
// boundaries for proximity heuristics; PlainText is the joined form.
type Text struct {
	PlainText string
	Lines     []string
}

// Empty reports whether normalization produced no usable text.
func (t Text) Empty() bool {
	return strings.TrimSpace(t.PlainText) == ""
}

var (
	quoteMarkerRe  = regexp.MustCompile(`^\s*>`)
	onWroteRe      = regexp.MustCompile(`(?i)^on .{0,120} wrote:\s*$`)
	forwardRe      = regexp.MustCompile(`(?i)^(-{2,}\s*(original message|forwarded message)\s*-{2,}|-{5,}\s*forwarded .*|begin forwarded message:)`)
	// "Date:" is deliberately absent: event announcements use it for the
	// event date, which is exactly the signal extraction needs.
	headerLineRe   = regexp.MustCompile(`(?i)^(from|to|cc|bcc|subject|sent|reply-to):\s`)
	horizontalWsRe = regexp.MustCompile(`[ \t\x{00a0}]+`)
)

// Message selects and normalizes the best body part from a MIME tree.
// text/plain parts win over text/html; nested multiparts are searched
// depth-first and the first non-empty qualifying part is used.
// Undecodable input yields an empty Text, never an error.
func Message(parts []BodyPart) Text {
	if plain := findPart(parts, "text/plain"); plain != "" {
		return FromPlain(plain)
	}
	if htmlBody := findPart(parts, "text/html"); htmlBody != "" {
		return FromPlain(StripHTML(htmlBody))
	}
	return Text{}
}

// findPart walks the part tree depth-first and returns the first non-empty
// part of the wanted MIME type.
func findPart(parts []BodyPart, mimeType string) string {
	for _, p := range parts {
		mt := strings.ToLower(strings.TrimSpace(p.MIMEType))
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		if mt == mimeType && strings.TrimSpace(p.Content) != "" {
			return p.Content
		}
		if strings.HasPrefix(mt, "multipart/") || len(p.Parts) > 0 {
			if found := findPart(p.Parts, mimeType); found != "" {
				return found
			}
		}
	}
	return ""
}

// FromPlain normalizes an already-plain body: drops quoted replies,
// truncates at forward markers, removes leaked header lines, and
// collapses horizontal whitespace per line.
func FromPlain(body string) Text {
	if !utf8.ValidString(body) {
		return Text{}
	}

	var lines []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if onWroteRe.MatchString(line) || forwardRe.MatchString(line) {
			break
		}
		if quoteMarkerRe.MatchString(line) || headerLineRe.MatchString(line) {
			continue
		}
		line = strings.TrimSpace(horizontalWsRe.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return Text{
		PlainText: strings.Join(lines, "\n"),
		Lines:     lines,
	}
}

// StripHTML converts an HTML body to plain text. Script and style subtrees
// are removed entirely, block-level and line-break tags become newlines,
// and all remaining tags are dropped.
func StripHTML(body string) string {
	if !utf8.ValidString(body) {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Head:
				return
			case atom.Br:
				sb.WriteByte('\n')
			case atom.P, atom.Div, atom.Li, atom.Tr, atom.Table,
				atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				sb.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.P, atom.Div, atom.Li, atom.Tr,
				atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				sb.WriteByte('\n')
			}
		}
	}
	walk(doc)

	return strings.TrimSpace(sb.String())
}
