package notification

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// sanitizer normalizes outbound text and strips control characters, so a
// crafted finding title cannot smuggle terminal escapes or zero-width tricks
// into chat clients.
var sanitizer = transform.Chain(
	norm.NFKC,
	runes.Remove(runes.Predicate(func(r rune) bool {
		return unicode.IsControl(r) && r != '\n' && r != '\t'
	})),
)

// Sanitize cleans a string destined for an external channel.
func Sanitize(s string) string {
	out, _, err := transform.String(sanitizer, s)
	if err != nil {
		// Invalid UTF-8 input; fall back to dropping control runes only.
		return strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && r != '\n' && r != '\t' {
				return -1
			}
			return r
		}, s)
	}
	return out
}

// sanitizeMessage returns a copy of the message with every text field cleaned.
func sanitizeMessage(msg Message) Message {
	msg.Title = Sanitize(msg.Title)
	msg.Body = Sanitize(msg.Body)
	msg.FooterText = Sanitize(msg.FooterText)
	if len(msg.Fields) > 0 {
		fields := make(map[string]string, len(msg.Fields))
		for k, v := range msg.Fields {
			fields[Sanitize(k)] = Sanitize(v)
		}
		msg.Fields = fields
	}
	return msg
}
