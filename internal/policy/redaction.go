package policy

import (
	"regexp"

	"github.com/ent0n29/ragent/internal/session"
)

type rule struct {
	marker  string
	pattern *regexp.Regexp
}

// Cards run before phones so long digit runs are not reported as phone numbers.
var rules = []rule{
	{marker: "[REDACTED_EMAIL]", pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{marker: "[REDACTED_CARD]", pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	{marker: "[REDACTED_PHONE]", pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)},
}

// textFields are the event fields that may echo what the user typed.
var textFields = map[string]bool{
	"query": true,
	"error": true,
}

// RedactPII masks email addresses, card numbers and phone numbers.
func RedactPII(input string) (string, bool) {
	out := input
	for _, r := range rules {
		out = r.pattern.ReplaceAllString(out, r.marker)
	}
	return out, out != input
}

// RedactTurn masks user-derived text in a turn: its content and the search
// query on tool calls and tool results. Hits are corpus text and are kept.
func RedactTurn(t session.Turn) (session.Turn, bool) {
	var changed, c bool
	t.Content, changed = RedactPII(t.Content)
	if t.ToolCall != nil {
		call := *t.ToolCall
		call.Query, c = RedactPII(call.Query)
		changed = changed || c
		t.ToolCall = &call
	}
	if t.ToolResult != nil {
		res := *t.ToolResult
		res.Query, c = RedactPII(res.Query)
		changed = changed || c
		res.Error, c = RedactPII(res.Error)
		changed = changed || c
		t.ToolResult = &res
	}
	return t, changed
}

// RedactField masks value when key names a field that can carry user text.
// Other fields, session IDs included, pass through untouched.
func RedactField(key string, value any) any {
	text, ok := value.(string)
	if !ok || !textFields[key] {
		return value
	}
	out, _ := RedactPII(text)
	return out
}
