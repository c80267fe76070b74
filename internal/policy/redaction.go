package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Applied in order. Card numbers go before phones since a card also matches the phone pattern.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers and phone numbers. Utterances are
// written to logs, and users share contact details with a coach.
func RedactPII(input string) (redacted string, changed bool) {
	redacted = input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(redacted, rule.marker)
		if next != redacted {
			changed = true
			redacted = next
		}
	}
	return redacted, changed
}

// LogSafe redacts text and clips it to max runes for structured log fields.
func LogSafe(text string, max int) string {
	out, _ := RedactPII(text)
	if max <= 0 {
		return out
	}
	runes := []rune(out)
	if len(runes) <= max {
		return out
	}
	return string(runes[:max]) + "…"
}
