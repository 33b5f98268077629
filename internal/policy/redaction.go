// Package policy masks sensitive text before it leaves the process, either
// into a stored transcript or into a log line.
package policy

import "regexp"

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	apiKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`)
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-~+/]+=*`)
)

type rule struct {
	pattern *regexp.Regexp
	marker  string
}

// Card numbers run before phone numbers so long digit runs are not
// classified as phones.
var piiRules = []rule{
	{emailPattern, "[REDACTED_EMAIL]"},
	{cardPattern, "[REDACTED_CARD]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

var secretRules = []rule{
	{bearerPattern, "Bearer [REDACTED]"},
	{apiKeyPattern, "[REDACTED_KEY]"},
}

// RedactPII masks emails, card numbers and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	return apply(input, piiRules)
}

// RedactSecrets masks provider API keys and bearer tokens. Completion errors
// pass through it before they are logged or shown to the user.
func RedactSecrets(input string) string {
	out, _ := apply(input, secretRules)
	return out
}

func apply(input string, rules []rule) (string, bool) {
	out := input
	changed := false
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		if next != out {
			changed = true
			out = next
		}
	}
	return out, changed
}
