package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIILeavesPlainTextAlone(t *testing.T) {
	out, changed := RedactPII("how are you today?")
	if changed || out != "how are you today?" {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
}

func TestRedactSecrets(t *testing.T) {
	in := `Post "https://api.deepseek.com/v1/chat/completions": Authorization: Bearer abc.def-123 key sk-live_0123456789abcdef`
	out := RedactSecrets(in)
	if strings.Contains(out, "abc.def-123") || strings.Contains(out, "sk-live_0123456789abcdef") {
		t.Fatalf("secrets leaked: %q", out)
	}
	if !strings.Contains(out, "[REDACTED_KEY]") || !strings.Contains(out, "Bearer [REDACTED]") {
		t.Fatalf("missing markers: %q", out)
	}
	if !strings.Contains(out, "api.deepseek.com") {
		t.Fatalf("host should survive redaction: %q", out)
	}
}
