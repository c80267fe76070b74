package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		marker string
	}{
		{"email", "write to alex@example.com tonight", "[REDACTED_EMAIL]"},
		{"phone", "my sister is on +1 (555) 123-9876", "[REDACTED_PHONE]"},
		{"card", "I paid with 4242 4242 4242 4242 and regret it", "[REDACTED_CARD]"},
	}
	for _, tc := range cases {
		out, changed := RedactPII(tc.input)
		if !changed {
			t.Fatalf("%s: changed = false, want true", tc.name)
		}
		if !strings.Contains(out, tc.marker) {
			t.Fatalf("%s: output missing marker %q: %q", tc.name, tc.marker, out)
		}
	}

	if out, changed := RedactPII("I had a rough day at work"); changed || out != "I had a rough day at work" {
		t.Fatalf("RedactPII() changed plain text: %q", out)
	}
}

func TestLogSafeClips(t *testing.T) {
	got := LogSafe("reach me at sam@example.com please", 12)
	if got != "reach me at …" {
		t.Fatalf("LogSafe() = %q", got)
	}
	if got := LogSafe("short", 0); got != "short" {
		t.Fatalf("LogSafe(max=0) = %q, want unchanged", got)
	}
}
