package relay

import (
	"strings"
	"testing"
)

func TestRedactSecret(t *testing.T) {
	t.Parallel()

	body := `{"error":"invalid token sk-verysecret123 provided"}`
	got := RedactSecret(body, "sk-verysecret123")
	if strings.Contains(got, "sk-verysecret123") {
		t.Errorf("RedactSecret left the credential in %q", got)
	}
	if !strings.Contains(got, "[redacted]") {
		t.Errorf("RedactSecret = %q, want the redaction marker", got)
	}

	if got := RedactSecret("untouched", ""); got != "untouched" {
		t.Errorf("RedactSecret with empty secret = %q, want input unchanged", got)
	}
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", "(not set)"},
		{"short", "****"},
		{"sk-proj-abcdef123456", "sk-p****"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if masked := MaskSecret("sk-proj-abcdef123456"); strings.Contains(masked, "abcdef") {
		t.Errorf("MaskSecret = %q, leaks the key tail", masked)
	}
}
