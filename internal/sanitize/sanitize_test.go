package sanitize

import (
	"strings"
	"testing"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "auth0 subject",
			input:    "auth0|64f1c2aB",
			expected: "auth0_64f1c2ab",
		},
		{
			name:     "google oauth subject",
			input:    "google-oauth2|103547991597142817347",
			expected: "google_oauth2_103547991597142817347",
		},
		{
			name:     "already valid",
			input:    "tenant_42",
			expected: "tenant_42",
		},
		{
			name:     "uppercase",
			input:    "TenantA",
			expected: "tenanta",
		},
		{
			name:     "collapses underscores",
			input:    "a||||b",
			expected: "a_b",
		},
		{
			name:     "trims edge underscores",
			input:    "|tenant|",
			expected: "tenant",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "only invalid characters",
			input:    "!!!",
			expected: "",
		},
		{
			name:     "traversal characters replaced",
			input:    "../../etc/passwd",
			expected: "etc_passwd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Identifier(tt.input)
			if got != tt.expected {
				t.Errorf("Identifier(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIdentifier_LongInput(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := Identifier(long)

	if len(got) > MaxIdentifierLength {
		t.Errorf("Identifier length = %d, want <= %d", len(got), MaxIdentifierLength)
	}

	// Two long subjects sharing a prefix must not collide.
	other := Identifier(long + "b")
	if got == other {
		t.Error("distinct long subjects produced the same identifier")
	}
}

func TestIdentifier_ResultValidates(t *testing.T) {
	inputs := []string{
		"auth0|64f1c2",
		"UPPER case user",
		strings.Repeat("x", 300),
		"windowsstyle\\path|user",
	}

	for _, in := range inputs {
		id := Identifier(in)
		if id == "" {
			t.Fatalf("Identifier(%q) produced empty result", in)
		}
		if err := ValidateTenantID(id); err != nil {
			t.Errorf("Identifier(%q) = %q does not validate: %v", in, id, err)
		}
	}
}
