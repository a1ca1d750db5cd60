package export

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "cats", "cats"},
		{"spaces", "cats of the world", "cats-of-the-world"},
		{"package extension", "cats.tgz", "cats"},
		{"double extension", "cats.tar.gz", "cats"},
		{"document extension", "Cats.YML", "Cats"},
		{"special characters", "cats/../../etc?", "cats....etc"},
		{"collapsed dashes", "a -- b", "a-b"},
		{"trimmed", "  -cats-.  ", "cats"},
		{"only symbols", "/?*", ""},
		{"unicode letters", "café", "café"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}

	if got := sanitizeFilename(strings.Repeat("x", 100)); len(got) != 64 {
		t.Errorf("expected truncation to 64 chars, got %d", len(got))
	}
}

func TestPackageToken(t *testing.T) {
	if got := packageToken("my export"); got != "my-export" {
		t.Errorf("expected caller filename, got %q", got)
	}

	a, b := packageToken(""), packageToken("")
	if len(a) != TokenLength || len(b) != TokenLength {
		t.Errorf("expected %d char tokens, got %q and %q", TokenLength, a, b)
	}
	if a == b {
		t.Errorf("random tokens repeated: %q", a)
	}
}
