package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
		retries  int
	}{
		{"yes", "y\n", true, 0},
		{"full yes uppercase", "YES\n", true, 0},
		{"no", "n\n", false, 0},
		{"invalid then yes", "maybe\ny\n", true, 1},
		{"end of input", "", false, 0},
		{"answer without newline", "y", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := PromptYesNo(strings.NewReader(tt.input), &out, "Reset queue?")
			if got != tt.expected {
				t.Errorf("PromptYesNo() = %v, want %v", got, tt.expected)
			}
			if n := strings.Count(out.String(), "Please enter y or n"); n != tt.retries {
				t.Errorf("got %d re-prompts, want %d", n, tt.retries)
			}
			if !strings.Contains(out.String(), "Reset queue? (y/n): ") {
				t.Errorf("question not printed: %q", out.String())
			}
		})
	}
}
