package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("Failed to get home directory: %v", err)
	}
	t.Setenv("FIELDSYNC_TEST_DIR", "/srv/fieldsync")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"tilde only", "~", homeDir},
		{"tilde with path", "~/fieldsync/tasks.db", filepath.Join(homeDir, "fieldsync", "tasks.db")},
		{"env var", "$FIELDSYNC_TEST_DIR/tasks.db", "/srv/fieldsync/tasks.db"},
		{"absolute", "/var/lib/fieldsync.db", "/var/lib/fieldsync.db"},
		{"cleaned", "/var/lib/../lib/fieldsync.db", "/var/lib/fieldsync.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandPath(tt.input)
			if err != nil {
				t.Fatalf("ExpandPath(%q) error = %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
