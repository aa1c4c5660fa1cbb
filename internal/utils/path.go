package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands ~ and environment variables in configured paths
// (database file, log file). Examples:
//   - "~/fieldsync/tasks.db" -> "/home/rider/fieldsync/tasks.db"
//   - "$XDG_STATE_HOME/fieldsync.log" -> "/home/rider/.local/state/fieldsync.log"
//   - "/var/lib/fieldsync.db" -> unchanged
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	path = os.ExpandEnv(path)

	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		path = filepath.Join(homeDir, path[2:])
	}

	return filepath.Clean(path), nil
}
