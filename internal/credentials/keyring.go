package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringServicePrefix is the prefix for all fieldsync keyring entries
	KeyringServicePrefix = "fieldsync"
)

// ErrNotFound is returned when no token is stored for the server and rider
var ErrNotFound = errors.New("token not found in keyring")

// getServiceName returns the keyring service name for a task server host
func getServiceName(serverHost string) string {
	return fmt.Sprintf("%s-%s", KeyringServicePrefix, serverHost)
}

// Set stores an API token in the OS keyring
func Set(serverHost, riderID, token string) error {
	if serverHost == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if riderID == "" {
		return fmt.Errorf("rider id cannot be empty")
	}
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if err := keyring.Set(getServiceName(serverHost), riderID, token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// Get retrieves an API token from the OS keyring
func Get(serverHost, riderID string) (string, error) {
	if serverHost == "" {
		return "", fmt.Errorf("server host cannot be empty")
	}
	if riderID == "" {
		return "", fmt.Errorf("rider id cannot be empty")
	}

	token, err := keyring.Get(getServiceName(serverHost), riderID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w for server %q and rider %q", ErrNotFound, serverHost, riderID)
		}
		return "", fmt.Errorf("failed to retrieve token from keyring: %w", err)
	}
	return token, nil
}

// Delete removes an API token from the OS keyring
func Delete(serverHost, riderID string) error {
	if serverHost == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if riderID == "" {
		return fmt.Errorf("rider id cannot be empty")
	}

	if err := keyring.Delete(getServiceName(serverHost), riderID); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w for server %q and rider %q", ErrNotFound, serverHost, riderID)
		}
		return fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return nil
}

// IsAvailable checks if the keyring is accessible
func IsAvailable() bool {
	// A missing entry proves the keyring answered
	_, err := keyring.Get(KeyringServicePrefix+"-keyring-test", "test")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
