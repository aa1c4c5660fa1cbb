package credentials

import (
	"os"
	"strings"
)

// TokenEnvVar holds the API token when the keyring is not used
const TokenEnvVar = "FIELDSYNC_API_TOKEN"

// GetToken retrieves the API token from the environment
func GetToken() string {
	return strings.TrimSpace(os.Getenv(TokenEnvVar))
}
