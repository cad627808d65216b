package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether BIOLINK_ENV selects development mode, where the
// presence-only token verifier and the default config are allowed.
func IsDev() bool {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("BIOLINK_ENV")))
	return env == "development" || env == "dev"
}
