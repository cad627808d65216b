package adminauth

import (
	"github.com/dgellow/biolink/internal/emailutil"
	"github.com/dgellow/biolink/internal/idp"
)

// IsOwner checks whether a verified principal may perform privileged
// operations. An empty owner list admits every verified principal.
func IsOwner(identity *idp.Identity, owners []string) bool {
	if identity == nil {
		return false
	}
	if len(owners) == 0 {
		return true
	}
	return IsOwnerEmail(identity.Email, owners)
}

// IsOwnerEmail checks if an email is in the configured owner list
func IsOwnerEmail(email string, owners []string) bool {
	normalizedEmail := emailutil.Normalize(email)
	if normalizedEmail == "" {
		return false
	}

	for _, owner := range owners {
		// Owner emails are normalized during config load; normalize again for
		// lists built in code.
		if emailutil.Normalize(owner) == normalizedEmail {
			return true
		}
	}
	return false
}
