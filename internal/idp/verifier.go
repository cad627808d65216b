package idp

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidToken is returned when a bearer credential fails verification.
// Callers map it to 401; any other error is a provider failure.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the principal a verified bearer credential belongs to
type Identity struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Verifier checks a bearer credential with the identity provider.
type Verifier interface {
	// Type returns the verifier kind (e.g., "firebase", "okta").
	Type() string

	// Verify validates token and returns the identity it was issued to.
	// It wraps ErrInvalidToken when the token itself is the problem.
	Verify(ctx context.Context, token string) (*Identity, error)
}

// IsInvalidToken reports whether err means the credential itself was rejected
func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}
