package idp

import (
	"context"
	"fmt"
)

// PresenceVerifier accepts any non-empty token. It reproduces the
// behaviour of a bare cookie-presence gate and must not be used outside
// local development.
type PresenceVerifier struct{}

// NewPresenceVerifier creates a verifier that only checks for presence
func NewPresenceVerifier() *PresenceVerifier {
	return &PresenceVerifier{}
}

// Type returns the verifier kind.
func (PresenceVerifier) Type() string {
	return "presence"
}

// Verify accepts any non-empty token.
func (PresenceVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	return &Identity{UID: "anonymous", Provider: "presence"}, nil
}
