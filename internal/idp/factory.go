package idp

import (
	"fmt"

	"github.com/dgellow/biolink/internal/config"
)

// NewVerifier creates a Verifier based on the AuthConfig.
func NewVerifier(cfg config.AuthConfig) (Verifier, error) {
	switch cfg.Kind {
	case config.AuthKindPresence:
		return NewPresenceVerifier(), nil

	case config.AuthKindFirebase:
		return NewFirebaseVerifier(FirebaseConfig{
			ProjectID: cfg.FirebaseProjectID,
		})

	case config.AuthKindOkta:
		return NewOktaVerifier(OktaConfig{
			Issuer:   cfg.OktaIssuer,
			ClientID: cfg.OktaClientID,
			Audience: cfg.OktaAudience,
		})

	case config.AuthKindStatic:
		return NewStaticVerifier(cfg.TokenHashes)

	default:
		return nil, fmt.Errorf("unknown auth kind: %s", cfg.Kind)
	}
}

// NewClientFromConfig creates the password sign-in client. It returns nil
// when no Firebase API key is configured, which disables password sign-in.
func NewClientFromConfig(cfg config.AuthConfig) (*Client, error) {
	if cfg.FirebaseAPIKey == "" {
		return nil, nil
	}
	return NewClient(ClientConfig{APIKey: string(cfg.FirebaseAPIKey)})
}
