package idp

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// StaticVerifier accepts long-lived automation tokens whose bcrypt hashes
// are listed in the config.
type StaticVerifier struct {
	hashes [][]byte
}

// NewStaticVerifier creates a verifier from bcrypt hashes
func NewStaticVerifier(hashes []string) (*StaticVerifier, error) {
	if len(hashes) == 0 {
		return nil, fmt.Errorf("static verifier needs at least one token hash")
	}
	v := &StaticVerifier{hashes: make([][]byte, 0, len(hashes))}
	for i, h := range hashes {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("token hash %d: %w", i, err)
		}
		v.hashes = append(v.hashes, []byte(h))
	}
	return v, nil
}

// Type returns the verifier kind.
func (v *StaticVerifier) Type() string {
	return "static"
}

// Verify compares token against every configured hash.
func (v *StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	for i, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(token)) == nil {
			return &Identity{
				UID:      fmt.Sprintf("automation-%d", i),
				Name:     "automation",
				Provider: "static",
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown automation token", ErrInvalidToken)
}
