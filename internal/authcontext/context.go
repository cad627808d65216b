package authcontext

import (
	"context"

	"github.com/dgellow/biolink/internal/idp"
)

type contextKey string

const (
	identityKey contextKey = "auth.identity"
	sessionKey  contextKey = "auth.session"
)

// WithIdentity adds a verified principal to the context
func WithIdentity(ctx context.Context, identity *idp.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the verified principal from context
func GetIdentity(ctx context.Context) (*idp.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*idp.Identity)
	return identity, ok && identity != nil
}

// WithSession adds the raw session cookie value to the context. The value is
// whatever the route guard saw; it has not necessarily been verified.
func WithSession(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionKey, token)
}

// GetSession retrieves the session cookie value from context
func GetSession(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionKey).(string)
	return token, ok && token != ""
}

// Nav is the per-request navigation state handed to page templates
type Nav struct {
	SignedIn bool
	Email    string
	Path     string
}

// NavFrom builds the navigation state for a request
func NavFrom(ctx context.Context, path string) Nav {
	nav := Nav{Path: path}
	if _, ok := GetSession(ctx); ok {
		nav.SignedIn = true
	}
	if identity, ok := GetIdentity(ctx); ok {
		nav.SignedIn = true
		nav.Email = identity.Email
	}
	return nav
}
