package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/sync/singleflight"

	"github.com/dgellow/biolink/internal/ioutil"
	"github.com/dgellow/biolink/internal/log"
)

const (
	// FirebaseJWKSURL publishes the keys Firebase Auth signs ID tokens with
	FirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	defaultJWKSMaxAge = time.Hour
	clockLeeway       = time.Minute

	// minKeyRefreshInterval bounds refetches for unknown kids while the
	// cached set is still fresh
	minKeyRefreshInterval = time.Minute
	jwksFetchTimeout      = 10 * time.Second
)

// FirebaseConfig configures Firebase ID token verification
type FirebaseConfig struct {
	ProjectID string

	// JWKSURL overrides FirebaseJWKSURL. Used by tests and the emulator.
	JWKSURL string

	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

// FirebaseVerifier verifies Firebase Auth ID tokens locally against the
// published signing keys.
type FirebaseVerifier struct {
	projectID  string
	issuer     string
	jwksURL    string
	httpClient *http.Client
	now        func() time.Time

	mu          sync.RWMutex
	keys        jose.JSONWebKeySet
	expiresAt   time.Time
	lastRefresh time.Time

	fetches singleflight.Group
}

// firebaseClaims are the Firebase-specific claims beyond the registered ones
type firebaseClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Firebase struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

// NewFirebaseVerifier creates a verifier for ID tokens issued to the project
func NewFirebaseVerifier(cfg FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firebase project ID is required")
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = FirebaseJWKSURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &FirebaseVerifier{
		projectID:  cfg.ProjectID,
		issuer:     "https://securetoken.google.com/" + cfg.ProjectID,
		jwksURL:    jwksURL,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Type returns the verifier kind.
func (v *FirebaseVerifier) Type() string {
	return "firebase"
}

// Verify checks signature, issuer, audience, expiry and subject of an ID token.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(parsed.Headers) == 0 || parsed.Headers[0].KeyID == "" {
		return nil, fmt.Errorf("%w: missing kid header", ErrInvalidToken)
	}

	key, err := v.key(ctx, parsed.Headers[0].KeyID)
	if err != nil {
		return nil, err
	}

	var registered jwt.Claims
	var extra firebaseClaims
	if err := parsed.Claims(key.Key, &registered, &extra); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if registered.Expiry == nil || registered.IssuedAt == nil {
		return nil, fmt.Errorf("%w: exp and iat are required", ErrInvalidToken)
	}
	err = registered.ValidateWithLeeway(jwt.Expected{
		Issuer:      v.issuer,
		AnyAudience: jwt.Audience{v.projectID},
		Time:        v.now(),
	}, clockLeeway)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if registered.Subject == "" {
		return nil, fmt.Errorf("%w: empty sub claim", ErrInvalidToken)
	}

	provider := "firebase"
	if extra.Firebase.SignInProvider != "" {
		provider = "firebase:" + extra.Firebase.SignInProvider
	}

	return &Identity{
		UID:       registered.Subject,
		Email:     extra.Email,
		Name:      extra.Name,
		Provider:  provider,
		ExpiresAt: registered.Expiry.Time(),
	}, nil
}

// key returns the signing key for kid. An unknown kid triggers a refetch
// only when the cache has expired or was last refreshed more than
// minKeyRefreshInterval ago.
func (v *FirebaseVerifier) key(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	v.mu.RLock()
	fresh := v.now().Before(v.expiresAt)
	keys := v.keys.Key(kid)
	v.mu.RUnlock()

	if fresh && len(keys) > 0 {
		return keys[0], nil
	}

	if err := v.refreshIfStale(ctx); err != nil {
		return jose.JSONWebKey{}, err
	}

	v.mu.RLock()
	keys = v.keys.Key(kid)
	v.mu.RUnlock()

	if len(keys) == 0 {
		return jose.JSONWebKey{}, fmt.Errorf("%w: unknown signing key %q", ErrInvalidToken, kid)
	}
	return keys[0], nil
}

// refreshIfStale refetches the key set unless it is fresh and was fetched
// recently. Concurrent callers share one fetch.
func (v *FirebaseVerifier) refreshIfStale(ctx context.Context) error {
	_, err, _ := v.fetches.Do("jwks", func() (any, error) {
		v.mu.RLock()
		now := v.now()
		recent := now.Before(v.expiresAt) && now.Sub(v.lastRefresh) < minKeyRefreshInterval
		v.mu.RUnlock()
		if recent {
			return nil, nil
		}

		// The fetch is shared, so one caller going away must not cancel it
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jwksFetchTimeout)
		defer cancel()
		err := v.refresh(fetchCtx)

		v.mu.Lock()
		v.lastRefresh = now
		v.mu.Unlock()
		return nil, err
	})
	return err
}

func (v *FirebaseVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("creating JWKS request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d: %s", resp.StatusCode, ioutil.ReadSnippet(resp.Body, 512))
	}

	var keys jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	maxAge := parseMaxAge(resp.Header.Get("Cache-Control"))

	v.mu.Lock()
	v.keys = keys
	v.expiresAt = v.now().Add(maxAge)
	v.mu.Unlock()

	log.LogDebugWithFields("idp", "Refreshed Firebase signing keys", map[string]any{
		"keys":    len(keys.Keys),
		"max_age": maxAge.String(),
	})
	return nil
}

// parseMaxAge reads max-age from a Cache-Control header
func parseMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			break
		}
		return time.Duration(seconds) * time.Second
	}
	return defaultJWKSMaxAge
}
