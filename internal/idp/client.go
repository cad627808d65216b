package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dgellow/biolink/internal/ioutil"
)

const (
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	defaultSecureTokenURL     = "https://securetoken.googleapis.com/v1/token"
)

// ErrInvalidCredentials is returned when email/password sign-in is rejected
var ErrInvalidCredentials = errors.New("invalid email or password")

// ClientConfig configures the Firebase Auth REST client
type ClientConfig struct {
	APIKey string

	// IdentityToolkitURL and SecureTokenURL override the Google endpoints
	IdentityToolkitURL string
	SecureTokenURL     string

	HTTPClient *http.Client
}

// Client talks to the Firebase Auth REST API to obtain and refresh bearer
// credentials. The server itself never stores what it returns.
type Client struct {
	apiKey          string
	identityToolkit string
	secureToken     string
	httpClient      *http.Client
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a Firebase Auth REST client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("firebase API key is required")
	}

	c := &Client{
		apiKey:          cfg.APIKey,
		identityToolkit: strings.TrimSuffix(cfg.IdentityToolkitURL, "/"),
		secureToken:     cfg.SecureTokenURL,
		httpClient:      cfg.HTTPClient,
	}
	if c.identityToolkit == "" {
		c.identityToolkit = defaultIdentityToolkitURL
	}
	if c.secureToken == "" {
		c.secureToken = defaultSecureTokenURL
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c, nil
}

// SignInWithPassword exchanges email and password for an ID token. The
// returned token carries the ID token as AccessToken and the Firebase user
// id under the "localId" extra.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding sign-in request: %w", err)
	}

	endpoint := c.identityToolkit + "/accounts:signInWithPassword?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp signInResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	tok := &oauth2.Token{
		AccessToken:  resp.IDToken,
		TokenType:    "Bearer",
		RefreshToken: resp.RefreshToken,
		Expiry:       expiryFrom(resp.ExpiresIn),
	}
	return tok.WithExtra(map[string]any{"localId": resp.LocalID, "email": resp.Email}), nil
}

// Refresh trades a refresh token for a new ID token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	endpoint := c.secureToken + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp refreshResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken:  resp.IDToken,
		TokenType:    "Bearer",
		RefreshToken: resp.RefreshToken,
		Expiry:       expiryFrom(resp.ExpiresIn),
	}, nil
}

// TokenSource returns a source that keeps returning tok until it expires and
// then refreshes it through the secure token endpoint.
func (c *Client) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(tok, &refreshTokenSource{
		ctx:          ctx,
		client:       c,
		refreshToken: tok.RefreshToken,
	})
}

type refreshTokenSource struct {
	ctx          context.Context
	client       *Client
	refreshToken string
}

func (s *refreshTokenSource) Token() (*oauth2.Token, error) {
	if s.refreshToken == "" {
		return nil, fmt.Errorf("token expired and no refresh token is available")
	}
	tok, err := s.client.Refresh(s.ctx, s.refreshToken)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	}
	return tok, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling firebase auth: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading firebase auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error.Message == "" {
			// Gateways in front of the API answer with HTML or plain text
			return fmt.Errorf("firebase auth returned status %d: %s", resp.StatusCode, ioutil.ReadSnippet(bytes.NewReader(body), 256))
		}
		if resp.StatusCode == http.StatusBadRequest && isCredentialError(apiErr.Error.Message) {
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Error.Message)
		}
		return fmt.Errorf("firebase auth returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding firebase auth response: %w", err)
	}
	return nil
}

func isCredentialError(message string) bool {
	// Messages may carry a suffix, e.g. "TOO_MANY_ATTEMPTS_TRY_LATER : ..."
	code, _, _ := strings.Cut(message, " ")
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS",
		"USER_DISABLED", "INVALID_EMAIL", "MISSING_PASSWORD",
		"INVALID_REFRESH_TOKEN", "TOKEN_EXPIRED", "USER_NOT_FOUND":
		return true
	}
	return false
}

func expiryFrom(expiresIn string) time.Time {
	seconds, err := strconv.Atoi(expiresIn)
	if err != nil || seconds <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
