package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/biolink/internal/log"
)

const (
	// AuthToken holds the most recent bearer credential handed to the session bridge
	AuthToken = "auth-token"

	// AuthTokenMaxAge matches the lifetime of identity provider ID tokens
	AuthTokenMaxAge = time.Hour
)

// SetAuthToken stores the bearer credential in the session cookie:
// Path=/; HttpOnly; Secure; SameSite=Strict; Max-Age=3600.
func SetAuthToken(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthToken,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(AuthTokenMaxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge":   AuthTokenMaxAge.String(),
		"sameSite": "Strict",
	})
}

// ClearAuthToken expires the session cookie. The attributes match
// SetAuthToken so the browser replaces the same cookie.
func ClearAuthToken(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthToken,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// GetAuthToken returns the session cookie value. An empty value counts as
// absent.
func GetAuthToken(r *http.Request) (string, bool) {
	c, err := r.Cookie(AuthToken)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
