package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dgellow/biolink/internal/apierr"
	"github.com/dgellow/biolink/internal/cookie"
	"github.com/dgellow/biolink/internal/emailutil"
	jsonwriter "github.com/dgellow/biolink/internal/json"
	"github.com/dgellow/biolink/internal/log"
)

// loginRequest is the optional body of the session bridge
type loginRequest struct {
	Email string `json:"email"`
}

// SessionHandlers turn bearer credentials into the session cookie and back.
// They are stateless: no store or identity provider is consulted.
type SessionHandlers struct{}

// NewSessionHandlers creates the session endpoints
func NewSessionHandlers() *SessionHandlers {
	return &SessionHandlers{}
}

// LoginHandler is the session bridge. It copies the bearer credential into
// the auth-token cookie verbatim.
func (h *SessionHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		apierr.Write(w, "session", apierr.NewUnauthenticated("Missing or invalid authorization header"))
		return
	}

	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		log.LogErrorWithFields("session", "Login failed", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteMessage(w, http.StatusInternalServerError, "An error occurred during login")
		return
	}

	cookie.SetAuthToken(w, token)

	log.LogInfoWithFields("session", "Session established", map[string]any{
		"email": emailutil.Mask(body.Email),
	})
	jsonwriter.WriteMessage(w, http.StatusOK, "Login successful")
}

// LogoutHandler clears the session cookie. It needs no credential.
func (h *SessionHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	cookie.ClearAuthToken(w)
	log.LogInfoWithFields("session", "Session cleared", nil)
	jsonwriter.WriteMessage(w, http.StatusOK, "Logout successful")
}

// LogoutFormHandler is the form variant of LogoutHandler used by the page
// navigation
func (h *SessionHandlers) LogoutFormHandler(w http.ResponseWriter, r *http.Request) {
	cookie.ClearAuthToken(w)
	log.LogInfoWithFields("session", "Session cleared", nil)
	http.Redirect(w, r, "/", http.StatusFound)
}
