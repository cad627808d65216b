package integration

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteEndToEnd(t *testing.T) {
	const token = "e2e-automation-token"
	listen, baseURL := addr(18181)
	startBioLink(t, writeTestConfig(t, buildTestConfig(listen, staticAuth(t, token))), baseURL)

	var linkID string

	t.Run("privileged write creates a link", func(t *testing.T) {
		status, body := apiRequest(t, http.MethodPost, baseURL+"/api/links", token,
			`{"title":"GitHub","url":"https://github.com/example","icon":"github"}`)
		require.Equal(t, http.StatusOK, status, body)

		link := decode[map[string]any](t, body)
		linkID, _ = link["_id"].(string)
		require.NotEmpty(t, linkID)
		assert.EqualValues(t, 0, link["clicks"])
	})

	t.Run("public listing and page show it", func(t *testing.T) {
		status, body := apiRequest(t, http.MethodGet, baseURL+"/api/links", "", "")
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, decode[[]map[string]any](t, body), 1)

		status, body = apiRequest(t, http.MethodGet, baseURL+"/", "", "")
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, "GitHub")
	})

	t.Run("short link counts the click", func(t *testing.T) {
		resp, err := noRedirectClient().Get(baseURL + "/l/" + linkID)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://github.com/example", resp.Header.Get("Location"))

		status, body := apiRequest(t, http.MethodPost, baseURL+"/api/links/"+linkID+"/click", "", "")
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"clicks":2}`, body)

		status, body = apiRequest(t, http.MethodGet, baseURL+"/api/stats", "", "")
		require.Equal(t, http.StatusOK, status)
		stats := decode[map[string]any](t, body)
		assert.EqualValues(t, 1, stats["totalLinks"])
		assert.EqualValues(t, 2, stats["totalClicks"])
	})

	t.Run("session bridge opens the admin area", func(t *testing.T) {
		status, _ := apiRequest(t, http.MethodGet, baseURL+"/admin", "", "")
		assert.Equal(t, http.StatusFound, status, "no cookie redirects to login")

		req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/auth/login", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := noRedirectClient().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var session *http.Cookie
		for _, c := range resp.Cookies() {
			if c.Name == "auth-token" {
				session = c
			}
		}
		require.NotNil(t, session, "login sets the auth-token cookie")
		assert.True(t, session.HttpOnly)
		assert.Equal(t, token, session.Value)

		req, _ = http.NewRequest(http.MethodGet, baseURL+"/admin", nil)
		req.AddCookie(session)
		resp, err = noRedirectClient().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		// verifyGuardCookie rejects a cookie the provider does not accept
		req, _ = http.NewRequest(http.MethodGet, baseURL+"/admin", nil)
		req.AddCookie(&http.Cookie{Name: "auth-token", Value: "made-up"})
		resp, err = noRedirectClient().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))
	})

	t.Run("delete removes the link", func(t *testing.T) {
		status, body := apiRequest(t, http.MethodDelete, baseURL+"/api/links/"+linkID, token, "")
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"message":"Link deleted successfully"}`, body)

		status, _ = apiRequest(t, http.MethodGet, baseURL+"/api/links/"+linkID, "", "")
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("password form is disabled without an API key", func(t *testing.T) {
		resp, err := noRedirectClient().PostForm(baseURL+"/login", url.Values{
			"email":    {"owner@example.com"},
			"password": {"secret"},
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("metrics count requests", func(t *testing.T) {
		status, body := apiRequest(t, http.MethodGet, baseURL+"/metrics", "", "")
		require.Equal(t, http.StatusOK, status)
		assert.True(t, strings.Contains(body, `biolink_http_requests_total{component="api"`), "api requests are counted")
	})
}
