package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dgellow/biolink/internal/content"
	"github.com/dgellow/biolink/internal/cookie"
	"github.com/dgellow/biolink/internal/idp"
	"github.com/dgellow/biolink/internal/storage"
	mocks "github.com/dgellow/biolink/internal/testutil"
)

const (
	ownerToken = "owner-token"
	testCSRF   = "0123456789abcdef0123456789abcdef"
)

var ownerIdentity = &idp.Identity{UID: "owner-uid", Email: "owner@example.com", Name: "Owner", Provider: "firebase"}

type fakeSignIn struct {
	err error
}

func (f fakeSignIn) SignInWithPassword(_ context.Context, email, password string) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	if email != "owner@example.com" || password != "hunter2" {
		return nil, idp.ErrInvalidCredentials
	}
	return &oauth2.Token{AccessToken: ownerToken, TokenType: "Bearer"}, nil
}

type testEnv struct {
	handler  http.Handler
	store    *storage.MemoryStorage
	service  *content.Service
	verifier *mocks.MockVerifier
}

func newTestEnv(t *testing.T, configure ...func(*Routes)) *testEnv {
	t.Helper()

	store := storage.NewMemoryStorage()
	service := content.NewService(store)
	verifier := &mocks.MockVerifier{}
	verifier.On("Verify", mock.Anything, ownerToken).Return(ownerIdentity, nil)
	verifier.On("Verify", mock.Anything, mock.Anything).Return(nil, idp.ErrInvalidToken)

	recordUser := func(r *http.Request, identity *idp.Identity) {
		_ = service.RecordUser(r.Context(), identity)
	}

	routes := Routes{
		Content:    NewContentHandlers(service),
		Admin:      NewAdminHandlers(service, verifier, nil, testCSRF, recordUser),
		Public:     NewPublicHandlers(service, fakeSignIn{}),
		Session:    NewSessionHandlers(),
		Health:     NewHealthHandler(store),
		Verifier:   verifier,
		OnVerified: recordUser,
	}
	for _, fn := range configure {
		fn(&routes)
	}

	return &testEnv{
		handler:  routes.Handler(),
		store:    store,
		service:  service,
		verifier: verifier,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) seed(t *testing.T, res content.Resource, doc storage.Document) storage.Document {
	t.Helper()
	created, err := e.service.Create(context.Background(), res, doc)
	require.NoError(t, err)
	return created
}

var bearer = map[string]string{"Authorization": "Bearer " + ownerToken, "Content-Type": "application/json"}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "biolink_http_requests_total")
}

func TestHealth_StoreDown(t *testing.T) {
	store := &mocks.MockStorage{}
	store.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	rr := httptest.NewRecorder()
	NewHealthHandler(store).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rr.Body.String())
}

func TestPrivilegedRoutes_RejectWithoutCredential(t *testing.T) {
	store := &mocks.MockStorage{}
	service := content.NewService(store)
	verifier := &mocks.MockVerifier{}
	verifier.On("Verify", mock.Anything, mock.Anything).Return(nil, idp.ErrInvalidToken)

	handler := Routes{
		Content:  NewContentHandlers(service),
		Admin:    NewAdminHandlers(service, verifier, nil, testCSRF, nil),
		Public:   NewPublicHandlers(service, nil),
		Session:  NewSessionHandlers(),
		Health:   NewHealthHandler(store),
		Verifier: verifier,
	}.Handler()

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/links"},
		{http.MethodPut, "/api/links/abc"},
		{http.MethodPatch, "/api/links/abc"},
		{http.MethodDelete, "/api/links/abc"},
		{http.MethodPost, "/api/blog"},
		{http.MethodPut, "/api/blog/hello"},
		{http.MethodDelete, "/api/blog/hello"},
		{http.MethodPost, "/api/tips"},
		{http.MethodPut, "/api/tips/abc"},
		{http.MethodDelete, "/api/tips/abc"},
		{http.MethodPost, "/api/news"},
		{http.MethodPut, "/api/news/abc"},
		{http.MethodDelete, "/api/news/abc"},
	}

	for _, route := range routes {
		for _, header := range []string{"", "Bearer forged"} {
			t.Run(route.method+" "+route.path+" "+header, func(t *testing.T) {
				req := httptest.NewRequest(route.method, route.path, strings.NewReader(`{"title":"x"}`))
				if header != "" {
					req.Header.Set("Authorization", header)
				}
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)

				assert.Equal(t, http.StatusUnauthorized, rr.Code)
				assert.JSONEq(t, `{"error":"Unauthorized"}`, rr.Body.String())
			})
		}
	}

	// No store method was set up: any store call would have panicked the mock
	store.AssertExpectations(t)
}

func TestContentAPI_LinkLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/links", `{"title":"GitHub","url":"https://github.com/example","icon":"github","clicks":50}`, bearer)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	created := decodeJSON[map[string]any](t, rr)
	id, _ := created["_id"].(string)
	require.NotEmpty(t, id)
	assert.EqualValues(t, 0, created["clicks"], "clicks is reset on create")
	assert.Equal(t, true, created["isActive"])

	rr = env.do(t, http.MethodGet, "/api/links", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeJSON[[]map[string]any](t, rr), 1)

	rr = env.do(t, http.MethodPost, "/api/links/"+id+"/click", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"clicks":1}`, rr.Body.String())

	rr = env.do(t, http.MethodPatch, "/api/links/"+id, `{"title":"GitHub profile","_id":"hijack","createdAt":"2000-01-01T00:00:00Z"}`, bearer)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decodeJSON[map[string]any](t, rr)
	assert.Equal(t, "GitHub profile", updated["title"])
	assert.Equal(t, id, updated["_id"])
	assert.Equal(t, created["createdAt"], updated["createdAt"])

	rr = env.do(t, http.MethodPut, "/api/links/"+id, `{"isActive":false}`, bearer)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeJSON[map[string]any](t, rr)["isActive"])

	rr = env.do(t, http.MethodDelete, "/api/links/"+id, "", bearer)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Link deleted successfully"}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/links/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Link not found"}`, rr.Body.String())

	// the verified principal was recorded
	user, err := env.store.Get(context.Background(), storage.CollectionUsers, ownerIdentity.UID)
	require.NoError(t, err)
	assert.Equal(t, ownerIdentity.Email, user.String("email"))
}

func TestContentAPI_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name         string
		method       string
		path         string
		body         string
		expectStatus int
		expectBody   string
	}{
		{"unknown link", http.MethodGet, "/api/links/does-not-exist", "", http.StatusNotFound, `{"error":"Link not found"}`},
		{"unknown post", http.MethodGet, "/api/blog/nope", "", http.StatusNotFound, `{"error":"Blog post not found"}`},
		{"update unknown tip", http.MethodPut, "/api/tips/nope", `{"title":"x"}`, http.StatusNotFound, `{"error":"Tip not found"}`},
		{"delete unknown news", http.MethodDelete, "/api/news/nope", "", http.StatusNotFound, `{"error":"News item not found"}`},
		{"click unknown link", http.MethodPost, "/api/links/nope/click", "", http.StatusNotFound, `{"error":"Link not found"}`},
		{"malformed json", http.MethodPost, "/api/links", `{"title":`, http.StatusBadRequest, `{"error":"Invalid JSON body"}`},
		{"json array", http.MethodPost, "/api/links", `[1,2]`, http.StatusBadRequest, `{"error":"Invalid JSON body"}`},
		{"missing required field", http.MethodPost, "/api/links", `{"title":"x"}`, http.StatusBadRequest, `{"error":"url is required"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.method != http.MethodGet {
				headers = bearer
			}
			rr := env.do(t, tt.method, tt.path, tt.body, headers)
			assert.Equal(t, tt.expectStatus, rr.Code)
			assert.JSONEq(t, tt.expectBody, rr.Body.String())
		})
	}
}

func TestContentAPI_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/api/stats", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	// unmatched GETs fall through to the not found page
	rr = env.do(t, http.MethodGet, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestContentAPI_PublicListings(t *testing.T) {
	env := newTestEnv(t)

	env.seed(t, content.Tips, storage.Document{"title": "draft", "content": "c"})
	env.seed(t, content.Tips, storage.Document{"title": "second", "content": "c", "isPublished": true, "order": int64(2)})
	env.seed(t, content.Tips, storage.Document{"title": "first", "content": "c", "isPublished": true, "order": int64(1)})

	rr := env.do(t, http.MethodGet, "/api/tips", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	tips := decodeJSON[[]map[string]any](t, rr)
	require.Len(t, tips, 2)
	assert.Equal(t, "first", tips[0]["title"])
	assert.Equal(t, "second", tips[1]["title"])

	rr = env.do(t, http.MethodGet, "/api/news", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String(), "empty listings are arrays")
}

func TestContentAPI_BlogBySlug(t *testing.T) {
	env := newTestEnv(t)

	post := `{"title":"Hello","slug":"hello-world","excerpt":"e","content":"c","author":"Owner","tags":["go"]}`
	rr := env.do(t, http.MethodPost, "/api/blog", post, bearer)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/blog", post, bearer)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "slugs are unique")

	rr = env.do(t, http.MethodPatch, "/api/blog/hello-world", `{"published":true}`, bearer)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/blog/hello-world", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeJSON[map[string]any](t, rr)
	assert.Equal(t, true, got["published"])
	assert.Equal(t, []any{"go"}, got["tags"])

	rr = env.do(t, http.MethodDelete, "/api/blog/hello-world", "", bearer)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Blog post deleted successfully"}`, rr.Body.String())
}

func TestContentAPI_BlogSlugCollisionOnUpdate(t *testing.T) {
	env := newTestEnv(t)

	for _, slug := range []string{"first", "second"} {
		body := `{"title":"` + slug + `","slug":"` + slug + `","excerpt":"e","content":"c","author":"Owner"}`
		rr := env.do(t, http.MethodPost, "/api/blog", body, bearer)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rr := env.do(t, http.MethodPatch, "/api/blog/second", `{"slug":"first"}`, bearer)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"slug \"first\" already exists"}`, rr.Body.String())

	rr = env.do(t, http.MethodPut, "/api/blog/second", `{"slug":""}`, bearer)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"slug is required"}`, rr.Body.String())

	// both posts stay reachable under their own slug
	for _, slug := range []string{"first", "second"} {
		rr = env.do(t, http.MethodGet, "/api/blog/"+slug, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, slug, decodeJSON[map[string]any](t, rr)["title"])
	}
}

func TestStatsAndActivity(t *testing.T) {
	env := newTestEnv(t)

	link := env.seed(t, content.Links, storage.Document{"title": "a", "url": "https://a.example"})
	env.seed(t, content.News, storage.Document{"title": "launch", "content": "c", "isPublished": true})
	_, err := env.service.Click(context.Background(), link.ID())
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"totalLinks":1,"totalClicks":1,"totalBlogPosts":0,"totalTips":0,"totalNews":1}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/recent-activity", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	items := decodeJSON[[]map[string]any](t, rr)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Contains(t, []any{"link", "news"}, item["type"])
		assert.NotEmpty(t, item["_id"])
		assert.NotEmpty(t, item["createdAt"])
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(r *Routes) {
		r.AllowedOrigins = []string{"https://bio.example.com"}
	})

	rr := env.do(t, http.MethodOptions, "/api/links/abc", "", map[string]string{"Origin": "https://bio.example.com"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://bio.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = env.do(t, http.MethodGet, "/blog", "", map[string]string{"Origin": "https://bio.example.com"})
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"), "pages carry no CORS headers")
}

func TestGuard_ProtectsAdminPages(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/admin", "/admin/", "/admin/links", "/admin/blog"} {
		rr := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusFound, rr.Code, path)
		assert.Equal(t, "/login", rr.Header().Get("Location"), path)
	}

	rr := env.do(t, http.MethodPost, "/admin/links/abc/delete", "", nil)
	assert.Equal(t, http.StatusFound, rr.Code, "form actions are guarded too")
}

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

// adminSession renders the resource page with session and returns its CSRF token
func adminSession(t *testing.T, env *testEnv, res, session string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/admin/"+res, nil)
	req.AddCookie(&http.Cookie{Name: cookie.AuthToken, Value: session})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	m := csrfPattern.FindStringSubmatch(rr.Body.String())
	require.Len(t, m, 2, "resource page carries a CSRF token")
	return m[1]
}

func postForm(t *testing.T, env *testEnv, path, session string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: cookie.AuthToken, Value: session})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	return rr
}

func TestAdmin_Dashboard(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, content.Links, storage.Document{"title": "Portfolio", "url": "https://example.com"})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: cookie.AuthToken, Value: "any-cookie"})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Dashboard")
	assert.Contains(t, body, "Portfolio")
	assert.Contains(t, body, `href="/admin/links"`)
	assert.Contains(t, body, "Sign out", "navigation reflects the session")
}

func TestAdmin_FormActions(t *testing.T) {
	env := newTestEnv(t)
	token := adminSession(t, env, "links", ownerToken)

	rr := postForm(t, env, "/admin/links", ownerToken, url.Values{
		"csrf_token": {token},
		"title":      {"Mastodon"},
		"url":        {"https://mastodon.social/@example"},
		"icon":       {"globe"},
		"isActive":   {"on"},
	})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Contains(t, rr.Header().Get("Location"), "type=success")

	links, err := env.service.ListAll(context.Background(), content.Links)
	require.NoError(t, err)
	require.Len(t, links, 1)
	id := links[0].ID()
	assert.Equal(t, "globe", links[0].String("icon"))

	rr = postForm(t, env, "/admin/links/"+id+"/toggle", ownerToken, url.Values{"csrf_token": {token}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	got, err := env.service.Get(context.Background(), content.Links, id)
	require.NoError(t, err)
	assert.False(t, got.Bool("isActive"))

	rr = postForm(t, env, "/admin/links/"+id+"/delete", ownerToken, url.Values{"csrf_token": {token}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Contains(t, rr.Header().Get("Location"), url.QueryEscape("Link deleted successfully"))
	_, err = env.service.Get(context.Background(), content.Links, id)
	assert.Error(t, err)
}

func TestAdmin_FormRejections(t *testing.T) {
	env := newTestEnv(t)

	t.Run("bad csrf", func(t *testing.T) {
		rr := postForm(t, env, "/admin/tips", ownerToken, url.Values{"csrf_token": {"forged"}, "title": {"t"}, "content": {"c"}})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("csrf token of another session", func(t *testing.T) {
		token := adminSession(t, env, "tips", "some-other-session")
		rr := postForm(t, env, "/admin/tips", ownerToken, url.Values{"csrf_token": {token}, "title": {"t"}, "content": {"c"}})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unverifiable session", func(t *testing.T) {
		token := adminSession(t, env, "tips", "stale-cookie")
		rr := postForm(t, env, "/admin/tips", "stale-cookie", url.Values{"csrf_token": {token}, "title": {"t"}, "content": {"c"}})
		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Contains(t, rr.Header().Get("Location"), "type=error")
	})

	t.Run("validation error is shown", func(t *testing.T) {
		token := adminSession(t, env, "tips", ownerToken)
		rr := postForm(t, env, "/admin/tips", ownerToken, url.Values{"csrf_token": {token}, "title": {"t"}})
		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Contains(t, rr.Header().Get("Location"), url.QueryEscape("content is required"))
	})

	tips, err := env.service.ListAll(context.Background(), content.Tips)
	require.NoError(t, err)
	assert.Empty(t, tips, "no rejected action wrote anything")
}

func TestFormDocument(t *testing.T) {
	doc, err := formDocument(content.News, url.Values{
		"title":       {" Launch "},
		"content":     {"c"},
		"publishedAt": {"2024-03-01T09:30"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Launch", doc["title"])
	assert.Equal(t, false, doc["isPublished"], "unchecked box is false")
	assert.Equal(t, "2024-03-01T09:30:00Z", doc.Time("publishedAt").Format("2006-01-02T15:04:05Z07:00"))

	_, err = formDocument(content.Tips, url.Values{"order": {"first"}})
	assert.Error(t, err)

	doc, err = formDocument(content.Tips, url.Values{"order": {"3"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc["order"])
	assert.NotContains(t, doc, "title", "empty inputs are left out")
}
