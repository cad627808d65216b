package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgellow/biolink/internal/content"
	"github.com/dgellow/biolink/internal/idp"
	"github.com/dgellow/biolink/internal/log"
)

// Routes is the complete HTTP surface and what it depends on
type Routes struct {
	Content *ContentHandlers
	Admin   *AdminHandlers
	Public  *PublicHandlers
	Session *SessionHandlers
	Health  http.Handler

	Verifier          idp.Verifier
	Owners            []string
	OnVerified        IdentityHook
	VerifyGuardCookie bool
	AllowedOrigins    []string
}

// Handler builds the mux. The route guard wraps the whole mux; everything
// else is applied per route group.
func (rt Routes) Handler() http.Handler {
	mux := http.NewServeMux()

	corsMiddleware := NewCORSMiddleware(rt.AllowedOrigins)
	privileged := NewBearerMiddleware(rt.Verifier, rt.Owners, rt.OnVerified)

	api := func(h http.Handler) http.Handler {
		return ChainMiddleware(h, corsMiddleware, NewLoggerMiddleware("api"), NewRecoverMiddleware("api"))
	}
	admin := func(h http.Handler) http.Handler {
		return ChainMiddleware(h, NewLoggerMiddleware("admin"), NewRecoverMiddleware("admin"))
	}
	pages := func(h http.Handler) http.Handler {
		return ChainMiddleware(h, NewLoggerMiddleware("pages"), NewRecoverMiddleware("pages"))
	}

	mux.Handle("GET /health", rt.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Session bridge
	mux.Handle("POST /api/auth/login", api(http.HandlerFunc(rt.Session.LoginHandler)))
	mux.Handle("POST /api/auth/logout", api(http.HandlerFunc(rt.Session.LogoutHandler)))
	mux.Handle("POST /logout", pages(http.HandlerFunc(rt.Session.LogoutFormHandler)))

	// Content API
	for _, res := range content.All() {
		collection := "/api/" + res.Name
		item := collection + "/{key}"

		mux.Handle("GET "+collection, api(rt.Content.ListHandler(res)))
		mux.Handle("GET "+item, api(rt.Content.GetHandler(res)))
		mux.Handle("POST "+collection, api(ChainMiddleware(rt.Content.CreateHandler(res), privileged)))
		mux.Handle("PUT "+item, api(ChainMiddleware(rt.Content.UpdateHandler(res), privileged)))
		mux.Handle("PATCH "+item, api(ChainMiddleware(rt.Content.UpdateHandler(res), privileged)))
		mux.Handle("DELETE "+item, api(ChainMiddleware(rt.Content.DeleteHandler(res), privileged)))
	}
	mux.Handle("POST /api/links/{key}/click", api(http.HandlerFunc(rt.Content.ClickHandler)))
	mux.Handle("GET /api/stats", api(http.HandlerFunc(rt.Content.StatsHandler)))
	mux.Handle("GET /api/recent-activity", api(http.HandlerFunc(rt.Content.RecentActivityHandler)))
	// Preflight for every API route; the CORS middleware answers it
	mux.Handle("OPTIONS /api/", api(http.NotFoundHandler()))

	// Admin UI, behind the route guard
	mux.Handle("GET /admin", admin(http.HandlerFunc(rt.Admin.DashboardHandler)))
	mux.Handle("GET /admin/{$}", admin(http.HandlerFunc(rt.Admin.DashboardHandler)))
	for _, res := range content.All() {
		base := "/admin/" + res.Name
		mux.Handle("GET "+base, admin(rt.Admin.ResourceHandler(res)))
		mux.Handle("POST "+base, admin(rt.Admin.CreateHandler(res)))
		mux.Handle("POST "+base+"/{key}/toggle", admin(rt.Admin.ToggleHandler(res)))
		mux.Handle("POST "+base+"/{key}/delete", admin(rt.Admin.DeleteHandler(res)))
	}

	// Public site
	mux.Handle("GET /{$}", pages(http.HandlerFunc(rt.Public.HomeHandler)))
	mux.Handle("GET /l/{key}", pages(http.HandlerFunc(rt.Public.LinkRedirectHandler)))
	mux.Handle("GET /blog", pages(http.HandlerFunc(rt.Public.BlogHandler)))
	mux.Handle("GET /blog/{slug}", pages(http.HandlerFunc(rt.Public.PostHandler)))
	mux.Handle("GET /tips", pages(http.HandlerFunc(rt.Public.TipsHandler)))
	mux.Handle("GET /news", pages(http.HandlerFunc(rt.Public.NewsHandler)))
	mux.Handle("GET /login", pages(http.HandlerFunc(rt.Public.LoginPageHandler)))
	mux.Handle("POST /login", pages(http.HandlerFunc(rt.Public.LoginSubmitHandler)))
	mux.Handle("GET /", pages(http.HandlerFunc(rt.Public.NotFoundHandler)))

	log.LogInfoWithFields("server", "Routes registered", map[string]any{
		"resources":         len(content.All()),
		"verifier":          rt.Verifier.Type(),
		"verifyGuardCookie": rt.VerifyGuardCookie,
		"owners":            len(rt.Owners),
	})

	return ChainMiddleware(mux, NewRouteGuard(rt.Verifier, rt.VerifyGuardCookie))
}
