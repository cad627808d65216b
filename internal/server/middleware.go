package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dgellow/biolink/internal/adminauth"
	"github.com/dgellow/biolink/internal/apierr"
	"github.com/dgellow/biolink/internal/authcontext"
	"github.com/dgellow/biolink/internal/cookie"
	"github.com/dgellow/biolink/internal/idp"
	jsonwriter "github.com/dgellow/biolink/internal/json"
	"github.com/dgellow/biolink/internal/log"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biolink_http_requests_total",
		Help: "HTTP requests by component, method and status code.",
	}, []string{"component", "method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "biolink_http_request_duration_seconds",
		Help:    "HTTP request latency by component.",
		Buckets: prometheus.DefBuckets,
	}, []string{"component"})
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions. The last one is the
// outermost.
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// NewCORSMiddleware adds CORS headers to responses
func NewCORSMiddleware(allowedOrigins []string) MiddlewareFunc {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && allowedMap[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			} else if len(allowedOrigins) == 0 {
				// No allowed origins configured: development mode
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriterDelegator wraps http.ResponseWriter to capture status and bytes written
// while properly delegating all optional interfaces through Unwrap
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) Status() int {
	return r.status
}

func (r *responseWriterDelegator) BytesWritten() int {
	return r.written
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for interface detection
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var _ http.ResponseWriter = (*responseWriterDelegator)(nil)

// NewLoggerMiddleware logs every request and records it in the request metrics
func NewLoggerMiddleware(component string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			elapsed := time.Since(start)
			requestsTotal.WithLabelValues(component, r.Method, strconv.Itoa(wrapped.Status())).Inc()
			requestDuration.WithLabelValues(component).Observe(elapsed.Seconds())

			log.LogInfoWithFields(component, "request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"duration_ms": elapsed.Milliseconds(),
				"bytes":       wrapped.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			})
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(component string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.LogErrorWithFields(component, "Recovered from panic", map[string]any{
						"panic": err,
						"path":  r.URL.Path,
					})
					jsonwriter.WriteInternalServerError(w, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func isAdminPath(path string) bool {
	return path == "/admin" || strings.HasPrefix(path, "/admin/")
}

// NewRouteGuard protects /admin and everything below it. Without a session
// cookie the request is redirected to /login and never reaches next. With
// one, the raw cookie value is placed in the context and the request passes
// through unchanged. When verify is set the cookie value is also checked with
// verifier; a rejected cookie is cleared.
func NewRouteGuard(verifier idp.Verifier, verify bool) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAdminPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := cookie.GetAuthToken(r)
			if !ok {
				log.LogDebugWithFields("guard", "No session cookie, redirecting to login", map[string]any{
					"path": r.URL.Path,
				})
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}

			ctx := authcontext.WithSession(r.Context(), token)

			if verify && verifier != nil {
				identity, err := verifier.Verify(r.Context(), token)
				if err != nil {
					log.LogInfoWithFields("guard", "Session cookie rejected", map[string]any{
						"path":         r.URL.Path,
						"provider_err": !idp.IsInvalidToken(err),
					})
					cookie.ClearAuthToken(w)
					http.Redirect(w, r, "/login", http.StatusFound)
					return
				}
				ctx = authcontext.WithIdentity(ctx, identity)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the credential of an "Authorization: Bearer <token>"
// header. The scheme is matched exactly.
func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// IdentityHook is called with every principal a privileged request was
// admitted for
type IdentityHook func(r *http.Request, identity *idp.Identity)

// NewBearerMiddleware admits a request only when it carries a bearer token
// the verifier accepts and, when owners is non-empty, whose principal is one
// of the owners. Anything else is 401 {"error":"Unauthorized"} and next is
// never called.
func NewBearerMiddleware(verifier idp.Verifier, owners []string, onVerified IdentityHook) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				log.LogDebugWithFields("auth", "Missing or malformed bearer header", map[string]any{
					"path": r.URL.Path,
				})
				apierr.Write(w, "auth", apierr.NewUnauthorized())
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				fields := map[string]any{
					"path":     r.URL.Path,
					"verifier": verifier.Type(),
				}
				if idp.IsInvalidToken(err) {
					log.LogInfoWithFields("auth", "Bearer token rejected", fields)
				} else {
					// Provider outage: still a 401 for the client
					fields["error"] = err.Error()
					log.LogErrorWithFields("auth", "Bearer token verification failed", fields)
				}
				apierr.Write(w, "auth", apierr.NewUnauthorized())
				return
			}

			if !adminauth.IsOwner(identity, owners) {
				log.LogWarnWithFields("auth", "Verified principal is not an owner", map[string]any{
					"path": r.URL.Path,
					"uid":  identity.UID,
				})
				apierr.Write(w, "auth", apierr.NewUnauthorized())
				return
			}

			if onVerified != nil {
				onVerified(r, identity)
			}

			next.ServeHTTP(w, r.WithContext(authcontext.WithIdentity(r.Context(), identity)))
		})
	}
}
