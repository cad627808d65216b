package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgellow/biolink/internal/adminauth"
	"github.com/dgellow/biolink/internal/apierr"
	"github.com/dgellow/biolink/internal/authcontext"
	"github.com/dgellow/biolink/internal/content"
	"github.com/dgellow/biolink/internal/crypto"
	"github.com/dgellow/biolink/internal/icons"
	"github.com/dgellow/biolink/internal/idp"
	jsonwriter "github.com/dgellow/biolink/internal/json"
	"github.com/dgellow/biolink/internal/log"
	"github.com/dgellow/biolink/internal/storage"
)

// datetimeLocalLayout is the value format of <input type="datetime-local">
const datetimeLocalLayout = "2006-01-02T15:04"

// AdminHandlers handles the admin UI. Pages only need the route guard; form
// actions also verify the session cookie and a CSRF token bound to it.
type AdminHandlers struct {
	service    *content.Service
	verifier   idp.Verifier
	owners     []string
	csrf       crypto.CSRFProtection
	onVerified IdentityHook
}

// NewAdminHandlers creates a new admin handlers instance
func NewAdminHandlers(service *content.Service, verifier idp.Verifier, owners []string, csrfKey string, onVerified IdentityHook) *AdminHandlers {
	return &AdminHandlers{
		service:    service,
		verifier:   verifier,
		owners:     owners,
		csrf:       crypto.NewCSRFProtection([]byte(csrfKey), 15*time.Minute),
		onVerified: onVerified,
	}
}

// DashboardHandler shows stats, recent activity and the resource pages
func (h *AdminHandlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		apierr.Write(w, "admin", err)
		return
	}
	activity, err := h.service.RecentActivity(r.Context())
	if err != nil {
		apierr.Write(w, "admin", err)
		return
	}

	render(w, http.StatusOK, dashboardPageTemplate, DashboardPageData{
		BasePage:  newBasePage(r, "Dashboard"),
		Stats:     stats,
		Activity:  activity,
		Resources: content.All(),
	})
}

// ResourceHandler lists every document of res, published or not, with the
// create form
func (h *AdminHandlers) ResourceHandler(res content.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := h.service.ListAll(r.Context(), res)
		if err != nil {
			apierr.Write(w, "admin", err)
			return
		}

		session, _ := authcontext.GetSession(r.Context())
		csrfToken, err := h.csrf.Generate(session)
		if err != nil {
			apierr.Write(w, "admin", apierr.NewInternal(err))
			return
		}

		render(w, http.StatusOK, resourcePageTemplate, ResourcePageData{
			BasePage:  newBasePage(r, res.Singular+"s"),
			Resource:  res,
			Items:     docs,
			Icons:     iconChoices(),
			CSRFToken: csrfToken,
		})
	}
}

func iconChoices() []icons.Icon {
	keys := icons.Keys()
	out := make([]icons.Icon, 0, len(keys))
	for _, k := range keys {
		out = append(out, icons.Lookup(k))
	}
	return out
}

// authorizeForm checks a form action: parsed form, valid CSRF token, and a
// session cookie the verifier accepts for an owner. It writes the response
// and returns false when the action must not run.
func (h *AdminHandlers) authorizeForm(w http.ResponseWriter, r *http.Request, back string) bool {
	if err := r.ParseForm(); err != nil {
		jsonwriter.WriteBadRequest(w, "Bad request")
		return false
	}

	session, ok := authcontext.GetSession(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return false
	}

	if !h.csrf.Validate(r.FormValue("csrf_token"), session) {
		jsonwriter.WriteForbidden(w, "Invalid CSRF token")
		return false
	}

	identity, ok := authcontext.GetIdentity(r.Context())
	if !ok {
		var err error
		identity, err = h.verifier.Verify(r.Context(), session)
		if err != nil {
			fields := map[string]any{"path": r.URL.Path}
			if !idp.IsInvalidToken(err) {
				fields["error"] = err.Error()
			}
			log.LogInfoWithFields("admin", "Form action with unverifiable session", fields)
			http.Redirect(w, r, messageURL(back, "Your session has expired. Sign in again.", "error"), http.StatusSeeOther)
			return false
		}
	}

	if !adminauth.IsOwner(identity, h.owners) {
		log.LogWarnWithFields("admin", "Form action by non-owner", map[string]any{
			"path": r.URL.Path,
			"uid":  identity.UID,
		})
		http.Redirect(w, r, messageURL(back, "You are not allowed to change content.", "error"), http.StatusSeeOther)
		return false
	}

	if h.onVerified != nil {
		h.onVerified(r, identity)
	}
	return true
}

// CreateHandler creates a document of res from the admin form
func (h *AdminHandlers) CreateHandler(res content.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		back := "/admin/" + res.Name
		if !h.authorizeForm(w, r, back) {
			return
		}

		doc, err := formDocument(res, r.PostForm)
		if err == nil {
			_, err = h.service.Create(r.Context(), res, doc)
		}
		if err != nil {
			redirectWithError(w, r, back, err)
			return
		}

		log.LogInfoWithFields("admin", "Document created from admin UI", map[string]any{
			"resource": res.Name,
		})
		http.Redirect(w, r, messageURL(back, res.Singular+" created", "success"), http.StatusSeeOther)
	}
}

// ToggleHandler flips the publish flag of one document of res
func (h *AdminHandlers) ToggleHandler(res content.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		back := "/admin/" + res.Name
		if !h.authorizeForm(w, r, back) {
			return
		}

		doc, err := h.service.TogglePublished(r.Context(), res, r.PathValue("key"))
		if err != nil {
			redirectWithError(w, r, back, err)
			return
		}

		message := res.Singular + " unpublished"
		if doc.Bool(res.PublishedField) {
			message = res.Singular + " published"
		}
		http.Redirect(w, r, messageURL(back, message, "success"), http.StatusSeeOther)
	}
}

// DeleteHandler removes one document of res
func (h *AdminHandlers) DeleteHandler(res content.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		back := "/admin/" + res.Name
		if !h.authorizeForm(w, r, back) {
			return
		}

		if err := h.service.Delete(r.Context(), res, r.PathValue("key")); err != nil {
			redirectWithError(w, r, back, err)
			return
		}
		http.Redirect(w, r, messageURL(back, res.DeletedMessage(), "success"), http.StatusSeeOther)
	}
}

// redirectWithError sends the client message of err back to the page. The
// cause is logged the same way apierr.Write does.
func redirectWithError(w http.ResponseWriter, r *http.Request, back string, err error) {
	apiErr := apierr.As(err)
	if apiErr.Err != nil || apiErr.Code == apierr.Internal {
		fields := map[string]any{"code": string(apiErr.Code), "path": r.URL.Path}
		if apiErr.Err != nil {
			fields["error"] = apiErr.Err.Error()
		}
		log.LogErrorWithFields("admin", apiErr.Message, fields)
	}
	http.Redirect(w, r, messageURL(back, apiErr.Message, "error"), http.StatusSeeOther)
}

// formDocument converts the admin form into a document. Empty optional
// inputs are left out so resource defaults apply; an unchecked checkbox is
// false.
func formDocument(res content.Resource, form url.Values) (storage.Document, error) {
	doc := storage.Document{}
	for _, f := range res.Fields {
		value := strings.TrimSpace(form.Get(f.Name))

		switch f.Kind {
		case content.FieldBool:
			doc[f.Name] = value == "on" || value == "true"
			continue
		case content.FieldNumber:
			if value == "" {
				continue
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, apierr.NewBadRequest(f.Name + " must be a whole number")
			}
			doc[f.Name] = n
			continue
		case content.FieldTime:
			if value == "" {
				continue
			}
			t, err := time.ParseInLocation(datetimeLocalLayout, value, time.UTC)
			if err != nil {
				t, err = time.Parse(time.RFC3339, value)
			}
			if err != nil {
				return nil, apierr.NewBadRequest(f.Name + " must be a date and time")
			}
			doc[f.Name] = t
			continue
		}

		if value != "" {
			doc[f.Name] = value
		}
	}
	return doc, nil
}
