package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/dgellow/biolink/internal/apierr"
	"github.com/dgellow/biolink/internal/content"
	"github.com/dgellow/biolink/internal/cookie"
	"github.com/dgellow/biolink/internal/emailutil"
	"github.com/dgellow/biolink/internal/idp"
	"github.com/dgellow/biolink/internal/log"
	"github.com/dgellow/biolink/internal/storage"
	"golang.org/x/oauth2"
)

// PasswordSignIn exchanges an email and password for an ID token
type PasswordSignIn interface {
	SignInWithPassword(ctx context.Context, email, password string) (*oauth2.Token, error)
}

// PublicHandlers render the public site and the sign-in form
type PublicHandlers struct {
	service *content.Service
	signIn  PasswordSignIn
}

// NewPublicHandlers creates the public page handlers. signIn may be nil, in
// which case the password form is disabled.
func NewPublicHandlers(service *content.Service, signIn PasswordSignIn) *PublicHandlers {
	return &PublicHandlers{service: service, signIn: signIn}
}

func published(docs []storage.Document, field string) []storage.Document {
	out := make([]storage.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Bool(field) {
			out = append(out, doc)
		}
	}
	return out
}

// HomeHandler shows the active links
func (h *PublicHandlers) HomeHandler(w http.ResponseWriter, r *http.Request) {
	links, err := h.service.List(r.Context(), content.Links)
	if err != nil {
		apierr.Write(w, "pages", err)
		return
	}
	render(w, http.StatusOK, homePageTemplate, HomePageData{
		BasePage: newBasePage(r, "Links"),
		Links:    published(links, content.Links.PublishedField),
	})
}

// LinkRedirectHandler counts a click and sends the visitor to the link target
func (h *PublicHandlers) LinkRedirectHandler(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.Click(r.Context(), r.PathValue("key"))
	if err != nil {
		if apierr.As(err).Code == apierr.NotFound {
			renderNotFound(w, r)
			return
		}
		apierr.Write(w, "pages", err)
		return
	}

	target := link.String("url")
	if !isNavigableURL(target) {
		log.LogWarnWithFields("pages", "Link has no navigable URL", map[string]any{
			"id": link.ID(),
		})
		renderNotFound(w, r)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func isNavigableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	case "mailto", "tel":
		return u.Opaque != ""
	default:
		return false
	}
}

// BlogHandler lists the published posts
func (h *PublicHandlers) BlogHandler(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.List(r.Context(), content.Blog)
	if err != nil {
		apierr.Write(w, "pages", err)
		return
	}
	render(w, http.StatusOK, blogPageTemplate, ListPageData{
		BasePage: newBasePage(r, "Blog"),
		Items:    published(posts, content.Blog.PublishedField),
	})
}

// PostHandler shows one published post and counts the view
func (h *PublicHandlers) PostHandler(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.Get(r.Context(), content.Blog, r.PathValue("slug"))
	if err != nil {
		if apierr.As(err).Code == apierr.NotFound {
			renderNotFound(w, r)
			return
		}
		apierr.Write(w, "pages", err)
		return
	}
	if !post.Bool(content.Blog.PublishedField) {
		renderNotFound(w, r)
		return
	}

	if err := h.service.RecordView(r.Context(), post.ID()); err != nil {
		log.LogWarnWithFields("pages", "Failed to count post view", map[string]any{
			"slug":  post.String("slug"),
			"error": err.Error(),
		})
	}

	render(w, http.StatusOK, postPageTemplate, PostPageData{
		BasePage: newBasePage(r, post.String("title")),
		Post:     post,
	})
}

// TipsHandler lists the published tips
func (h *PublicHandlers) TipsHandler(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, content.Tips, tipsPageTemplate, "Tips")
}

// NewsHandler lists the published news
func (h *PublicHandlers) NewsHandler(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, content.News, newsPageTemplate, "News")
}

func (h *PublicHandlers) renderList(w http.ResponseWriter, r *http.Request, res content.Resource, t *template.Template, title string) {
	items, err := h.service.List(r.Context(), res)
	if err != nil {
		apierr.Write(w, "pages", err)
		return
	}
	render(w, http.StatusOK, t, ListPageData{
		BasePage: newBasePage(r, title),
		Items:    items,
	})
}

// NotFoundHandler renders the not found page for unmatched paths
func (h *PublicHandlers) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	renderNotFound(w, r)
}

// LoginPageHandler shows the sign-in form
func (h *PublicHandlers) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	render(w, http.StatusOK, loginPageTemplate, LoginPageData{
		BasePage: newBasePage(r, "Sign in"),
		Enabled:  h.signIn != nil,
	})
}

// LoginSubmitHandler signs in with email and password, sets the same cookie
// as the session bridge and continues to the admin UI
func (h *PublicHandlers) LoginSubmitHandler(w http.ResponseWriter, r *http.Request) {
	page := LoginPageData{
		BasePage: newBasePage(r, "Sign in"),
		Enabled:  h.signIn != nil,
	}
	if h.signIn == nil {
		page.Message, page.MessageType = "Password sign-in is not configured", "error"
		render(w, http.StatusNotFound, loginPageTemplate, page)
		return
	}

	if err := r.ParseForm(); err != nil {
		page.Message, page.MessageType = "Invalid form submission", "error"
		render(w, http.StatusBadRequest, loginPageTemplate, page)
		return
	}
	email := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	page.Email = email

	if email == "" || password == "" {
		page.Message, page.MessageType = "Email and password are required", "error"
		render(w, http.StatusBadRequest, loginPageTemplate, page)
		return
	}

	tok, err := h.signIn.SignInWithPassword(r.Context(), email, password)
	if err != nil {
		fields := map[string]any{"email": emailutil.Mask(email)}
		status := http.StatusUnauthorized
		if !errors.Is(err, idp.ErrInvalidCredentials) {
			fields["error"] = err.Error()
			status = http.StatusBadGateway
		}
		log.LogInfoWithFields("pages", "Password sign-in failed", fields)

		page.Message, page.MessageType = "Sign in failed. Check your email and password.", "error"
		render(w, status, loginPageTemplate, page)
		return
	}

	cookie.SetAuthToken(w, tok.AccessToken)
	log.LogInfoWithFields("pages", "Password sign-in succeeded", map[string]any{
		"email": emailutil.Mask(email),
	})
	http.Redirect(w, r, "/admin", http.StatusFound)
}
