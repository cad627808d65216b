package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/biolink/internal/authcontext"
	"github.com/dgellow/biolink/internal/content"
	"github.com/dgellow/biolink/internal/icons"
	jsonwriter "github.com/dgellow/biolink/internal/json"
	"github.com/dgellow/biolink/internal/log"
	"github.com/dgellow/biolink/internal/storage"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"icon": func(key any) icons.Icon {
		s, _ := key.(string)
		return icons.Lookup(s)
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
	"key": func(doc storage.Document, field string) string {
		if field == storage.IDField {
			return doc.ID()
		}
		return doc.String(field)
	},
	"paragraphs": paragraphs,
}

// parsePage builds the template set of one page: the shared layout plus the
// page's "content" block
func parsePage(name string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name))
}

var (
	homePageTemplate      = parsePage("home.html")
	blogPageTemplate      = parsePage("blog.html")
	postPageTemplate      = parsePage("post.html")
	tipsPageTemplate      = parsePage("tips.html")
	newsPageTemplate      = parsePage("news.html")
	loginPageTemplate     = parsePage("login.html")
	notFoundPageTemplate  = parsePage("not_found.html")
	dashboardPageTemplate = parsePage("admin_dashboard.html")
	resourcePageTemplate  = parsePage("admin_resource.html")
)

// paragraphs splits text on blank lines
func paragraphs(v any) []string {
	s, _ := v.(string)
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BasePage is the data every page template receives
type BasePage struct {
	Nav         authcontext.Nav
	Title       string
	Message     string
	MessageType string // "success" or "error"
}

func newBasePage(r *http.Request, title string) BasePage {
	q := r.URL.Query()
	return BasePage{
		Nav:         authcontext.NavFrom(r.Context(), r.URL.Path),
		Title:       title,
		Message:     q.Get("message"),
		MessageType: q.Get("type"),
	}
}

// HomePageData is the data of the link page
type HomePageData struct {
	BasePage
	Links []storage.Document
}

// ListPageData is the data of the blog, tips and news pages
type ListPageData struct {
	BasePage
	Items []storage.Document
}

// PostPageData is the data of a single blog post
type PostPageData struct {
	BasePage
	Post storage.Document
}

// LoginPageData is the data of the sign-in form
type LoginPageData struct {
	BasePage
	Email   string
	Enabled bool
}

// DashboardPageData is the data of the admin dashboard
type DashboardPageData struct {
	BasePage
	Stats     content.Stats
	Activity  []content.ActivityItem
	Resources []content.Resource
}

// ResourcePageData is the data of an admin resource page
type ResourcePageData struct {
	BasePage
	Resource  content.Resource
	Items     []storage.Document
	Icons     []icons.Icon
	CSRFToken string
}

// render executes the page into a buffer first so a template error never
// leaves a half-written page
func render(w http.ResponseWriter, status int, t *template.Template, data any) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.LogErrorWithFields("pages", "Failed to render page", map[string]any{
			"template": t.Name(),
			"error":    err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		log.LogDebugWithFields("pages", "Failed to write page", map[string]any{
			"error": err.Error(),
		})
	}
}

func renderNotFound(w http.ResponseWriter, r *http.Request) {
	render(w, http.StatusNotFound, notFoundPageTemplate, newBasePage(r, "Not found"))
}

func messageURL(path, message, messageType string) string {
	return fmt.Sprintf("%s?message=%s&type=%s", path, url.QueryEscape(message), messageType)
}
