// Package content describes the site's content types and implements their
// operations on top of a storage.Storage.
package content

import (
	"time"

	"github.com/dgellow/biolink/internal/storage"
)

// FieldKind tells the admin forms how to render and parse a field
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldTextarea FieldKind = "textarea"
	FieldURL      FieldKind = "url"
	FieldIcon     FieldKind = "icon"
	FieldBool     FieldKind = "bool"
	FieldNumber   FieldKind = "number"
	FieldTags     FieldKind = "tags"
	FieldTime     FieldKind = "datetime"
)

// Field is one editable field of a resource
type Field struct {
	Name     string
	Label    string
	Kind     FieldKind
	Required bool
}

// Resource describes one content type: where it is stored, how it is
// addressed, what it requires and how the public sees it.
type Resource struct {
	// Name is the URL segment, e.g. "links"
	Name string
	// Singular is used in client messages, e.g. "Link not found"
	Singular string
	// Kind is the activity feed type
	Kind       string
	Collection string
	// KeyField addresses single documents: storage.IDField or "slug"
	KeyField string
	Fields   []Field
	// Defaults fill fields absent on create
	Defaults func(now time.Time) storage.Document
	// Forced overwrite whatever the client sent on create
	Forced storage.Document
	// PublishedField is the visibility flag counted by stats and toggled by the admin UI
	PublishedField string
	// PublicOnly limits public listings to published documents
	PublicOnly bool
	PublicSort storage.Sort
}

// Required lists the names of required fields
func (r Resource) Required() []string {
	var names []string
	for _, f := range r.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// NotFoundMessage is the client message for a missing document
func (r Resource) NotFoundMessage() string {
	return r.Singular + " not found"
}

// DeletedMessage is the client message for a successful delete
func (r Resource) DeletedMessage() string {
	return r.Singular + " deleted successfully"
}

// PublicQuery is the query behind the public listing
func (r Resource) PublicQuery() storage.Query {
	q := storage.Query{Sort: &storage.Sort{Field: r.PublicSort.Field, Desc: r.PublicSort.Desc}}
	if r.PublicOnly {
		q.Filter = map[string]any{r.PublishedField: true}
	}
	return q
}

// PublishedFilter selects published documents
func (r Resource) PublishedFilter() map[string]any {
	return map[string]any{r.PublishedField: true}
}

var (
	Links = Resource{
		Name:       "links",
		Singular:   "Link",
		Kind:       "link",
		Collection: storage.CollectionLinks,
		KeyField:   storage.IDField,
		Fields: []Field{
			{Name: "title", Label: "Title", Kind: FieldText, Required: true},
			{Name: "url", Label: "URL", Kind: FieldURL, Required: true},
			{Name: "icon", Label: "Icon", Kind: FieldIcon},
			{Name: "isActive", Label: "Active", Kind: FieldBool},
		},
		Defaults: func(time.Time) storage.Document {
			return storage.Document{"isActive": true}
		},
		Forced:         storage.Document{"clicks": int64(0)},
		PublishedField: "isActive",
		PublicSort:     storage.Sort{Field: storage.CreatedAtField, Desc: true},
	}

	Blog = Resource{
		Name:       "blog",
		Singular:   "Blog post",
		Kind:       "blog",
		Collection: storage.CollectionBlog,
		KeyField:   "slug",
		Fields: []Field{
			{Name: "title", Label: "Title", Kind: FieldText, Required: true},
			{Name: "slug", Label: "Slug", Kind: FieldText, Required: true},
			{Name: "excerpt", Label: "Excerpt", Kind: FieldTextarea, Required: true},
			{Name: "content", Label: "Content", Kind: FieldTextarea, Required: true},
			{Name: "author", Label: "Author", Kind: FieldText, Required: true},
			{Name: "coverImage", Label: "Cover image URL", Kind: FieldURL},
			{Name: "tags", Label: "Tags", Kind: FieldTags},
			{Name: "published", Label: "Published", Kind: FieldBool},
		},
		Defaults: func(time.Time) storage.Document {
			return storage.Document{"published": false, "views": int64(0), "tags": []any{}}
		},
		PublishedField: "published",
		PublicSort:     storage.Sort{Field: storage.CreatedAtField, Desc: true},
	}

	Tips = Resource{
		Name:       "tips",
		Singular:   "Tip",
		Kind:       "tip",
		Collection: storage.CollectionTips,
		KeyField:   storage.IDField,
		Fields: []Field{
			{Name: "title", Label: "Title", Kind: FieldText, Required: true},
			{Name: "content", Label: "Content", Kind: FieldTextarea, Required: true},
			{Name: "order", Label: "Order", Kind: FieldNumber},
			{Name: "isPublished", Label: "Published", Kind: FieldBool},
		},
		Defaults: func(time.Time) storage.Document {
			return storage.Document{"isPublished": false, "order": int64(0)}
		},
		PublishedField: "isPublished",
		PublicOnly:     true,
		PublicSort:     storage.Sort{Field: "order"},
	}

	News = Resource{
		Name:       "news",
		Singular:   "News item",
		Kind:       "news",
		Collection: storage.CollectionNews,
		KeyField:   storage.IDField,
		Fields: []Field{
			{Name: "title", Label: "Title", Kind: FieldText, Required: true},
			{Name: "content", Label: "Content", Kind: FieldTextarea, Required: true},
			{Name: "publishedAt", Label: "Published at", Kind: FieldTime},
			{Name: "isPublished", Label: "Published", Kind: FieldBool},
		},
		Defaults: func(now time.Time) storage.Document {
			return storage.Document{"isPublished": false, "publishedAt": now}
		},
		PublishedField: "isPublished",
		PublicOnly:     true,
		PublicSort:     storage.Sort{Field: "publishedAt", Desc: true},
	}
)

// All returns every content resource in navigation order
func All() []Resource {
	return []Resource{Links, Blog, Tips, News}
}

// ByName finds a resource by URL segment
func ByName(name string) (Resource, bool) {
	for _, r := range All() {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}
