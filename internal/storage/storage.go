package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document doesn't exist. Backends also
// return it for ids they cannot parse.
var ErrNotFound = errors.New("document not found")

// Reserved document fields
const (
	IDField        = "_id"
	CreatedAtField = "createdAt"
	UpdatedAtField = "updatedAt"
)

// Collection names
const (
	CollectionLinks = "links"
	CollectionBlog  = "blog_posts"
	CollectionTips  = "tips"
	CollectionNews  = "news"
	CollectionUsers = "users"
)

// Document is a schema-loose record. Documents returned by a backend always
// carry their id under IDField as a string.
type Document map[string]any

// ID returns the document id
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// String returns a string field or ""
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Bool returns a bool field or false
func (d Document) Bool(field string) bool {
	b, _ := d[field].(bool)
	return b
}

// Int returns a numeric field as int64, or 0
func (d Document) Int(field string) int64 {
	n, _ := toInt64(d[field])
	return n
}

// Time returns a time field, or the zero time
func (d Document) Time(field string) time.Time {
	t, _ := d[field].(time.Time)
	return t
}

// Clone returns a shallow copy of d
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Sort orders a query by one field
type Sort struct {
	Field string
	Desc  bool
}

// Query selects documents from a collection. Filter is an equality match on
// every listed field.
type Query struct {
	Filter map[string]any
	Sort   *Sort
	Limit  int
}

// Selector addresses a single document, either by id or by a unique field
// such as a blog post slug.
type Selector struct {
	Field string
	Value any
}

// ByID selects a document by id
func ByID(id string) Selector {
	return Selector{Field: IDField, Value: id}
}

// ByField selects the first document whose field equals value
func ByField(field string, value any) Selector {
	return Selector{Field: field, Value: value}
}

// IsID reports whether the selector addresses the id field
func (s Selector) IsID() bool {
	return s.Field == IDField
}

// Storage is the document store behind every content type. Each method is a
// single backend call and is atomic per document; there are no
// multi-document transactions.
type Storage interface {
	List(ctx context.Context, collection string, q Query) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	FindOne(ctx context.Context, collection, field string, value any) (Document, error)

	// Create stores a new document under a generated id, stamping
	// createdAt and updatedAt, and returns it.
	Create(ctx context.Context, collection string, doc Document) (Document, error)

	// Update sets the given fields on the selected document and returns the
	// updated document. Fields not listed are untouched.
	Update(ctx context.Context, collection string, sel Selector, fields Document) (Document, error)

	Delete(ctx context.Context, collection string, sel Selector) error

	// Increment atomically adds delta to a numeric field
	Increment(ctx context.Context, collection, id, field string, delta int64) (Document, error)

	Count(ctx context.Context, collection string, filter map[string]any) (int64, error)
	Sum(ctx context.Context, collection, field string, filter map[string]any) (int64, error)

	// Upsert sets fields on the document with the given caller-chosen id,
	// creating it when missing.
	Upsert(ctx context.Context, collection, id string, fields Document) error

	Ping(ctx context.Context) error
	Close() error
}

// stripReserved removes fields callers may not set directly
func stripReserved(fields Document) Document {
	out := fields.Clone()
	delete(out, IDField)
	delete(out, CreatedAtField)
	delete(out, UpdatedAtField)
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}
