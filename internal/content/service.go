package content

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dgellow/biolink/internal/apierr"
	"github.com/dgellow/biolink/internal/idp"
	"github.com/dgellow/biolink/internal/log"
	"github.com/dgellow/biolink/internal/storage"
)

// Service implements the content operations. Every method returns
// *apierr.Error values for client-facing failures.
type Service struct {
	store storage.Storage
	now   func() time.Time
}

// NewService creates a content service over store
func NewService(store storage.Storage) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) storeError(r Resource, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.NewNotFound(r.NotFoundMessage())
	}
	return apierr.NewInternal(fmt.Errorf("%s: %w", r.Name, err))
}

// List returns the public listing of r
func (s *Service) List(ctx context.Context, r Resource) ([]storage.Document, error) {
	docs, err := s.store.List(ctx, r.Collection, r.PublicQuery())
	if err != nil {
		return nil, s.storeError(r, err)
	}
	return nonNil(docs), nil
}

// ListAll returns every document of r, newest first, for the admin UI
func (s *Service) ListAll(ctx context.Context, r Resource) ([]storage.Document, error) {
	docs, err := s.store.List(ctx, r.Collection, storage.Query{
		Sort: &storage.Sort{Field: storage.CreatedAtField, Desc: true},
	})
	if err != nil {
		return nil, s.storeError(r, err)
	}
	return nonNil(docs), nil
}

func nonNil(docs []storage.Document) []storage.Document {
	if docs == nil {
		return []storage.Document{}
	}
	return docs
}

func (s *Service) selector(r Resource, key string) storage.Selector {
	if r.KeyField == storage.IDField {
		return storage.ByID(key)
	}
	return storage.ByField(r.KeyField, key)
}

// Get returns one document by its key
func (s *Service) Get(ctx context.Context, r Resource, key string) (storage.Document, error) {
	var doc storage.Document
	var err error
	if r.KeyField == storage.IDField {
		doc, err = s.store.Get(ctx, r.Collection, key)
	} else {
		doc, err = s.store.FindOne(ctx, r.Collection, r.KeyField, key)
	}
	if err != nil {
		return nil, s.storeError(r, err)
	}
	return doc, nil
}

// Create validates body, applies defaults and stores it
func (s *Service) Create(ctx context.Context, r Resource, body storage.Document) (storage.Document, error) {
	doc := normalize(r, body)

	for _, field := range r.Required() {
		if isBlank(doc[field]) {
			return nil, apierr.NewBadRequest(fmt.Sprintf("%s is required", field))
		}
	}

	if r.KeyField != storage.IDField {
		key, _ := doc[r.KeyField].(string)
		if err := s.ensureKeyFree(ctx, r, key); err != nil {
			return nil, err
		}
	}

	if r.Defaults != nil {
		for k, v := range r.Defaults(s.now()) {
			if _, ok := doc[k]; !ok {
				doc[k] = v
			}
		}
	}
	for k, v := range r.Forced {
		doc[k] = v
	}

	created, err := s.store.Create(ctx, r.Collection, doc)
	if err != nil {
		return nil, s.storeError(r, err)
	}

	log.LogInfoWithFields("content", "Document created", map[string]any{
		"resource": r.Name,
		"id":       created.ID(),
	})
	return created, nil
}

// ensureKeyFree rejects a key another document of r is already addressed by
func (s *Service) ensureKeyFree(ctx context.Context, r Resource, key string) error {
	_, err := s.store.FindOne(ctx, r.Collection, r.KeyField, key)
	if err == nil {
		return apierr.NewBadRequest(fmt.Sprintf("%s %q already exists", r.KeyField, key))
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return s.storeError(r, err)
	}
	return nil
}

// Update sets the fields in body on the document addressed by key
func (s *Service) Update(ctx context.Context, r Resource, key string, body storage.Document) (storage.Document, error) {
	fields := normalize(r, body)
	delete(fields, storage.IDField)
	delete(fields, storage.CreatedAtField)
	delete(fields, storage.UpdatedAtField)

	if len(fields) == 0 {
		return s.Get(ctx, r, key)
	}

	if newKey, ok := fields[r.KeyField]; ok && r.KeyField != storage.IDField {
		if isBlank(newKey) {
			return nil, apierr.NewBadRequest(fmt.Sprintf("%s is required", r.KeyField))
		}
		str, isString := newKey.(string)
		if !isString {
			return nil, apierr.NewBadRequest(fmt.Sprintf("%s must be a string", r.KeyField))
		}
		if str != key {
			if err := s.ensureKeyFree(ctx, r, str); err != nil {
				return nil, err
			}
		}
	}

	updated, err := s.store.Update(ctx, r.Collection, s.selector(r, key), fields)
	if err != nil {
		return nil, s.storeError(r, err)
	}

	log.LogInfoWithFields("content", "Document updated", map[string]any{
		"resource": r.Name,
		"key":      key,
		"fields":   len(fields),
	})
	return updated, nil
}

// Delete removes the document addressed by key
func (s *Service) Delete(ctx context.Context, r Resource, key string) error {
	if err := s.store.Delete(ctx, r.Collection, s.selector(r, key)); err != nil {
		return s.storeError(r, err)
	}

	log.LogInfoWithFields("content", "Document deleted", map[string]any{
		"resource": r.Name,
		"key":      key,
	})
	return nil
}

// TogglePublished flips the resource's publish flag. It reads then writes,
// so two concurrent toggles may cancel out; it is only used by the admin UI.
func (s *Service) TogglePublished(ctx context.Context, r Resource, key string) (storage.Document, error) {
	doc, err := s.Get(ctx, r, key)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, r, key, storage.Document{r.PublishedField: !doc.Bool(r.PublishedField)})
}

// Click atomically counts one visit of a link and returns the updated link
func (s *Service) Click(ctx context.Context, id string) (storage.Document, error) {
	doc, err := s.store.Increment(ctx, Links.Collection, id, "clicks", 1)
	if err != nil {
		return nil, s.storeError(Links, err)
	}
	return doc, nil
}

// RecordView counts one read of a blog post
func (s *Service) RecordView(ctx context.Context, id string) error {
	if _, err := s.store.Increment(ctx, Blog.Collection, id, "views", 1); err != nil {
		return s.storeError(Blog, err)
	}
	return nil
}

// RecordUser upserts the bookkeeping record of a verified principal
func (s *Service) RecordUser(ctx context.Context, identity *idp.Identity) error {
	if identity == nil || identity.UID == "" {
		return nil
	}
	fields := storage.Document{
		"uid":        identity.UID,
		"provider":   identity.Provider,
		"lastSeenAt": s.now(),
	}
	if identity.Email != "" {
		fields["email"] = identity.Email
	}
	if identity.Name != "" {
		fields["displayName"] = identity.Name
	}
	if err := s.store.Upsert(ctx, storage.CollectionUsers, identity.UID, fields); err != nil {
		return fmt.Errorf("recording user %s: %w", identity.UID, err)
	}
	return nil
}

// normalize copies body, coercing JSON numbers and form strings into the
// types the resource's fields are declared with.
func normalize(r Resource, body storage.Document) storage.Document {
	kinds := make(map[string]FieldKind, len(r.Fields))
	for _, f := range r.Fields {
		kinds[f.Name] = f.Kind
	}

	out := make(storage.Document, len(body))
	for k, v := range body {
		switch kinds[k] {
		case FieldTime:
			if str, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, str); err == nil {
					v = t
				}
			}
		case FieldTags:
			if str, ok := v.(string); ok {
				v = splitTags(str)
			}
		}
		if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			v = int64(f)
		}
		out[k] = v
	}
	return out
}

func splitTags(s string) []any {
	tags := []any{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	default:
		return false
	}
}
