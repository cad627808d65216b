package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage keeps documents in process memory. A single RWMutex
// serializes writers, which gives every operation per-document atomicity.
type MemoryStorage struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	seq         map[string]uint64 // insertion order, used to break sort ties
	next        uint64
	now         func() time.Time
}

// Ensure MemoryStorage implements Storage interface
var _ Storage = (*MemoryStorage)(nil)

// MemoryOption configures a MemoryStorage
type MemoryOption func(*MemoryStorage)

// WithClock replaces the clock used for createdAt and updatedAt
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		collections: make(map[string]map[string]Document),
		seq:         make(map[string]uint64),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStorage) collection(name string) map[string]Document {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]Document)
		s.collections[name] = c
	}
	return c
}

// List returns matching documents as copies
func (s *MemoryStorage) List(_ context.Context, collection string, q Query) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for _, doc := range s.collections[collection] {
		if matches(doc, q.Filter) {
			out = append(out, doc.Clone())
		}
	}

	slices.SortStableFunc(out, func(a, b Document) int {
		if q.Sort != nil {
			c := compareValues(a[q.Sort.Field], b[q.Sort.Field])
			if q.Sort.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return compareSeq(s.seq[a.ID()], s.seq[b.ID()])
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Get returns a copy of a document by id
func (s *MemoryStorage) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// FindOne returns the first document, in insertion order, whose field equals value
func (s *MemoryStorage) FindOne(_ context.Context, collection, field string, value any) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.find(collection, Selector{Field: field, Value: value})
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// find must be called with the lock held
func (s *MemoryStorage) find(collection string, sel Selector) (Document, bool) {
	c := s.collections[collection]
	if sel.IsID() {
		id, _ := sel.Value.(string)
		doc, ok := c[id]
		return doc, ok
	}

	var found Document
	var foundSeq uint64
	for id, doc := range c {
		if !equalValues(doc[sel.Field], sel.Value) {
			continue
		}
		if found == nil || s.seq[id] < foundSeq {
			found, foundSeq = doc, s.seq[id]
		}
	}
	return found, found != nil
}

// Create stores doc under a new uuid
func (s *MemoryStorage) Create(_ context.Context, collection string, doc Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := stripReserved(doc)
	id := uuid.NewString()
	stored[IDField] = id
	stored[CreatedAtField] = now
	stored[UpdatedAtField] = now

	s.collection(collection)[id] = stored
	s.next++
	s.seq[id] = s.next

	return stored.Clone(), nil
}

// Update sets fields on the selected document
func (s *MemoryStorage) Update(_ context.Context, collection string, sel Selector, fields Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.find(collection, sel)
	if !ok {
		return nil, ErrNotFound
	}

	for k, v := range stripReserved(fields) {
		doc[k] = v
	}
	doc[UpdatedAtField] = s.now()

	return doc.Clone(), nil
}

// Delete removes the selected document
func (s *MemoryStorage) Delete(_ context.Context, collection string, sel Selector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.find(collection, sel)
	if !ok {
		return ErrNotFound
	}

	id := doc.ID()
	delete(s.collections[collection], id)
	delete(s.seq, id)
	return nil
}

// Increment adds delta to a numeric field under the write lock
func (s *MemoryStorage) Increment(_ context.Context, collection, id, field string, delta int64) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}

	current, ok := toInt64(doc[field])
	if !ok && doc[field] != nil {
		return nil, fmt.Errorf("field %s is not numeric", field)
	}
	doc[field] = current + delta
	doc[UpdatedAtField] = s.now()

	return doc.Clone(), nil
}

// Count returns the number of matching documents
func (s *MemoryStorage) Count(_ context.Context, collection string, filter map[string]any) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

// Sum adds up a numeric field over matching documents. Non-numeric values count as 0.
func (s *MemoryStorage) Sum(_ context.Context, collection, field string, filter map[string]any) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			n, _ := toInt64(doc[field])
			total += n
		}
	}
	return total, nil
}

// Upsert sets fields on the document with the given id, creating it if needed
func (s *MemoryStorage) Upsert(_ context.Context, collection, id string, fields Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := s.collection(collection)
	doc, ok := c[id]
	if !ok {
		doc = Document{IDField: id, CreatedAtField: now}
		c[id] = doc
		s.next++
		s.seq[id] = s.next
	}
	for k, v := range stripReserved(fields) {
		doc[k] = v
	}
	doc[UpdatedAtField] = now
	return nil
}

// Ping always succeeds
func (s *MemoryStorage) Ping(context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStorage) Close() error {
	return nil
}
