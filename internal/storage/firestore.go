package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dgellow/biolink/internal/log"
)

// FirestoreStorage implements Storage using Google Cloud Firestore.
//
// Document ids are Firestore auto-ids. Queries that filter on one field and
// order by another (published tips by order, published news by
// publishedAt) need a composite index; Firestore reports the index to
// create in the error message.
type FirestoreStorage struct {
	client *firestore.Client
	prefix string
	now    func() time.Time
}

// Ensure FirestoreStorage implements Storage interface
var _ Storage = (*FirestoreStorage)(nil)

// NewFirestoreStorage creates a new Firestore storage instance. Collection
// names are prefixed with prefix so several sites can share a database.
func NewFirestoreStorage(ctx context.Context, projectID, database, prefix string) (*FirestoreStorage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}

	var client *firestore.Client
	var err error

	// Firestore client with custom database
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to Firestore", map[string]any{
		"project":  projectID,
		"database": database,
		"prefix":   prefix,
	})

	return &FirestoreStorage{client: client, prefix: prefix, now: time.Now}, nil
}

func (s *FirestoreStorage) col(name string) *firestore.CollectionRef {
	return s.client.Collection(s.prefix + name)
}

// validDocID reports whether id names a document directly under a
// collection. Ids with a slash would address a nested path, and "." and
// ".." are reserved by Firestore.
func validDocID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.Contains(id, "/")
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func snapshotToDocument(snap *firestore.DocumentSnapshot) Document {
	doc := Document(snap.Data())
	doc[IDField] = snap.Ref.ID
	return doc
}

// List runs an equality-filtered, optionally ordered query
func (s *FirestoreStorage) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	query := s.col(collection).Query
	for field, value := range q.Filter {
		query = query.Where(field, "==", value)
	}
	if q.Sort != nil {
		dir := firestore.Asc
		if q.Sort.Desc {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.Sort.Field, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
		}
		docs = append(docs, snapshotToDocument(snap))
	}
	return docs, nil
}

// Get fetches a document by id
func (s *FirestoreStorage) Get(ctx context.Context, collection, id string) (Document, error) {
	if !validDocID(id) {
		return nil, ErrNotFound
	}
	snap, err := s.col(collection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return snapshotToDocument(snap), nil
}

// FindOne returns the first document whose field equals value
func (s *FirestoreStorage) FindOne(ctx context.Context, collection, field string, value any) (Document, error) {
	snap, err := s.findSnapshot(ctx, collection, Selector{Field: field, Value: value})
	if err != nil {
		return nil, err
	}
	return snapshotToDocument(snap), nil
}

func (s *FirestoreStorage) findSnapshot(ctx context.Context, collection string, sel Selector) (*firestore.DocumentSnapshot, error) {
	if sel.IsID() {
		id, _ := sel.Value.(string)
		if !validDocID(id) {
			return nil, ErrNotFound
		}
		snap, err := s.col(collection).Doc(id).Get(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
		}
		return snap, nil
	}

	iter := s.col(collection).Where(sel.Field, "==", sel.Value).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", collection, sel.Field, err)
	}
	return snap, nil
}

// Create adds a document under a Firestore auto-id
func (s *FirestoreStorage) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	now := s.now()
	stored := stripReserved(doc)
	stored[CreatedAtField] = now
	stored[UpdatedAtField] = now

	ref := s.col(collection).NewDoc()
	if _, err := ref.Create(ctx, map[string]any(stored)); err != nil {
		return nil, fmt.Errorf("failed to create %s document: %w", collection, err)
	}

	stored[IDField] = ref.ID
	return stored, nil
}

func fieldUpdates(fields Document) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return updates
}

// Update sets fields on the selected document. Update fails with NotFound
// when the document vanished between lookup and write.
func (s *FirestoreStorage) Update(ctx context.Context, collection string, sel Selector, fields Document) (Document, error) {
	ref, err := s.resolve(ctx, collection, sel)
	if err != nil {
		return nil, err
	}

	set := stripReserved(fields)
	set[UpdatedAtField] = s.now()
	if _, err := ref.Update(ctx, fieldUpdates(set)); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update %s/%s: %w", collection, ref.ID, err)
	}

	return s.Get(ctx, collection, ref.ID)
}

// resolve turns a selector into a document reference. Id selectors need no
// read; Update and Delete detect missing documents themselves.
func (s *FirestoreStorage) resolve(ctx context.Context, collection string, sel Selector) (*firestore.DocumentRef, error) {
	if sel.IsID() {
		id, _ := sel.Value.(string)
		if !validDocID(id) {
			return nil, ErrNotFound
		}
		return s.col(collection).Doc(id), nil
	}
	snap, err := s.findSnapshot(ctx, collection, sel)
	if err != nil {
		return nil, err
	}
	return snap.Ref, nil
}

// Delete removes the selected document, failing when it does not exist
func (s *FirestoreStorage) Delete(ctx context.Context, collection string, sel Selector) error {
	ref, err := s.resolve(ctx, collection, sel)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete %s/%s: %w", collection, ref.ID, err)
	}
	return nil
}

// Increment uses a server-side transform so concurrent increments never
// lose updates.
func (s *FirestoreStorage) Increment(ctx context.Context, collection, id, field string, delta int64) (Document, error) {
	if !validDocID(id) {
		return nil, ErrNotFound
	}
	ref := s.col(collection).Doc(id)
	_, err := ref.Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{field}, Value: firestore.Increment(delta)},
		{FieldPath: firestore.FieldPath{UpdatedAtField}, Value: s.now()},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to increment %s/%s.%s: %w", collection, id, field, err)
	}
	return s.Get(ctx, collection, id)
}

func (s *FirestoreStorage) filtered(collection string, filter map[string]any) firestore.Query {
	query := s.col(collection).Query
	for field, value := range filter {
		query = query.Where(field, "==", value)
	}
	return query
}

// Count counts matching documents, reading ids only
func (s *FirestoreStorage) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	iter := s.filtered(collection, filter).Select().Documents(ctx)
	defer iter.Stop()

	var n int64
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", collection, err)
		}
		n++
	}
}

// Sum adds up a numeric field over matching documents
func (s *FirestoreStorage) Sum(ctx context.Context, collection, field string, filter map[string]any) (int64, error) {
	iter := s.filtered(collection, filter).Select(field).Documents(ctx)
	defer iter.Stop()

	var total int64
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to sum %s.%s: %w", collection, field, err)
		}
		v, err := snap.DataAt(field)
		if err != nil {
			continue
		}
		n, _ := toInt64(v)
		total += n
	}
}

// Upsert merges fields into the document with the given id, stamping
// createdAt only when the document is new.
func (s *FirestoreStorage) Upsert(ctx context.Context, collection, id string, fields Document) error {
	if !validDocID(id) {
		return fmt.Errorf("invalid upsert id %q", id)
	}
	now := s.now()
	ref := s.col(collection).Doc(id)

	set := stripReserved(fields)
	set[UpdatedAtField] = now

	created := set.Clone()
	created[CreatedAtField] = now
	_, err := ref.Create(ctx, map[string]any(created))
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to upsert %s/%s: %w", collection, id, err)
	}

	if _, err := ref.Set(ctx, map[string]any(set), firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// Ping reads a single document id to check connectivity
func (s *FirestoreStorage) Ping(ctx context.Context) error {
	iter := s.col(CollectionLinks).Select().Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

// Close closes the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
