package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/dgellow/biolink/internal/log"
)

// MongoStorage implements Storage on MongoDB. Generated ids are ObjectIDs
// exposed as hex strings; caller-chosen ids (Upsert) are stored as plain
// strings.
type MongoStorage struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Ensure MongoStorage implements Storage interface
var _ Storage = (*MongoStorage)(nil)

// NewMongoStorage connects to uri and verifies the connection
func NewMongoStorage(ctx context.Context, uri, database string) (*MongoStorage, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if database == "" {
		return nil, fmt.Errorf("mongo database is required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	s := &MongoStorage{client: client, db: client.Database(database), now: time.Now}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.LogInfoWithFields("storage", "Connected to MongoDB", map[string]any{
		"database": database,
	})
	return s, nil
}

// idValue converts an id string to the stored _id value. Hex strings become
// ObjectIDs; anything else is matched as a plain string and, for generated
// ids, simply finds nothing.
func idValue(id string) any {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func selectorFilter(sel Selector) bson.D {
	if sel.IsID() {
		id, _ := sel.Value.(string)
		return bson.D{{Key: IDField, Value: idValue(id)}}
	}
	return bson.D{{Key: sel.Field, Value: sel.Value}}
}

func toFilter(filter map[string]any) bson.D {
	d := bson.D{}
	for k, v := range filter {
		if k == IDField {
			if id, ok := v.(string); ok {
				v = idValue(id)
			}
		}
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}

func toSet(fields Document) bson.D {
	d := make(bson.D, 0, len(fields))
	for k, v := range fields {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}

// normalize converts driver types into the plain Go values the rest of the
// application works with.
func normalize(v any) any {
	switch x := v.(type) {
	case bson.ObjectID:
		return x.Hex()
	case bson.DateTime:
		return x.Time()
	case int32:
		return int64(x)
	case bson.A:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = normalize(e.Value)
		}
		return out
	default:
		return v
	}
}

func fromBSON(m bson.M) Document {
	doc := make(Document, len(m))
	for k, v := range m {
		doc[k] = normalize(v)
	}
	return doc
}

// List runs an equality-filtered, optionally ordered find
func (s *MongoStorage) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	opts := options.Find()
	if q.Sort != nil {
		dir := 1
		if q.Sort.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.Sort.Field, Value: dir}, {Key: IDField, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(collection).Find(ctx, toFilter(q.Filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, fromBSON(m))
	}
	return docs, nil
}

func (s *MongoStorage) findOne(ctx context.Context, collection string, filter bson.D) (Document, error) {
	var m bson.M
	err := s.db.Collection(collection).FindOne(ctx, filter).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find in %s: %w", collection, err)
	}
	return fromBSON(m), nil
}

// Get fetches a document by id
func (s *MongoStorage) Get(ctx context.Context, collection, id string) (Document, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, collection, selectorFilter(ByID(id)))
}

// FindOne returns the first document whose field equals value
func (s *MongoStorage) FindOne(ctx context.Context, collection, field string, value any) (Document, error) {
	return s.findOne(ctx, collection, selectorFilter(ByField(field, value)))
}

// Create inserts doc under a new ObjectID
func (s *MongoStorage) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	now := s.now()
	stored := stripReserved(doc)
	stored[CreatedAtField] = now
	stored[UpdatedAtField] = now

	oid := bson.NewObjectID()
	insert := append(bson.D{{Key: IDField, Value: oid}}, toSet(stored)...)
	if _, err := s.db.Collection(collection).InsertOne(ctx, insert); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", collection, err)
	}

	stored[IDField] = oid.Hex()
	return stored, nil
}

func (s *MongoStorage) findOneAndUpdate(ctx context.Context, collection string, filter, update bson.D) (Document, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m bson.M
	err := s.db.Collection(collection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update %s: %w", collection, err)
	}
	return fromBSON(m), nil
}

// Update applies $set to the selected document
func (s *MongoStorage) Update(ctx context.Context, collection string, sel Selector, fields Document) (Document, error) {
	set := stripReserved(fields)
	set[UpdatedAtField] = s.now()
	return s.findOneAndUpdate(ctx, collection, selectorFilter(sel), bson.D{{Key: "$set", Value: toSet(set)}})
}

// Delete removes the selected document
func (s *MongoStorage) Delete(ctx context.Context, collection string, sel Selector) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, selectorFilter(sel))
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Increment applies $inc, which is atomic on the server
func (s *MongoStorage) Increment(ctx context.Context, collection, id, field string, delta int64) (Document, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: field, Value: delta}}},
		{Key: "$set", Value: bson.D{{Key: UpdatedAtField, Value: s.now()}}},
	}
	return s.findOneAndUpdate(ctx, collection, selectorFilter(ByID(id)), update)
}

// Count counts matching documents
func (s *MongoStorage) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, toFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// Sum adds up a numeric field with a $group stage
func (s *MongoStorage) Sum(ctx context.Context, collection, field string, filter map[string]any) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: toFilter(filter)}},
		{{Key: "$group", Value: bson.D{
			{Key: IDField, Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$" + field}}},
		}}},
	}

	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to sum %s.%s: %w", collection, field, err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return 0, fmt.Errorf("failed to sum %s.%s: %w", collection, field, err)
		}
		return 0, nil
	}

	var result bson.M
	if err := cursor.Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode sum: %w", err)
	}
	total, _ := toInt64(normalize(result["total"]))
	return total, nil
}

// Upsert sets fields on the document with the given id, stamping createdAt on insert
func (s *MongoStorage) Upsert(ctx context.Context, collection, id string, fields Document) error {
	if id == "" {
		return fmt.Errorf("upsert requires an id")
	}
	now := s.now()
	set := stripReserved(fields)
	set[UpdatedAtField] = now

	update := bson.D{
		{Key: "$set", Value: toSet(set)},
		{Key: "$setOnInsert", Value: bson.D{{Key: CreatedAtField, Value: now}}},
	}
	_, err := s.db.Collection(collection).UpdateOne(ctx, selectorFilter(ByID(id)), update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// Ping checks the primary is reachable
func (s *MongoStorage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb ping: %w", err)
	}
	return nil
}

// Close disconnects the client
func (s *MongoStorage) Close() error {
	return s.client.Disconnect(context.Background())
}
