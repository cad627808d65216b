package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageContract exercises the behaviour every backend must share
func runStorageContract(t *testing.T, s Storage) {
	ctx := context.Background()

	t.Run("create stamps id and timestamps", func(t *testing.T) {
		doc, err := s.Create(ctx, CollectionLinks, Document{"title": "Site", "url": "https://example.com", "_id": "forged"})
		require.NoError(t, err)

		assert.NotEmpty(t, doc.ID())
		assert.NotEqual(t, "forged", doc.ID())
		assert.False(t, doc.Time(CreatedAtField).IsZero())
		assert.False(t, doc.Time(UpdatedAtField).IsZero())

		got, err := s.Get(ctx, CollectionLinks, doc.ID())
		require.NoError(t, err)
		assert.Equal(t, "Site", got.String("title"))
	})

	t.Run("get missing and malformed ids", func(t *testing.T) {
		for _, id := range []string{"", "does-not-exist", "507f1f77bcf86cd799439011", "nested/path", "a/b/c", ".."} {
			_, err := s.Get(ctx, CollectionLinks, id)
			assert.True(t, errors.Is(err, ErrNotFound), "id %q: %v", id, err)
		}

		_, err := s.Increment(ctx, CollectionLinks, "nested/path", "clicks", 1)
		assert.True(t, errors.Is(err, ErrNotFound), "increment: %v", err)
		_, err = s.Update(ctx, CollectionLinks, ByID("nested/path"), Document{"title": "x"})
		assert.True(t, errors.Is(err, ErrNotFound), "update: %v", err)
		assert.True(t, errors.Is(s.Delete(ctx, CollectionLinks, ByID("nested/path")), ErrNotFound))
	})

	t.Run("list filters sorts and limits", func(t *testing.T) {
		for i, published := range []bool{true, false, true, true} {
			_, err := s.Create(ctx, CollectionTips, Document{
				"title":       "tip",
				"content":     "c",
				"order":       int64(10 - i),
				"isPublished": published,
			})
			require.NoError(t, err)
		}

		docs, err := s.List(ctx, CollectionTips, Query{
			Filter: map[string]any{"isPublished": true},
			Sort:   &Sort{Field: "order"},
		})
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, []int64{7, 8, 10}, []int64{docs[0].Int("order"), docs[1].Int("order"), docs[2].Int("order")})

		limited, err := s.List(ctx, CollectionTips, Query{Sort: &Sort{Field: "order", Desc: true}, Limit: 2})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, int64(10), limited[0].Int("order"))
	})

	t.Run("update by field selector", func(t *testing.T) {
		created, err := s.Create(ctx, CollectionBlog, Document{"title": "Hello", "slug": "hello", "views": int64(0)})
		require.NoError(t, err)

		updated, err := s.Update(ctx, CollectionBlog, ByField("slug", "hello"), Document{
			"title":     "Hello again",
			"createdAt": "ignored",
		})
		require.NoError(t, err)
		assert.Equal(t, created.ID(), updated.ID())
		assert.Equal(t, "Hello again", updated.String("title"))
		assert.Equal(t, "hello", updated.String("slug"), "unlisted fields are kept")
		// backends store timestamps with millisecond precision at worst
		assert.WithinDuration(t, created.Time(CreatedAtField), updated.Time(CreatedAtField), time.Millisecond, "createdAt is immutable")

		_, err = s.Update(ctx, CollectionBlog, ByField("slug", "missing"), Document{"title": "x"})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("delete", func(t *testing.T) {
		doc, err := s.Create(ctx, CollectionNews, Document{"title": "n", "content": "c"})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, CollectionNews, ByID(doc.ID())))
		assert.True(t, errors.Is(s.Delete(ctx, CollectionNews, ByID(doc.ID())), ErrNotFound))

		_, err = s.Get(ctx, CollectionNews, doc.ID())
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("increment", func(t *testing.T) {
		doc, err := s.Create(ctx, CollectionLinks, Document{"title": "t", "url": "u", "clicks": int64(0)})
		require.NoError(t, err)

		got, err := s.Increment(ctx, CollectionLinks, doc.ID(), "clicks", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Int("clicks"))

		_, err = s.Increment(ctx, CollectionLinks, "missing", "clicks", 1)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("count and sum", func(t *testing.T) {
		for _, clicks := range []int64{3, 4} {
			_, err := s.Create(ctx, "counted", Document{"isPublished": true, "clicks": clicks})
			require.NoError(t, err)
		}
		_, err := s.Create(ctx, "counted", Document{"isPublished": false, "clicks": int64(100)})
		require.NoError(t, err)

		n, err := s.Count(ctx, "counted", map[string]any{"isPublished": true})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		total, err := s.Sum(ctx, "counted", "clicks", map[string]any{"isPublished": true})
		require.NoError(t, err)
		assert.Equal(t, int64(7), total)

		empty, err := s.Sum(ctx, "nothing-here", "clicks", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), empty)
	})

	t.Run("upsert", func(t *testing.T) {
		require.NoError(t, s.Upsert(ctx, CollectionUsers, "uid-1", Document{"email": "a@example.com"}))
		first, err := s.Get(ctx, CollectionUsers, "uid-1")
		require.NoError(t, err)

		require.NoError(t, s.Upsert(ctx, CollectionUsers, "uid-1", Document{"displayName": "A"}))
		second, err := s.Get(ctx, CollectionUsers, "uid-1")
		require.NoError(t, err)

		assert.Equal(t, "a@example.com", second.String("email"))
		assert.Equal(t, "A", second.String("displayName"))
		assert.True(t, first.Time(CreatedAtField).Equal(second.Time(CreatedAtField)))
	})
}

func TestMemoryStorage(t *testing.T) {
	runStorageContract(t, NewMemoryStorage())
}

func TestMemoryStorage_ConcurrentIncrement(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	doc, err := s.Create(ctx, CollectionLinks, Document{"title": "t", "url": "u", "clicks": int64(0)})
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, CollectionLinks, doc.ID(), "clicks", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, CollectionLinks, doc.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.Int("clicks"), "no increment may be lost")
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	doc, err := s.Create(ctx, CollectionLinks, Document{"title": "original"})
	require.NoError(t, err)

	doc["title"] = "mutated"
	got, err := s.Get(ctx, CollectionLinks, doc.ID())
	require.NoError(t, err)
	assert.Equal(t, "original", got.String("title"))
}

func TestMemoryStorage_SortTiesKeepInsertionOrder(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	var ids []string
	for range 5 {
		doc, err := s.Create(ctx, CollectionTips, Document{"order": int64(0)})
		require.NoError(t, err)
		ids = append(ids, doc.ID())
	}

	docs, err := s.List(ctx, CollectionTips, Query{Sort: &Sort{Field: "order"}})
	require.NoError(t, err)
	for i, doc := range docs {
		assert.Equal(t, ids[i], doc.ID())
	}
}
