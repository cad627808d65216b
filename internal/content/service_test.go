package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/biolink/internal/apierr"
	"github.com/dgellow/biolink/internal/idp"
	"github.com/dgellow/biolink/internal/storage"
)

// tickingClock returns a clock that advances one second per call
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestService() (*Service, *storage.MemoryStorage) {
	store := storage.NewMemoryStorage(storage.WithClock(tickingClock()))
	return NewService(store), store
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, status, apierr.As(err).Status(), "error: %v", err)
}

func TestCreateLink_ResetsClicksAndDefaultsActive(t *testing.T) {
	svc, _ := newTestService()

	doc, err := svc.Create(context.Background(), Links, storage.Document{
		"title":  "GitHub",
		"url":    "https://github.com/example",
		"icon":   "github",
		"clicks": float64(999),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), doc.Int("clicks"))
	assert.Equal(t, true, doc["isActive"])
	assert.NotEmpty(t, doc.ID())
}

func TestCreate_RequiredFields(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Create(context.Background(), Links, storage.Document{"title": "no url"})
	requireStatus(t, err, http.StatusBadRequest)
	assert.Contains(t, apierr.As(err).Message, "url is required")

	_, err = svc.Create(context.Background(), Tips, storage.Document{"title": "  ", "content": "c"})
	requireStatus(t, err, http.StatusBadRequest)
}

func TestCreateBlog_DefaultsAndUniqueSlug(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	post := storage.Document{
		"title":   "Hello",
		"slug":    "hello",
		"content": "body",
		"excerpt": "short",
		"author":  "Owner",
		"tags":    "go, web, ",
	}
	doc, err := svc.Create(ctx, Blog, post)
	require.NoError(t, err)
	assert.Equal(t, false, doc["published"])
	assert.Equal(t, int64(0), doc.Int("views"))
	assert.Equal(t, []any{"go", "web"}, doc["tags"])

	_, err = svc.Create(ctx, Blog, post)
	requireStatus(t, err, http.StatusBadRequest)

	got, err := svc.Get(ctx, Blog, "hello")
	require.NoError(t, err)
	assert.Equal(t, doc.ID(), got.ID())
}

func TestUpdateBlog_SlugStaysUnique(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	newPost := func(slug string) storage.Document {
		doc, err := svc.Create(ctx, Blog, storage.Document{
			"title": slug, "slug": slug, "content": "c", "excerpt": "e", "author": "Owner",
		})
		require.NoError(t, err)
		return doc
	}
	first := newPost("first")
	second := newPost("second")

	_, err := svc.Update(ctx, Blog, "second", storage.Document{"slug": "first"})
	requireStatus(t, err, http.StatusBadRequest)
	assert.Contains(t, err.Error(), `slug "first" already exists`)

	_, err = svc.Update(ctx, Blog, "second", storage.Document{"slug": "  "})
	requireStatus(t, err, http.StatusBadRequest)

	_, err = svc.Update(ctx, Blog, "second", storage.Document{"slug": int64(3)})
	requireStatus(t, err, http.StatusBadRequest)

	n, err := store.Count(ctx, storage.CollectionBlog, map[string]any{"slug": "first"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// keeping the current slug or moving to a free one is allowed
	_, err = svc.Update(ctx, Blog, "second", storage.Document{"slug": "second", "title": "Second"})
	require.NoError(t, err)
	renamed, err := svc.Update(ctx, Blog, "second", storage.Document{"slug": "third"})
	require.NoError(t, err)
	assert.Equal(t, second.ID(), renamed.ID())

	got, err := svc.Get(ctx, Blog, "first")
	require.NoError(t, err)
	assert.Equal(t, first.ID(), got.ID())
	got, err = svc.Get(ctx, Blog, "third")
	require.NoError(t, err)
	assert.Equal(t, second.ID(), got.ID())
}

func TestCreateNews_PublishedAtDefaultsAndParses(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, News, storage.Document{"title": "n", "content": "c"})
	require.NoError(t, err)
	assert.False(t, doc.Time("publishedAt").IsZero())

	doc, err = svc.Create(ctx, News, storage.Document{"title": "n", "content": "c", "publishedAt": "2023-05-01T10:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC), doc.Time("publishedAt"))
}

func TestGetUpdateDelete_NotFound(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for _, r := range All() {
		t.Run(r.Name, func(t *testing.T) {
			_, err := svc.Get(ctx, r, "missing")
			requireStatus(t, err, http.StatusNotFound)
			assert.Equal(t, r.NotFoundMessage(), apierr.As(err).Message)

			_, err = svc.Update(ctx, r, "missing", storage.Document{"title": "x"})
			requireStatus(t, err, http.StatusNotFound)

			err = svc.Delete(ctx, r, "missing")
			requireStatus(t, err, http.StatusNotFound)
		})
	}
}

func TestUpdate_StripsImmutableFields(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, Tips, storage.Document{"title": "t", "content": "c"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, Tips, doc.ID(), storage.Document{
		"_id":         "other",
		"createdAt":   "1999-01-01T00:00:00Z",
		"isPublished": true,
		"order":       float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, doc.ID(), updated.ID())
	assert.Equal(t, doc.Time("createdAt"), updated.Time("createdAt"))
	assert.Equal(t, true, updated["isPublished"])
	assert.Equal(t, int64(3), updated["order"])
}

func TestTogglePublished(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, Links, storage.Document{"title": "t", "url": "u"})
	require.NoError(t, err)

	toggled, err := svc.TogglePublished(ctx, Links, doc.ID())
	require.NoError(t, err)
	assert.Equal(t, false, toggled["isActive"])

	toggled, err = svc.TogglePublished(ctx, Links, doc.ID())
	require.NoError(t, err)
	assert.Equal(t, true, toggled["isActive"])
}

func TestPublicListings(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for i, published := range []bool{true, false, true} {
		_, err := svc.Create(ctx, Tips, storage.Document{
			"title":       fmt.Sprintf("tip %d", i),
			"content":     "c",
			"order":       float64(3 - i),
			"isPublished": published,
		})
		require.NoError(t, err)
	}

	tips, err := svc.List(ctx, Tips)
	require.NoError(t, err)
	require.Len(t, tips, 2)
	assert.Equal(t, "tip 2", tips[0].String("title"), "ordered by order ascending")
	assert.Equal(t, "tip 0", tips[1].String("title"))

	links, err := svc.List(ctx, Links)
	require.NoError(t, err)
	assert.NotNil(t, links, "empty listings are [] not null")
	assert.Empty(t, links)
}

func TestClick(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, Links, storage.Document{"title": "t", "url": "u"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Click(ctx, doc.ID())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, Links, doc.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Int("clicks"))

	_, err = svc.Click(ctx, "missing")
	requireStatus(t, err, http.StatusNotFound)
}

func TestRecordUser(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RecordUser(ctx, &idp.Identity{UID: "uid-1", Email: "owner@example.com", Name: "Owner", Provider: "firebase"}))
	require.NoError(t, svc.RecordUser(ctx, nil))

	user, err := store.Get(ctx, storage.CollectionUsers, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", user.String("email"))
	assert.Equal(t, "Owner", user.String("displayName"))
}

type failingStore struct {
	*storage.MemoryStorage
}

func (failingStore) Count(context.Context, string, map[string]any) (int64, error) {
	return 0, errors.New("connection reset")
}

func (failingStore) List(context.Context, string, storage.Query) ([]storage.Document, error) {
	return nil, errors.New("connection reset")
}

func TestStoreFailuresAreInternal(t *testing.T) {
	svc := NewService(failingStore{storage.NewMemoryStorage()})
	ctx := context.Background()

	_, err := svc.Stats(ctx)
	requireStatus(t, err, http.StatusInternalServerError)
	assert.Equal(t, "Internal server error", apierr.As(err).Message)

	_, err = svc.RecentActivity(ctx)
	requireStatus(t, err, http.StatusInternalServerError)

	_, err = svc.List(ctx, Links)
	requireStatus(t, err, http.StatusInternalServerError)
}

func TestRecordView(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	post, err := svc.Create(ctx, Blog, storage.Document{
		"title": "t", "slug": "s", "excerpt": "e", "content": "c", "author": "a",
	})
	require.NoError(t, err)

	require.NoError(t, svc.RecordView(ctx, post.ID()))
	require.NoError(t, svc.RecordView(ctx, post.ID()))

	got, err := svc.Get(ctx, Blog, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Int("views"))

	requireStatus(t, svc.RecordView(ctx, "missing"), http.StatusNotFound)
}
