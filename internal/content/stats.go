package content

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgellow/biolink/internal/apierr"
	"github.com/dgellow/biolink/internal/storage"
)

const (
	activityPerResource = 5
	activityLimit       = 10
)

// Stats summarizes published content
type Stats struct {
	TotalLinks     int64 `json:"totalLinks"`
	TotalClicks    int64 `json:"totalClicks"`
	TotalBlogPosts int64 `json:"totalBlogPosts"`
	TotalTips      int64 `json:"totalTips"`
	TotalNews      int64 `json:"totalNews"`
}

// ActivityItem is one entry of the recent activity feed
type ActivityItem struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Type      string    `json:"type"`
}

// Stats counts published documents per resource and sums the clicks of
// active links. The five queries run concurrently; the first failure wins.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	g, gctx := errgroup.WithContext(ctx)

	count := func(r Resource, dst *int64) {
		g.Go(func() error {
			n, err := s.store.Count(gctx, r.Collection, r.PublishedFilter())
			if err != nil {
				return fmt.Errorf("counting %s: %w", r.Name, err)
			}
			*dst = n
			return nil
		})
	}
	count(Links, &stats.TotalLinks)
	count(Blog, &stats.TotalBlogPosts)
	count(Tips, &stats.TotalTips)
	count(News, &stats.TotalNews)

	g.Go(func() error {
		n, err := s.store.Sum(gctx, Links.Collection, "clicks", Links.PublishedFilter())
		if err != nil {
			return fmt.Errorf("summing clicks: %w", err)
		}
		stats.TotalClicks = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return Stats{}, apierr.NewInternal(err)
	}
	return stats, nil
}

// RecentActivity merges the newest published documents of every resource
// into one feed, newest first.
func (s *Service) RecentActivity(ctx context.Context) ([]ActivityItem, error) {
	resources := All()
	results := make([][]storage.Document, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range resources {
		g.Go(func() error {
			docs, err := s.store.List(gctx, r.Collection, storage.Query{
				Filter: r.PublishedFilter(),
				Sort:   &storage.Sort{Field: storage.CreatedAtField, Desc: true},
				Limit:  activityPerResource,
			})
			if err != nil {
				return fmt.Errorf("listing %s: %w", r.Name, err)
			}
			results[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apierr.NewInternal(err)
	}

	items := []ActivityItem{}
	for i, r := range resources {
		for _, doc := range results[i] {
			items = append(items, ActivityItem{
				ID:        doc.ID(),
				Title:     doc.String("title"),
				CreatedAt: doc.Time(storage.CreatedAtField),
				Type:      r.Kind,
			})
		}
	}

	slices.SortStableFunc(items, func(a, b ActivityItem) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(items) > activityLimit {
		items = items[:activityLimit]
	}
	return items, nil
}
