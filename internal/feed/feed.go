// Package feed composes the article queries behind the home, category and
// detail pages: feeds ordered by date, previous/next navigation, view
// counting, the trending article and the popular list.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/micronews/internal/database"
	"github.com/bryan-buckman/micronews/internal/model"
)

const (
	// TrendingWindow is how far back the trending article may have been created.
	TrendingWindow = 24 * time.Hour
	// PopularLimit is the size of the popular sidebar.
	PopularLimit = 5
)

// Navigation is the pair of articles adjacent to one article by date.
// Either side is nil when no such article exists.
type Navigation struct {
	Prev *model.Article `json:"prev"`
	Next *model.Article `json:"next"`
}

// Service runs feed queries against a store.
type Service struct {
	store database.Store
	log   *slog.Logger
	now   func() time.Time

	mu     sync.Mutex
	closed bool
	views  sync.WaitGroup
}

// NewService creates a service over store.
func NewService(store database.Store, log *slog.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Latest returns all articles, newest date first.
func (s *Service) Latest(ctx context.Context) ([]model.Article, error) {
	return s.store.ListArticles(ctx, database.Query{
		OrderBy: []database.Order{database.Desc(model.FieldDate)},
	})
}

// ByCategory returns the articles in category, newest date first.
// An unknown category yields an empty feed.
func (s *Service) ByCategory(ctx context.Context, category string) ([]model.Article, error) {
	return s.store.ListArticles(ctx, database.Query{
		Category: category,
		OrderBy:  []database.Order{database.Desc(model.FieldDate)},
	})
}

// Article returns a single article. The error wraps database.ErrNotFound
// when the id does not exist.
func (s *Service) Article(ctx context.Context, id string) (*model.Article, error) {
	return s.store.GetArticle(ctx, id)
}

// Neighbors resolves the nearest earlier and nearest later article by date.
// Comparison is strict: articles sharing date are neither previous nor next.
func (s *Service) Neighbors(ctx context.Context, date string) (Navigation, error) {
	var nav Navigation

	prev, err := s.store.ListArticles(ctx, database.Query{
		DateBefore: database.Date(date),
		OrderBy:    []database.Order{database.Desc(model.FieldDate)},
		Limit:      1,
	})
	if err != nil {
		return nav, err
	}
	if len(prev) > 0 {
		nav.Prev = &prev[0]
	}

	next, err := s.store.ListArticles(ctx, database.Query{
		DateAfter: database.Date(date),
		OrderBy:   []database.Order{database.Asc(model.FieldDate)},
		Limit:     1,
	})
	if err != nil {
		return nav, err
	}
	if len(next) > 0 {
		nav.Next = &next[0]
	}
	return nav, nil
}

// RecordView adds exactly one view to the article. Callers invoke it at most
// once per page view.
func (s *Service) RecordView(ctx context.Context, id string) error {
	return s.store.IncrementViews(ctx, id)
}

// RecordViewAsync records a view without blocking the caller. The write
// outlives ctx cancellation and failures only reach the log. After Close
// the view is dropped.
func (s *Service) RecordViewAsync(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Warn("view dropped during shutdown", "id", id)
		return
	}
	s.views.Add(1)
	go func() {
		defer s.views.Done()
		if err := s.RecordView(ctx, id); err != nil {
			s.log.Error("record view", "id", id, "err", err)
		}
	}()
}

// Wait blocks until pending view recordings finish.
func (s *Service) Wait() {
	s.views.Wait()
}

// Close stops accepting view recordings and waits for pending ones, so the
// store can be closed afterwards.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.views.Wait()
}

// Trending returns the article created within TrendingWindow ordered first by
// creation timestamp, newest first, and only then by views. With distinct
// timestamps this is the most recently created article; views decide only
// exact timestamp ties. Returns nil when the window is empty.
func (s *Service) Trending(ctx context.Context) (*model.Article, error) {
	got, err := s.store.ListArticles(ctx, database.Query{
		Since: s.now().Add(-TrendingWindow),
		OrderBy: []database.Order{
			database.Desc(model.FieldTimestamp),
			database.Desc(model.FieldViews),
		},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(got) == 0 {
		return nil, nil
	}
	return &got[0], nil
}

// Popular returns the PopularLimit most viewed articles of all time.
func (s *Service) Popular(ctx context.Context) ([]model.Article, error) {
	return s.store.ListArticles(ctx, database.Query{
		OrderBy: []database.Order{database.Desc(model.FieldViews)},
		Limit:   PopularLimit,
	})
}

// IsNotFound reports whether err means the article does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}
