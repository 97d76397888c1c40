// Package database provides storage backends for the article store.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryan-buckman/micronews/internal/model"
)

// ErrNotFound is returned when no article has the requested id.
var ErrNotFound = errors.New("article not found")

// Store defines the interface for article storage.
// MongoDB, SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend.
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations.
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	GetArticle(ctx context.Context, id string) (*model.Article, error)
	ListArticles(ctx context.Context, q Query) ([]model.Article, error)
	CountArticles(ctx context.Context) (int64, error)

	// IncrementViews atomically adds 1 to the article's views counter.
	IncrementViews(ctx context.Context, id string) error

	// UpsertArticle replaces the article with the same id, resetting its
	// views to 0 and stamping timestamp with the store's current time.
	UpsertArticle(ctx context.Context, a *model.Article) error
}

// Order is a single sort key.
type Order struct {
	Field string
	Desc  bool
}

// Asc sorts field ascending.
func Asc(field string) Order { return Order{Field: field} }

// Desc sorts field descending.
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Query selects, orders and limits articles.
// Zero values disable the corresponding clause.
type Query struct {
	Category   string    // category == Category
	DateBefore *string   // date < *DateBefore; nil means no bound
	DateAfter  *string   // date > *DateAfter; nil means no bound
	Since      time.Time // timestamp >= Since; articles without timestamp never match
	OrderBy    []Order
	Limit      int
}

// Validate rejects sort fields the backends do not know about.
func (q Query) Validate() error {
	for _, o := range q.OrderBy {
		switch o.Field {
		case model.FieldDate, model.FieldViews, model.FieldTimestamp:
		default:
			return fmt.Errorf("unsupported sort field %q", o.Field)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("negative limit %d", q.Limit)
	}
	return nil
}

// Date returns a date bound for Query.DateBefore or Query.DateAfter.
// The empty date is a real bound: every dated article sorts after it.
func Date(d string) *string { return &d }

// tieBreakDesc returns the id tie-break direction: that of the last sort key.
func (q Query) tieBreakDesc() bool {
	if len(q.OrderBy) == 0 {
		return false
	}
	return q.OrderBy[len(q.OrderBy)-1].Desc
}

// Open connects to the backend named by driver.
func Open(ctx context.Context, driver, dsn, dbName, collection string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return New(dsn)
	case "postgres":
		return NewPostgres(dsn)
	case "mongo":
		return NewMongo(ctx, dsn, dbName, collection)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
