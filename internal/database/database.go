// Package database provides SQLite storage for the article store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryan-buckman/micronews/internal/model"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	// now is the store clock used for server-assigned timestamps.
	now func() time.Time
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	dateExpr:    "date",
	timeArg:     func(t time.Time) any { return t.UnixMilli() },
}

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent requests.
	conn.SetMaxOpenConns(1)
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{conn: conn, now: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// SetClock replaces the clock used to stamp upserted articles.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) migrate() error {
	// timestamp holds unix milliseconds; views and timestamp stay nullable
	// because documents may lack them.
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL DEFAULT '',
		timestamp INTEGER,
		views INTEGER,
		tags TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_articles_date ON articles(date DESC);
	CREATE INDEX IF NOT EXISTS idx_articles_category_date ON articles(category, date DESC);
	CREATE INDEX IF NOT EXISTS idx_articles_views ON articles(views DESC);
	CREATE INDEX IF NOT EXISTS idx_articles_timestamp ON articles(timestamp DESC);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// GetArticle returns the article with the given id.
func (db *DB) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+articleColumns+" FROM articles WHERE id = ?", id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListArticles runs q against the articles table.
func (db *DB) ListArticles(ctx context.Context, q Query) ([]model.Article, error) {
	query, args, err := buildSelect(sqliteDialect, q)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()
	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

// CountArticles returns the number of stored articles.
func (db *DB) CountArticles(ctx context.Context) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&n)
	return n, err
}

// IncrementViews adds one to the views counter of an article.
func (db *DB) IncrementViews(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE articles SET views = COALESCE(views, 0) + 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertArticle inserts or replaces an article by id.
func (db *DB) UpsertArticle(ctx context.Context, a *model.Article) error {
	tags, err := encodeTags(a.Tags)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO articles (id, title, author, content, category, date, timestamp, views, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			content = excluded.content,
			category = excluded.category,
			date = excluded.date,
			timestamp = excluded.timestamp,
			views = 0,
			tags = excluded.tags`,
		a.ID, a.Title, a.Author, a.Content, a.Category, a.Date, db.now().UnixMilli(), tags)
	if err != nil {
		return fmt.Errorf("upsert article %s: %w", a.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(s scanner) (*model.Article, error) {
	var (
		a         model.Article
		timestamp sql.NullInt64
		views     sql.NullInt64
		tags      sql.NullString
	)
	if err := s.Scan(&a.ID, &a.Title, &a.Author, &a.Content, &a.Category, &a.Date, &timestamp, &views, &tags); err != nil {
		return nil, err
	}
	if timestamp.Valid {
		t := time.UnixMilli(timestamp.Int64)
		a.Timestamp = &t
	}
	a.Views = views.Int64
	decoded, err := decodeTags(tags.String)
	if err != nil {
		return nil, fmt.Errorf("article %s: %w", a.ID, err)
	}
	a.Tags = decoded
	a.Normalize()
	return &a, nil
}
