package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryan-buckman/micronews/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// insertAt upserts a at the given store time and then sets its views.
func insertAt(t *testing.T, db *DB, a model.Article, at time.Time) {
	t.Helper()
	db.now = func() time.Time { return at }
	if err := db.UpsertArticle(context.Background(), &a); err != nil {
		t.Fatalf("upsert %s: %v", a.ID, err)
	}
	if _, err := db.conn.Exec("UPDATE articles SET views = ? WHERE id = ?", a.Views, a.ID); err != nil {
		t.Fatalf("set views %s: %v", a.ID, err)
	}
}

func ids(articles []model.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seed(t *testing.T, db *DB) {
	t.Helper()
	now := time.Now()
	insertAt(t, db, model.Article{ID: "a", Title: "A", Date: "2024-01-01", Category: "politics", Views: 10, Tags: []string{"x", "y"}}, now)
	insertAt(t, db, model.Article{ID: "b", Title: "B", Date: "2024-01-05", Category: "disaster", Views: 3}, now)
	insertAt(t, db, model.Article{ID: "c", Title: "C", Date: "2024-01-10", Category: "politics", Views: 7}, now)
}

func TestListOrderedByDateDesc(t *testing.T) {
	db := testDB(t)
	seed(t, db)

	got, err := db.ListArticles(context.Background(), Query{OrderBy: []Order{Desc(model.FieldDate)}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"c", "b", "a"}; !equal(ids(got), want) {
		t.Errorf("expected %v, got %v", want, ids(got))
	}
}

func TestListByCategory(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	ctx := context.Background()

	got, err := db.ListArticles(ctx, Query{Category: "politics", OrderBy: []Order{Desc(model.FieldDate)}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"c", "a"}; !equal(ids(got), want) {
		t.Errorf("expected %v, got %v", want, ids(got))
	}
	for _, a := range got {
		if a.Category != "politics" {
			t.Errorf("article %s has category %q", a.ID, a.Category)
		}
	}

	got, err = db.ListArticles(ctx, Query{Category: "unknown", OrderBy: []Order{Desc(model.FieldDate)}})
	if err != nil {
		t.Fatalf("list unknown: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no articles for unknown category, got %d", len(got))
	}
}

func TestDateBoundsAreStrict(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	insertAt(t, db, model.Article{ID: "b2", Date: "2024-01-05"}, time.Now())
	ctx := context.Background()

	prev, err := db.ListArticles(ctx, Query{DateBefore: Date("2024-01-05"), OrderBy: []Order{Desc(model.FieldDate)}, Limit: 1})
	if err != nil {
		t.Fatalf("prev: %v", err)
	}
	if want := []string{"a"}; !equal(ids(prev), want) {
		t.Errorf("prev: expected %v, got %v", want, ids(prev))
	}

	next, err := db.ListArticles(ctx, Query{DateAfter: Date("2024-01-05"), OrderBy: []Order{Asc(model.FieldDate)}, Limit: 1})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := []string{"c"}; !equal(ids(next), want) {
		t.Errorf("next: expected %v, got %v", want, ids(next))
	}
}

func TestGetArticle(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	ctx := context.Background()

	a, err := db.GetArticle(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Title != "A" || a.Views != 10 {
		t.Errorf("unexpected article %+v", a)
	}
	if !equal(a.Tags, []string{"x", "y"}) {
		t.Errorf("tags out of order: %v", a.Tags)
	}
	if a.Timestamp == nil {
		t.Error("expected timestamp to be set")
	}

	if _, err := db.GetArticle(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMissingFieldsDefault(t *testing.T) {
	db := testDB(t)
	if _, err := db.conn.Exec("INSERT INTO articles (id, title, date) VALUES ('bare', 'Bare', '2024-02-01')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	a, err := db.GetArticle(context.Background(), "bare")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Views != 0 {
		t.Errorf("expected views 0, got %d", a.Views)
	}
	if a.Tags == nil || len(a.Tags) != 0 {
		t.Errorf("expected empty tags, got %#v", a.Tags)
	}
	if a.Timestamp != nil {
		t.Errorf("expected no timestamp, got %v", a.Timestamp)
	}

	got, err := db.ListArticles(context.Background(), Query{Since: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("article without timestamp matched window: %v", ids(got))
	}
}

func TestIncrementViews(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	ctx := context.Background()

	if err := db.IncrementViews(ctx, "b"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	for id, want := range map[string]int64{"a": 10, "b": 4, "c": 7} {
		a, err := db.GetArticle(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if a.Views != want {
			t.Errorf("article %s: expected %d views, got %d", id, want, a.Views)
		}
	}

	if err := db.IncrementViews(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementViewsWithoutCounter(t *testing.T) {
	db := testDB(t)
	if _, err := db.conn.Exec("INSERT INTO articles (id, date) VALUES ('bare', '2024-02-01')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.IncrementViews(context.Background(), "bare"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	a, _ := db.GetArticle(context.Background(), "bare")
	if a.Views != 1 {
		t.Errorf("expected 1 view, got %d", a.Views)
	}
}

func TestUpsertResetsViews(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	ctx := context.Background()

	later := time.Now().Add(time.Hour)
	db.now = func() time.Time { return later }
	if err := db.UpsertArticle(ctx, &model.Article{ID: "a", Title: "A2", Date: "2024-01-01"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	a, err := db.GetArticle(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Title != "A2" || a.Views != 0 || len(a.Tags) != 0 {
		t.Errorf("unexpected article after upsert: %+v", a)
	}
	if a.Timestamp == nil || a.Timestamp.UnixMilli() != later.UnixMilli() {
		t.Errorf("expected timestamp %v, got %v", later, a.Timestamp)
	}

	n, err := db.CountArticles(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 articles, got %d", n)
	}
}

func TestTimestampThenViewsOrdering(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	insertAt(t, db, model.Article{ID: "old-popular", Date: "2024-01-01", Views: 100}, now.Add(-48*time.Hour))
	insertAt(t, db, model.Article{ID: "newer", Date: "2024-01-02", Views: 1}, now.Add(-1*time.Hour))
	insertAt(t, db, model.Article{ID: "older", Date: "2024-01-03", Views: 50}, now.Add(-2*time.Hour))
	insertAt(t, db, model.Article{ID: "newer-tie", Date: "2024-01-04", Views: 5}, now.Add(-1*time.Hour))

	got, err := db.ListArticles(context.Background(), Query{
		Since:   now.Add(-24 * time.Hour),
		OrderBy: []Order{Desc(model.FieldTimestamp), Desc(model.FieldViews)},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"newer-tie", "newer", "older"}; !equal(ids(got), want) {
		t.Errorf("expected %v, got %v", want, ids(got))
	}
}

func TestViewsOrderingTreatsMissingAsZero(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	if _, err := db.conn.Exec("INSERT INTO articles (id, date) VALUES ('bare', '2024-02-01')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := db.ListArticles(context.Background(), Query{OrderBy: []Order{Desc(model.FieldViews)}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"a", "c", "b", "bare"}; !equal(ids(got), want) {
		t.Errorf("expected %v, got %v", want, ids(got))
	}
}

func TestQueryValidate(t *testing.T) {
	db := testDB(t)
	_, err := db.ListArticles(context.Background(), Query{OrderBy: []Order{Desc("title")}})
	if err == nil {
		t.Error("expected error for unsupported sort field")
	}
}
