// Package upload handles bulk importing and exporting article JSON files.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bryan-buckman/micronews/internal/database"
	"github.com/bryan-buckman/micronews/internal/model"
)

// File is the on-disk shape of one article. Views and timestamp are owned
// by the store and are not read from files.
type File struct {
	ID       string   `json:"id,omitempty"`
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	Date     string   `json:"date"`
	Category string   `json:"category"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
}

// Decode reads one article. fallbackID is used when the file has no id.
func Decode(r io.Reader, fallbackID string) (model.Article, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return model.Article{}, fmt.Errorf("decode article: %w", err)
	}
	id := f.ID
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		return model.Article{}, fmt.Errorf("article has no id")
	}
	a := model.Article{
		ID:       id,
		Title:    f.Title,
		Author:   f.Author,
		Date:     f.Date,
		Category: f.Category,
		Content:  f.Content,
		Tags:     f.Tags,
	}
	a.Normalize()
	return a, nil
}

// ReadDir decodes every *.json file in dir, in file name order.
func ReadDir(dir string) ([]model.Article, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	articles := make([]model.Article, 0, len(paths))
	for _, p := range paths {
		a, err := readFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		articles = append(articles, a)
	}
	return articles, nil
}

func readFile(path string) (model.Article, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Article{}, err
	}
	defer f.Close()
	return Decode(f, strings.TrimSuffix(filepath.Base(path), ".json"))
}

// Upload upserts articles one by one, stopping at the first failure.
// Returns the number written.
func Upload(ctx context.Context, store database.Store, articles []model.Article, log *slog.Logger) (int, error) {
	for i := range articles {
		if err := store.UpsertArticle(ctx, &articles[i]); err != nil {
			return i, err
		}
		log.Info("uploaded article", "id", articles[i].ID)
	}
	return len(articles), nil
}

// WriteDir writes each article to dir as <id>.json.
func WriteDir(dir string, articles []model.Article) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	for _, a := range articles {
		if strings.ContainsAny(a.ID, `/\`) {
			return fmt.Errorf("article id %q is not a valid file name", a.ID)
		}
		data, err := json.MarshalIndent(File{
			ID:       a.ID,
			Title:    a.Title,
			Author:   a.Author,
			Date:     a.Date,
			Category: a.Category,
			Content:  a.Content,
			Tags:     a.Tags,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", a.ID, err)
		}
		if err := os.WriteFile(filepath.Join(dir, a.ID+".json"), append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", a.ID, err)
		}
	}
	return nil
}
