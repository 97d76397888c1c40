// Package model defines shared data structures.
package model

import "time"

// Article is a single news article as read from the store.
// Optional document fields are resolved to defaults at the read boundary:
// a missing views counter is 0 and missing tags are an empty list.
type Article struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Author    string     `json:"author"`
	Content   string     `json:"content"`
	Category  string     `json:"category"`
	Date      string     `json:"date"`
	Timestamp *time.Time `json:"timestamp,omitempty"` // nil if the document has none
	Views     int64      `json:"views"`
	Tags      []string   `json:"tags"`
}

// HasTags reports whether the article carries any tags.
func (a Article) HasTags() bool {
	return len(a.Tags) > 0
}

// Normalize fills defaults for fields a stored document may omit.
func (a *Article) Normalize() {
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if a.Views < 0 {
		a.Views = 0
	}
}

// Category is a feed filter label with its display name.
type Category struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label" yaml:"label"`
}

// Sortable article fields.
const (
	FieldDate      = "date"
	FieldViews     = "views"
	FieldTimestamp = "timestamp"
)
