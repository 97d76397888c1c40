// Package opml reads feed subscription lists for the feed importer.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

type document struct {
	XMLName xml.Name `xml:"opml"`
	Body    struct {
		Outlines []outline `xml:"outline"`
	} `xml:"body"`
}

type outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr"`
	XMLURL   string    `xml:"xmlUrl,attr"`
	Outlines []outline `xml:"outline"`
}

// Subscription is one feed from a subscription list. Category is the
// top-level folder the feed sits in, empty for feeds at the root.
type Subscription struct {
	URL      string
	Title    string
	Category string
}

// Parse reads an OPML document. Duplicate feed URLs keep their first position.
func Parse(r io.Reader) ([]Subscription, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var subs []Subscription
	seen := make(map[string]bool)
	var walk func(outlines []outline, category string)
	walk = func(outlines []outline, category string) {
		for _, o := range outlines {
			if u := strings.TrimSpace(o.XMLURL); u != "" {
				if seen[u] {
					continue
				}
				seen[u] = true
				title := o.Title
				if title == "" {
					title = o.Text
				}
				subs = append(subs, Subscription{URL: u, Title: title, Category: category})
				continue
			}
			folder := category
			if folder == "" {
				folder = o.Text
				if folder == "" {
					folder = o.Title
				}
			}
			walk(o.Outlines, folder)
		}
	}
	walk(doc.Body.Outlines, "")
	return subs, nil
}

// ParseFile reads the subscription list at path.
func ParseFile(path string) ([]Subscription, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// GroupByCategory returns feed URLs per category, with categories in order
// of first appearance. fallback replaces an empty category.
func GroupByCategory(subs []Subscription, fallback string) ([]string, map[string][]string) {
	var order []string
	groups := make(map[string][]string)
	for _, s := range subs {
		c := s.Category
		if c == "" {
			c = fallback
		}
		if _, ok := groups[c]; !ok {
			order = append(order, c)
		}
		groups[c] = append(groups[c], s.URL)
	}
	return order, groups
}
