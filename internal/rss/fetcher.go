// Package rss imports articles from RSS and Atom feeds.
package rss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bryan-buckman/micronews/internal/database"
	"github.com/bryan-buckman/micronews/internal/model"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
)

// Concurrency settings
const (
	// MaxConcurrencyShared is the number of parallel fetches for stores that handle concurrent writes
	MaxConcurrencyShared = 10
	// MaxConcurrencySQLite is the number of parallel fetches for SQLite (limited due to locking)
	MaxConcurrencySQLite = 1
	// MaxConcurrencyPerDomain limits parallel requests to any single domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum delay between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

// MinPollInterval is the shortest allowed polling interval.
const MinPollInterval = 15 * time.Minute

// pollTimeout bounds one polling round.
const pollTimeout = 10 * time.Minute

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
}

func newDomainLimiter() *domainLimiter {
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() {
		if elapsed := time.Since(lastReq); elapsed < DelayBetweenDomainRequests {
			select {
			case <-time.After(DelayBetweenDomainRequests - elapsed):
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	return u.Host
}

// Fetcher turns feed items into stored articles.
type Fetcher struct {
	store         database.Store
	parser        *gofeed.Parser
	category      string
	concurrency   int
	domainLimiter *domainLimiter
	log           *slog.Logger
}

// NewFetcher creates a fetcher whose articles are filed under category.
// Concurrency depends on the store backend.
func NewFetcher(store database.Store, category string, log *slog.Logger) *Fetcher {
	concurrency := MaxConcurrencySQLite
	if store.SupportsHighConcurrency() {
		concurrency = MaxConcurrencyShared
	}
	return &Fetcher{
		store:         store,
		parser:        gofeed.NewParser(),
		category:      category,
		concurrency:   concurrency,
		domainLimiter: newDomainLimiter(),
		log:           log,
	}
}

// FetchFeed parses one feed and stores items not seen before.
// Returns the number of new articles.
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string) (int, error) {
	domain := extractDomain(feedURL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return 0, fmt.Errorf("rate limit cancelled for %s: %w", feedURL, err)
	}
	defer f.domainLimiter.release(domain)

	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return 0, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	now := time.Now()
	newCount := 0
	for _, item := range parsed.Items {
		article, ok := ItemToArticle(item, f.category, now)
		if !ok {
			continue
		}
		_, err := f.store.GetArticle(ctx, article.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			return newCount, fmt.Errorf("lookup %s: %w", article.ID, err)
		}
		if err := f.store.UpsertArticle(ctx, &article); err != nil {
			f.log.Error("store feed item", "id", article.ID, "feed", feedURL, "err", err)
			continue
		}
		newCount++
	}
	return newCount, nil
}

// ItemToArticle converts a feed item. Items with neither GUID nor link are skipped.
func ItemToArticle(item *gofeed.Item, category string, now time.Time) (model.Article, bool) {
	key := item.GUID
	if key == "" {
		key = item.Link
	}
	if key == "" {
		return model.Article{}, false
	}

	published := now
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}

	a := model.Article{
		ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String(),
		Title:    strings.TrimSpace(item.Title),
		Author:   itemAuthor(item),
		Content:  PlainText(body),
		Category: category,
		Date:     published.Format("2006-01-02"),
		Tags:     append([]string{}, item.Categories...),
	}
	a.Normalize()
	return a, true
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	return ""
}

// PlainText strips markup from an HTML fragment, keeping paragraph breaks.
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.TrimSpace(html)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// FetchResult holds the result of fetching a single feed.
type FetchResult struct {
	URL         string
	NewArticles int
	Error       error
}

// FetchAll fetches every feed, sequentially on SQLite and with a worker
// pool otherwise. Returns feed URL -> new article count for feeds that
// succeeded.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) (map[string]int, error) {
	if len(urls) == 0 {
		return make(map[string]int), nil
	}
	f.log.Info("fetching feeds", "count", len(urls), "concurrency", f.concurrency)

	if f.concurrency <= 1 {
		return f.fetchSequential(ctx, urls)
	}
	return f.fetchParallel(ctx, urls)
}

func (f *Fetcher) fetchSequential(ctx context.Context, urls []string) (map[string]int, error) {
	results := make(map[string]int)
	for i, u := range urls {
		select {
		case <-ctx.Done():
			f.log.Warn("feed fetch cancelled", "done", i, "total", len(urls))
			return results, ctx.Err()
		default:
		}

		count, err := f.FetchFeed(ctx, u)
		if err != nil {
			f.log.Error("fetch feed", "url", u, "err", err)
			continue
		}
		results[u] = count
	}
	return results, nil
}

func (f *Fetcher) fetchParallel(ctx context.Context, urls []string) (map[string]int, error) {
	var wg sync.WaitGroup

	urlChan := make(chan string, len(urls))
	resultChan := make(chan FetchResult, len(urls))

	for i := 0; i < f.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range urlChan {
				if ctx.Err() != nil {
					return
				}
				count, err := f.FetchFeed(ctx, u)
				resultChan <- FetchResult{URL: u, NewArticles: count, Error: err}
			}
		}()
	}

	for _, u := range urls {
		urlChan <- u
	}
	close(urlChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make(map[string]int)
	for result := range resultChan {
		if result.Error != nil {
			f.log.Error("fetch feed", "url", result.URL, "err", result.Error)
			continue
		}
		results[result.URL] = result.NewArticles
	}
	return results, ctx.Err()
}

// Poller imports configured feeds on a fixed interval.
type Poller struct {
	fetcher  *Fetcher
	urls     []string
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPoller creates a background poller. Intervals below MinPollInterval
// are raised to it.
func NewPoller(fetcher *Fetcher, urls []string, interval time.Duration) *Poller {
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetcher:  fetcher,
		urls:     urls,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the polling loop. It fetches immediately, then every interval.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(p.ctx, pollTimeout)
			results, err := p.fetcher.FetchAll(ctx, p.urls)
			cancel()

			switch {
			case p.ctx.Err() != nil:
				return
			case err != nil:
				p.fetcher.log.Error("poll feeds", "err", err)
			default:
				total := 0
				for _, c := range results {
					total += c
				}
				p.fetcher.log.Info("polled feeds", "new_articles", total, "feeds", len(results))
			}

			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// Stop cancels any in-flight fetch and waits for the loop to exit.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}
