// Package server provides the HTTP server and handlers.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bryan-buckman/micronews/internal/config"
	"github.com/bryan-buckman/micronews/internal/database"
	"github.com/bryan-buckman/micronews/internal/feed"
	"github.com/bryan-buckman/micronews/internal/model"
	"github.com/bryan-buckman/micronews/internal/rss"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-runewidth"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// excerptWidth is the trending excerpt length in display columns,
// 150 full-width characters.
const excerptWidth = 300

// Server is the main HTTP server.
type Server struct {
	store     database.Store
	feed      *feed.Service
	cfg       *config.Config
	log       *slog.Logger
	poller    *rss.Poller
	router    chi.Router
	templates *template.Template
	http      *http.Server
}

// New creates a new server. A feed poller is attached when the
// configuration lists feeds and an interval.
func New(store database.Store, cfg *config.Config, log *slog.Logger) (*Server, error) {
	s := &Server{
		store: store,
		feed:  feed.NewService(store, log),
		cfg:   cfg,
		log:   log,
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"excerpt":       excerpt,
		"categoryLabel": cfg.CategoryLabel,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s.templates = tmpl

	if interval := cfg.PollInterval(); interval > 0 && len(cfg.Feeds.URLs) > 0 {
		fetcher := rss.NewFetcher(store, cfg.Feeds.Category, log)
		s.poller = rss.NewPoller(fetcher, cfg.Feeds.URLs, interval)
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages.
	r.Get("/", s.handleHome)
	r.Get("/category/{category}", s.handleCategory)
	r.Get("/articles/{id}", s.handleArticle)
	r.Get("/healthz", s.handleHealth)

	// API.
	r.Route("/api", func(r chi.Router) {
		r.Get("/articles", s.handleAPIArticles)
		r.Get("/articles/{id}", s.handleAPIArticle)
		r.Get("/categories/{category}", s.handleAPICategory)
		r.Get("/trending", s.handleAPITrending)
		r.Get("/popular", s.handleAPIPopular)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.render(w, http.StatusNotFound, "notfound.html", s.pageData(nil))
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller and serves until Shutdown.
func (s *Server) Start(addr string) error {
	if s.poller != nil {
		s.poller.Start()
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("server starting", "addr", addr, "database", s.store.DatabaseType())
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the poller, drains requests and waits for pending view
// writes. Views requested after it returns are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.poller != nil {
		s.poller.Stop()
	}
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.feed.Close()
	return err
}

// --- Page Handlers ---

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := pageParam(r)

	var wg sync.WaitGroup
	var trending *model.Article
	var latest, popular []model.Article
	var trendErr, latestErr, popErr error
	wg.Add(3)
	go func() {
		defer wg.Done()
		trending, trendErr = s.feed.Trending(ctx)
	}()
	go func() {
		defer wg.Done()
		latest, latestErr = s.feed.Latest(ctx)
	}()
	go func() {
		defer wg.Done()
		popular, popErr = s.feed.Popular(ctx)
	}()
	wg.Wait()

	if trendErr != nil {
		s.log.Error("load trending", "err", trendErr)
	}
	if latestErr != nil {
		s.log.Error("load articles", "err", latestErr)
	}
	if popErr != nil {
		s.log.Error("load popular", "err", popErr)
	}

	data := s.pageData(map[string]interface{}{
		"Trending":  trending,
		"Page":      feed.Paginate(latest, page, feed.PageSize),
		"FeedError": latestErr != nil,
		"Popular":   popular,
		"BasePath":  "/",
	})
	s.render(w, http.StatusOK, "home.html", data)
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	articles, err := s.feed.ByCategory(r.Context(), category)
	if err != nil {
		s.serverError(w, "load category", err)
		return
	}

	data := s.pageData(map[string]interface{}{
		"PageTitle": s.cfg.CategoryLabel(category),
		"Category":  category,
		"Page":      feed.Paginate(articles, pageParam(r), feed.PageSize),
		"BasePath":  "/category/" + category,
	})
	s.render(w, http.StatusOK, "category.html", data)
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	article, err := s.feed.Article(ctx, id)
	if feed.IsNotFound(err) {
		s.render(w, http.StatusNotFound, "notfound.html", s.pageData(nil))
		return
	}
	if err != nil {
		s.serverError(w, "load article", err)
		return
	}

	s.feed.RecordViewAsync(ctx, article.ID)

	nav, err := s.feed.Neighbors(ctx, article.Date)
	if err != nil {
		s.log.Error("load navigation", "id", article.ID, "err", err)
	}

	data := s.pageData(map[string]interface{}{
		"PageTitle": article.Title,
		"Article":   article,
		"Nav":       nav,
	})
	s.render(w, http.StatusOK, "article.html", data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"database": s.store.DatabaseType(),
	})
}

// --- API Handlers ---

func (s *Server) handleAPIArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.feed.Latest(r.Context())
	if err != nil {
		s.apiError(w, "load articles", err)
		return
	}
	writeJSON(w, http.StatusOK, feed.Paginate(articles, pageParam(r), feed.PageSize))
}

func (s *Server) handleAPICategory(w http.ResponseWriter, r *http.Request) {
	articles, err := s.feed.ByCategory(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		s.apiError(w, "load category", err)
		return
	}
	writeJSON(w, http.StatusOK, feed.Paginate(articles, pageParam(r), feed.PageSize))
}

func (s *Server) handleAPIArticle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	article, err := s.feed.Article(ctx, chi.URLParam(r, "id"))
	if feed.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		s.apiError(w, "load article", err)
		return
	}

	s.feed.RecordViewAsync(ctx, article.ID)

	nav, err := s.feed.Neighbors(ctx, article.Date)
	if err != nil {
		s.apiError(w, "load navigation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"article":    article,
		"navigation": nav,
	})
}

func (s *Server) handleAPITrending(w http.ResponseWriter, r *http.Request) {
	article, err := s.feed.Trending(r.Context())
	if err != nil {
		s.apiError(w, "load trending", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"article": article})
}

func (s *Server) handleAPIPopular(w http.ResponseWriter, r *http.Request) {
	articles, err := s.feed.Popular(r.Context())
	if err != nil {
		s.apiError(w, "load popular", err)
		return
	}
	if articles == nil {
		articles = []model.Article{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"articles": articles})
}

// --- Helpers ---

func (s *Server) pageData(extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"SiteTitle":  s.cfg.Site.Title,
		"Categories": s.cfg.Site.Categories,
		"Ads":        s.cfg.Site.Ads,
		"AdsEnabled": s.cfg.AdsEnabled(),
		"Year":       time.Now().Year(),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// render executes the template into a buffer first so a template error can
// still produce a 500.
func (s *Server) render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("template error", "template", name, "err", err)
		http.Error(w, "Render error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, "err", err)
	s.render(w, http.StatusInternalServerError, "error.html", s.pageData(nil))
}

func (s *Server) apiError(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// pageParam reads the 1-based page query parameter. Missing, malformed or
// non-positive values mean page 1.
func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func excerpt(s string) string {
	return runewidth.Truncate(s, excerptWidth, "...")
}
