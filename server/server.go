package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/feedproxy/pkg/config"
	"github.com/umputun/feedproxy/pkg/proxy"
)

//go:generate moq -out mocks/fetcher.go -pkg mocks -skip-ensure -fmt goimports . Fetcher

// Server represents HTTP server instance
type Server struct {
	cfg     Config
	feeds   *config.FeedList
	fetcher Fetcher

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Config for the server
type Config struct {
	Listen  string        // listen address
	Timeout time.Duration // read and write timeout, should be above upstream timeout
	Version string
	Debug   bool
}

// Fetcher retrieves upstream feed content
type Fetcher interface {
	Fetch(ctx context.Context, feed config.Feed) (proxy.Response, error)
}

// New initializes a new server instance and builds its route table.
// Routes are registered once here and never change afterwards.
func New(cfg Config, feeds *config.FeedList, fetcher Fetcher) *Server {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		feeds:   feeds,
		fetcher: fetcher,
		router:  routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	log.Printf("[INFO] starting server on %s", s.cfg.Listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       30 * time.Second,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.lock.Lock()
		defer s.lock.Unlock()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.RealIP)
	s.router.Use(rest.AppInfo("feedproxy", "umputun", s.cfg.Version))

	if s.cfg.Debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(1000))
	s.router.Use(rest.SizeLimit(64 * 1024)) // read-only proxy, requests carry no body
}

// setupRoutes registers one handler per feed, grouped by sanitized path, and the index page
func (s *Server) setupRoutes() {
	for _, group := range s.feeds.Groups() {
		log.Printf("[INFO] configuring route %s", group.Path)

		bundle := s.router.Group()
		if group.Path != "/" {
			bundle = s.router.Mount(strings.TrimSuffix(group.Path, "/"))
		}

		for _, feed := range group.Feeds {
			log.Printf("[INFO] configuring feed %s, auth %s", feed.FullPath(), feed.AuthType)
			bundle.HandleFunc("GET /"+feed.RouteName(), s.feedHandler(feed))
		}
	}

	s.router.HandleFunc("GET /{$}", s.indexHandler)
	s.router.HandleFunc("GET /ping", s.pingHandler)
}

// pingHandler answers the exact /ping route only, feeds named "ping" under other paths are routed as usual
func (s *Server) pingHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// feedHandler proxies a single feed. Upstream 200 is returned with its body,
// any other upstream status is passed through with empty body, fetch errors are 500.
func (s *Server) feedHandler(feed config.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.fetcher.Fetch(r.Context(), feed)
		if err != nil {
			rest.SendErrorJSON(w, r, lgr.Default(), http.StatusInternalServerError, err, "can't fetch upstream feed")
			return
		}

		if resp.Status != http.StatusOK {
			log.Printf("[INFO] upstream for %s responded with %d", feed.FullPath(), resp.Status)
			w.WriteHeader(resp.Status)
			return
		}

		contentType := resp.ContentType
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(resp.Body); err != nil {
			log.Printf("[WARN] can't write response for %s: %v", feed.FullPath(), err)
		}
	}
}
