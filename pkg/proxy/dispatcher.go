// Package proxy fetches upstream feeds on behalf of clients, attaching
// the authorization header resolved for each feed at startup.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/umputun/feedproxy/pkg/config"
)

const defaultTimeout = 30 * time.Second

// Response is the outcome of an upstream fetch. Body is set only for 200 OK.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
}

// Params configure Dispatcher
type Params struct {
	Timeout   time.Duration // upstream request timeout, 30s if not set
	UserAgent string        // optional User-Agent for upstream requests
	Client    *http.Client  // optional client, built from Timeout if nil
}

// Dispatcher performs upstream requests for feeds.
// It holds no mutable state and is safe for concurrent use.
type Dispatcher struct {
	client    *http.Client
	userAgent string
}

// NewDispatcher makes a Dispatcher with a pooled http client
func NewDispatcher(p Params) *Dispatcher {
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: p.Timeout}
	}
	return &Dispatcher{client: client, userAgent: p.UserAgent}
}

// Fetch issues GET to the feed's upstream. Upstream non-200 statuses are returned as
// Response with empty body, transport errors are returned as is, without retries.
func (d *Dispatcher) Fetch(ctx context.Context, feed config.Feed) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.Upstream, http.NoBody)
	if err != nil {
		return Response{}, fmt.Errorf("create request for %s: %w", feed.FullPath(), err)
	}

	req.Header.Set("Accept", "*/*")
	if auth := feed.AuthorizationHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", feed.Upstream, err)
	}
	defer resp.Body.Close()

	log.Printf("[DEBUG] response from %s for %s: %d", feed.Upstream, feed.FullPath(), resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		// drain so the connection goes back to the pool
		_, _ = io.Copy(io.Discard, resp.Body)
		return Response{Status: resp.StatusCode}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read body from %s: %w", feed.Upstream, err)
	}

	return Response{Status: http.StatusOK, Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}
