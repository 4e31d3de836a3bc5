package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/mmcdole/gofeed"

	"github.com/umputun/feedproxy/pkg/config"
)

// CheckResult describes a single feed check
type CheckResult struct {
	Path   string
	Status int
	Title  string
	Items  int
	Err    error
}

// Checker fetches feeds through the dispatcher and verifies the upstream returns a parsable feed
type Checker struct {
	dispatcher *Dispatcher
	parser     *gofeed.Parser
}

// NewChecker makes a Checker using given dispatcher
func NewChecker(d *Dispatcher) *Checker {
	return &Checker{dispatcher: d, parser: gofeed.NewParser()}
}

// Check fetches and parses every feed sequentially, results keep the feed order
func (c *Checker) Check(ctx context.Context, feeds []config.Feed) []CheckResult {
	res := make([]CheckResult, 0, len(feeds))
	for _, f := range feeds {
		res = append(res, c.checkFeed(ctx, f))
	}
	return res
}

func (c *Checker) checkFeed(ctx context.Context, f config.Feed) CheckResult {
	r := CheckResult{Path: f.FullPath()}

	resp, err := c.dispatcher.Fetch(ctx, f)
	if err != nil {
		r.Err = err
		return r
	}
	r.Status = resp.Status
	if resp.Status != http.StatusOK {
		r.Err = fmt.Errorf("upstream responded with %d", resp.Status)
		return r
	}

	parsed, err := c.parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		r.Err = fmt.Errorf("parse feed %s: %w", f.Upstream, err)
		return r
	}
	r.Title = parsed.Title
	r.Items = len(parsed.Items)
	return r
}
