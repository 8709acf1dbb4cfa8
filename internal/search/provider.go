// Package search is the web search collaborator: an ordered list of
// providers tried in turn, plus an optional instant-answer lookup.
package search

import (
	"context"
	"net/http"
	"time"
)

type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider is one search backend. Available reports provider readiness
// (e.g. an API key is present).
type Provider interface {
	Name() string
	Available() bool
	Search(ctx context.Context, query string) ([]Result, error)
}

const maxResults = 5

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}
