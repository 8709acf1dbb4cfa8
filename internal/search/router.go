package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/asis/internal/otel"
)

// ErrNoProvider is returned when no configured provider is available.
var ErrNoProvider = errors.New("search: no provider available")

type Response struct {
	Query        string   `json:"query"`
	Provider     string   `json:"provider,omitempty"`
	DirectAnswer string   `json:"direct_answer,omitempty"`
	Results      []Result `json:"results"`
}

// Searcher is the web search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string) (Response, error)
}

type Router struct {
	providers []Provider
	instant   *InstantAnswer
	logger    *slog.Logger
	observe   otel.Instrumentation
}

type RouterConfig struct {
	// Preferred names the provider tried first.
	Preferred   string
	BraveAPIKey string
	// DisableInstant skips the instant-answer lookup.
	DisableInstant bool
	Logger         *slog.Logger
	Observe        otel.Instrumentation
}

// NewRouter builds the default provider chain: Brave (when keyed), then
// DuckDuckGo, with Preferred moved to the front.
func NewRouter(cfg RouterConfig) *Router {
	providers := []Provider{NewBrave(cfg.BraveAPIKey), NewDuckDuckGo()}
	if cfg.Preferred != "" {
		for i, p := range providers {
			if p.Name() == cfg.Preferred {
				providers = append([]Provider{p}, append(providers[:i:i], providers[i+1:]...)...)
				break
			}
		}
	}
	r := NewRouterWith(providers...)
	if !cfg.DisableInstant {
		r.instant = NewInstantAnswer()
	}
	if cfg.Logger != nil {
		r.logger = cfg.Logger
	}
	r.observe = cfg.Observe
	return r
}

// NewRouterWith routes over the given providers in order, without an
// instant-answer lookup.
func NewRouterWith(providers ...Provider) *Router {
	return &Router{providers: providers, logger: slog.Default()}
}

// Providers lists provider names in routing order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// Search tries providers in order: skip unavailable, fall through on error,
// first success wins. The instant answer is best effort.
func (r *Router) Search(ctx context.Context, query string) (Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, fmt.Errorf("empty search query")
	}
	out := Response{Query: query, Results: []Result{}}

	if r.instant != nil {
		_ = r.observe.Call(ctx, "search", "instant_answer", func(ctx context.Context) error {
			answer, err := r.instant.Lookup(ctx, query)
			if err != nil {
				r.logger.Warn("instant answer lookup failed", "error", err)
				return err
			}
			out.DirectAnswer = answer
			return nil
		})
	}

	var lastErr error
	tried := false
	for _, p := range r.providers {
		if !p.Available() {
			continue
		}
		tried = true
		var results []Result
		err := r.observe.Call(ctx, "search", p.Name(), func(ctx context.Context) error {
			var err error
			results, err = p.Search(ctx, query)
			return err
		})
		if err != nil {
			r.logger.Warn("search provider failed, trying next", "provider", p.Name(), "error", err)
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			continue
		}
		out.Provider = p.Name()
		if results != nil {
			out.Results = results
		}
		return out, nil
	}

	if !tried {
		return Response{}, ErrNoProvider
	}
	if out.DirectAnswer != "" {
		// Providers failed but the instant answer is still worth returning.
		return out, nil
	}
	return Response{}, lastErr
}

// Format renders a response as plain text for a voice or chat layer.
func Format(resp Response) string {
	var b strings.Builder
	if resp.DirectAnswer != "" {
		fmt.Fprintf(&b, "Răspuns direct: %s\n\n", resp.DirectAnswer)
	}
	if len(resp.Results) == 0 {
		if b.Len() == 0 {
			return fmt.Sprintf("Nu am găsit rezultate pentru '%s'.", resp.Query)
		}
		return strings.TrimSpace(b.String())
	}
	fmt.Fprintf(&b, "Rezultate pentru '%s':\n", resp.Query)
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "   %s\n", r.URL)
		}
	}
	return strings.TrimSpace(b.String())
}
