package search

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	ddgHTMLEndpoint    = "https://html.duckduckgo.com/html/"
	ddgInstantEndpoint = "https://api.duckduckgo.com/"
	userAgent          = "asis/1.0"
)

// DuckDuckGo implements Provider by scraping the DuckDuckGo HTML endpoint.
// It needs no key and is always available.
type DuckDuckGo struct {
	endpoint string
	client   *http.Client
}

func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{endpoint: ddgHTMLEndpoint, client: defaultHTTPClient}
}

func (d *DuckDuckGo) Name() string    { return "duckduckgo" }
func (d *DuckDuckGo) Available() bool { return true }

func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseHTMLResults(string(body)), nil
}

var (
	reResultLink    = regexp.MustCompile(`(?is)<a[^>]+class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	reResultSnippet = regexp.MustCompile(`(?is)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	reTag           = regexp.MustCompile(`<[^>]+>`)
)

func parseHTMLResults(page string) []Result {
	links := reResultLink.FindAllStringSubmatch(page, 10)
	snippets := reResultSnippet.FindAllStringSubmatch(page, 10)

	var results []Result
	for i, link := range links {
		rawURL := html.UnescapeString(link[1])
		// DuckDuckGo wraps URLs in a redirect; keep the target.
		if u, err := url.Parse(rawURL); err == nil {
			if actual := u.Query().Get("uddg"); actual != "" {
				rawURL = actual
			}
		}
		snippet := ""
		if i < len(snippets) {
			snippet = stripTags(snippets[i][1])
		}
		results = append(results, Result{
			Title:   stripTags(link[2]),
			URL:     rawURL,
			Snippet: snippet,
		})
		if len(results) >= maxResults {
			break
		}
	}
	return results
}

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(reTag.ReplaceAllString(s, "")))
}

// InstantAnswer queries the DuckDuckGo instant answer API for a direct
// answer (a computed answer, an abstract or a definition).
type InstantAnswer struct {
	endpoint string
	client   *http.Client
}

func NewInstantAnswer() *InstantAnswer {
	return &InstantAnswer{endpoint: ddgInstantEndpoint, client: defaultHTTPClient}
}

type instantResponse struct {
	Answer       string `json:"Answer"`
	AbstractText string `json:"AbstractText"`
	Definition   string `json:"Definition"`
	Heading      string `json:"Heading"`
}

// Lookup returns the direct answer, or "" when DuckDuckGo has none.
func (ia *InstantAnswer) Lookup(ctx context.Context, query string) (string, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ia.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := ia.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("duckduckgo instant answer returned %d", resp.StatusCode)
	}
	var ir instantResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ir); err != nil {
		return "", fmt.Errorf("parse instant answer: %w", err)
	}
	for _, s := range []string{ir.Answer, ir.AbstractText, ir.Definition} {
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	return "", nil
}
