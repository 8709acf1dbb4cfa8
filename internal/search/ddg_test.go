package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddgFixture = `
<div class="result">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fro.wikipedia.org%2Fwiki%2FBucure%C8%99ti&amp;rut=abc">Bucure<b>ș</b>ti - Wikipedia</a>
  <a class="result__snippet" href="#">Capitala <b>României</b> &amp; cel mai mare oraș.</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://example.ro/vreme">Vremea azi</a>
</div>`

func TestParseHTMLResults(t *testing.T) {
	results := parseHTMLResults(ddgFixture)
	require.Len(t, results, 2)
	assert.Equal(t, "București - Wikipedia", results[0].Title)
	assert.Equal(t, "https://ro.wikipedia.org/wiki/București", results[0].URL)
	assert.Equal(t, "Capitala României & cel mai mare oraș.", results[0].Snippet)
	assert.Equal(t, "https://example.ro/vreme", results[1].URL)
	assert.Empty(t, results[1].Snippet)
}

func TestParseHTMLResults_Empty(t *testing.T) {
	assert.Empty(t, parseHTMLResults("<html><body>nimic</body></html>"))
}

func TestDuckDuckGo_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "capitala romaniei", r.URL.Query().Get("q"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(ddgFixture))
	}))
	defer srv.Close()

	d := &DuckDuckGo{endpoint: srv.URL, client: srv.Client()}
	results, err := d.Search(context.Background(), "capitala romaniei")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDuckDuckGo_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := &DuckDuckGo{endpoint: srv.URL, client: srv.Client()}
	_, err := d.Search(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestInstantAnswer_PrefersAnswerThenAbstract(t *testing.T) {
	body := `{"Answer":"","AbstractText":"București este capitala României.","Definition":"ignored"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	ia := &InstantAnswer{endpoint: srv.URL, client: srv.Client()}
	answer, err := ia.Lookup(context.Background(), "capitala romaniei")
	require.NoError(t, err)
	assert.Equal(t, "București este capitala României.", answer)

	body = `{}`
	answer, err = ia.Lookup(context.Background(), "nimic")
	require.NoError(t, err)
	assert.Empty(t, answer)
}
