package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrave_Available(t *testing.T) {
	assert.False(t, NewBrave("").Available())
	assert.True(t, NewBrave("key").Available())
}

func TestBrave_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"<strong>Go</strong> lang","url":"https://go.dev","description":"The Go <em>language</em>"}
		]}}`))
	}))
	defer srv.Close()

	b := &Brave{apiKey: "secret", endpoint: srv.URL, client: srv.Client()}
	results, err := b.Search(context.Background(), "golang")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Result{Title: "Go lang", URL: "https://go.dev", Snippet: "The Go language"}, results[0])
}

func TestBrave_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := &Brave{apiKey: "bad", endpoint: srv.URL, client: srv.Client()}
	_, err := b.Search(context.Background(), "golang")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestParseBraveJSON_CapsResults(t *testing.T) {
	var items []string
	for i := 0; i < 8; i++ {
		items = append(items, fmt.Sprintf(`{"title":"r%d","url":"https://e/%d","description":""}`, i, i))
	}
	results, err := parseBraveJSON([]byte(`{"web":{"results":[` + strings.Join(items, ",") + `]}}`))
	require.NoError(t, err)
	assert.Len(t, results, maxResults)

	_, err = parseBraveJSON([]byte("not json"))
	assert.Error(t, err)
}
