package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scrapeMarkdown = `# BC547B NPN Transistor

**Manufacturer:** onsemi
**Lifecycle:** Active

| Parameter | Value |
|-----------|-------|
| Package / Case | TO-92 |
| Voltage - Collector Emitter | 45V |
| Current - Collector | 100mA |
`

func TestScrapeFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer reader-key", r.Header.Get("Authorization"))
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.True(t, strings.Contains(r.URL.Path, "BC547B"))
		_, _ = w.Write([]byte(scrapeMarkdown))
	}))
	defer srv.Close()

	adapter := NewScrapeAdapter("reader-key", "https://distributor.example/part/%s",
		WithScrapeReaderURL(srv.URL))
	adapter.limiter.SetLimit(1000)

	raw, err := adapter.Fetch(context.Background(), "BC547B", "onsemi")
	require.NoError(t, err)

	assert.Equal(t, TierScrape, raw.Source)
	assert.Equal(t, "BC547B", raw.MPN)
	assert.Equal(t, "TO-92", raw.Parameters["Package / Case"])
	assert.Equal(t, "45V", raw.Parameters["Voltage - Collector Emitter"])
	assert.Equal(t, "onsemi", raw.Parameters["Manufacturer"])
}

func TestScrapeFetchPageWithoutPart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# No results found\n\nTry another search."))
	}))
	defer srv.Close()

	adapter := NewScrapeAdapter("", "https://distributor.example/part/%s",
		WithScrapeReaderURL(srv.URL))
	adapter.limiter.SetLimit(1000)

	_, err := adapter.Fetch(context.Background(), "BC547B", "")
	assert.True(t, IsNotFound(err))
}

func TestScrapeFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewScrapeAdapter("", "https://distributor.example/part/%s",
		WithScrapeReaderURL(srv.URL))
	adapter.limiter.SetLimit(1000)

	_, err := adapter.Fetch(context.Background(), "BC547B", "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestExtractMarkdownParams(t *testing.T) {
	params := extractMarkdownParams(scrapeMarkdown)

	assert.Equal(t, "TO-92", params["Package / Case"])
	assert.Equal(t, "100mA", params["Current - Collector"])
	assert.Equal(t, "Active", params["Lifecycle"])
	assert.NotContains(t, params, "Parameter")
	assert.NotContains(t, params, "-----------")
}
