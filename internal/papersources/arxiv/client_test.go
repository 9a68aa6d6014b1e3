package arxiv

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/papersources"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <opensearch:totalResults>2</opensearch:totalResults>
  <entry>
    <id>http://arxiv.org/abs/2410.01234v2</id>
    <published>2026-10-17T17:59:59Z</published>
    <title>Sparse Attention
      for Long Contexts</title>
    <summary>  We study sparse attention.  </summary>
    <author><name>Ada Lovelace</name></author>
    <author><name> Alan Turing </name></author>
    <link href="http://arxiv.org/abs/2410.01234v2" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2410.01234v2" rel="related" type="application/pdf"/>
    <arxiv:primary_category term="cs.CL"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <published>2026-01-02T00:00:00Z</published>
    <title>An Old Paper</title>
    <summary>Old.</summary>
  </entry>
</feed>`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:    "arxiv",
		RateLimit: 100,
		BurstSize: 10,
	})
	return NewWithHTTPClient(Config{BaseURL: server.URL, Enabled: true}, httpClient)
}

func TestNew(t *testing.T) {
	client := New(Config{Enabled: true})

	require.NotNil(t, client)
	assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
	assert.Equal(t, DefaultMaxResults, client.config.MaxResults)
	assert.InDelta(t, DefaultRateLimit, client.config.RateLimit, 1e-9)
	assert.Equal(t, domain.SourceTypeArXiv, client.SourceType())
	assert.Equal(t, "arXiv", client.Name())
	assert.True(t, client.IsEnabled())
}

func TestClient_Fetch(t *testing.T) {
	t.Run("builds category query and maps entries", func(t *testing.T) {
		var gotQuery, gotPath string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.Query().Get("search_query")
			assert.Equal(t, "submittedDate", r.URL.Query().Get("sortBy"))
			assert.Equal(t, "25", r.URL.Query().Get("max_results"))
			w.Header().Set("Content-Type", "application/atom+xml")
			_, _ = w.Write([]byte(sampleFeed))
		})

		candidates, err := client.Fetch(context.Background(), papersources.Query{
			Categories: []string{"cs.CL", "cs.AI"},
			MaxResults: 25,
		})
		require.NoError(t, err)

		assert.Equal(t, "/query", gotPath)
		assert.Equal(t, "cat:cs.CL OR cat:cs.AI", gotQuery)
		require.Len(t, candidates, 2)

		first := candidates[0]
		assert.Equal(t, "arxiv:2410.01234", first.ExternalID)
		assert.Equal(t, "Sparse Attention for Long Contexts", first.Title)
		assert.Equal(t, "We study sparse attention.", first.Abstract)
		assert.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, first.Authors)
		assert.Equal(t, "http://arxiv.org/pdf/2410.01234v2", first.PDFURL)
		assert.Equal(t, "https://arxiv.org/abs/2410.01234", first.URL)
		assert.Equal(t, 0, first.Signals.Rank)
		require.NotNil(t, first.PublishedAt)
		assert.Equal(t, 2026, first.PublishedAt.Year())

		assert.Equal(t, "https://arxiv.org/pdf/2401.00001", candidates[1].PDFURL)
	})

	t.Run("drops entries older than since", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(sampleFeed))
		})

		since := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
		candidates, err := client.Fetch(context.Background(), papersources.Query{
			Categories: []string{"cs.CL"},
			Since:      &since,
		})
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "arxiv:2410.01234", candidates[0].ExternalID)
	})

	t.Run("falls back to topics without categories", func(t *testing.T) {
		var gotQuery string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query().Get("search_query")
			_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
		})

		candidates, err := client.Fetch(context.Background(), papersources.Query{Topics: []string{"retrieval augmented generation"}})
		require.NoError(t, err)
		assert.Empty(t, candidates)
		assert.Equal(t, `all:"retrieval augmented generation"`, gotQuery)
	})

	t.Run("empty query makes no request", func(t *testing.T) {
		called := false
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			called = true
		})

		candidates, err := client.Fetch(context.Background(), papersources.Query{})
		require.NoError(t, err)
		assert.Nil(t, candidates)
		assert.False(t, called)
	})

	t.Run("throttled response returns rate limit error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := client.Fetch(context.Background(), papersources.Query{Categories: []string{"cs.CL"}})
		require.Error(t, err)

		var rateErr *domain.RateLimitError
		require.True(t, errors.As(err, &rateErr))
		assert.Equal(t, 30*time.Second, rateErr.RetryAfter)
	})

	t.Run("non-200 returns external API error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad query"))
		})

		_, err := client.Fetch(context.Background(), papersources.Query{Categories: []string{"cs.CL"}})
		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "bad query", apiErr.Message)
	})

	t.Run("malformed XML returns decode error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<feed><entry>"))
		})

		_, err := client.Fetch(context.Background(), papersources.Query{Categories: []string{"cs.CL"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding response")
	})
}

func TestExtractArXivID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://arxiv.org/abs/2301.12345v1", "2301.12345"},
		{"http://arxiv.org/abs/hep-th/9901001v3", "hep-th/9901001"},
		{"http://arxiv.org/abs/2301.12345", "2301.12345"},
		{"https://example.com/paper", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, extractArXivID(tt.in))
		})
	}
}
