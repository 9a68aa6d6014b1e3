package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/papersources"
)

const journalFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Journal of Machine Learning</title>
  <item>
    <title>Efficient Retrieval for Language Models</title>
    <link>https://doi.org/10.5555/jml.2026.001</link>
    <description>We present a retrieval method.</description>
    <pubDate>Fri, 16 Oct 2026 09:00:00 GMT</pubDate>
    <enclosure url="https://journal.example/001.pdf" type="application/pdf" length="1000"/>
  </item>
  <item>
    <title>Protein Folding Revisited</title>
    <link>https://journal.example/002</link>
    <description>Biology.</description>
    <pubDate>Fri, 16 Oct 2026 09:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Old Retrieval Work</title>
    <link>https://journal.example/003</link>
    <pubDate>Mon, 01 Jan 2024 09:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Retrieval on arXiv</title>
    <link>http://arxiv.org/abs/2410.07777v1</link>
  </item>
</channel>
</rss>`

func testClient(feeds ...string) *Client {
	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:    "rss",
		RateLimit: 100,
		BurstSize: 10,
	})
	return NewClient(Config{Feeds: feeds, Enabled: true}, httpClient)
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{Enabled: true}, nil)

	assert.Equal(t, DefaultTimeout, client.config.Timeout)
	assert.Equal(t, DefaultMaxResults, client.config.MaxResults)
	assert.Equal(t, domain.SourceTypeRSS, client.SourceType())
	assert.False(t, client.IsEnabled(), "enabled source without feeds has nothing to poll")

	assert.True(t, NewClient(Config{Enabled: true, Feeds: []string{"https://x"}}, nil).IsEnabled())
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/journal.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(journalFeed))
		case "/broken.xml":
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("not a feed"))
		}
	}))
	defer server.Close()

	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	t.Run("filters by topic and lookback", func(t *testing.T) {
		client := testClient(server.URL + "/journal.xml")

		candidates, err := client.Fetch(context.Background(), papersources.Query{
			Topics: []string{"Retrieval"},
			Since:  &since,
		})
		require.NoError(t, err)
		require.Len(t, candidates, 2)

		assert.Equal(t, "doi:10.5555/jml.2026.001", candidates[0].ExternalID)
		assert.Equal(t, "https://journal.example/001.pdf", candidates[0].PDFURL)
		require.NotNil(t, candidates[0].PublishedAt)

		assert.Equal(t, "arxiv:2410.07777", candidates[1].ExternalID)
		assert.Equal(t, "https://arxiv.org/pdf/2410.07777", candidates[1].PDFURL)
		assert.Nil(t, candidates[1].PublishedAt)
	})

	t.Run("without topics keeps every recent item", func(t *testing.T) {
		client := testClient(server.URL + "/journal.xml")

		candidates, err := client.Fetch(context.Background(), papersources.Query{Since: &since})
		require.NoError(t, err)
		assert.Len(t, candidates, 3)
		assert.Equal(t, "url:https://journal.example/002", candidates[1].ExternalID)
	})

	t.Run("failing feeds are reported while others contribute", func(t *testing.T) {
		client := testClient(server.URL+"/broken.xml", server.URL+"/garbage", server.URL+"/journal.xml")

		candidates, err := client.Fetch(context.Background(), papersources.Query{Topics: []string{"retrieval"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken.xml")
		assert.Contains(t, err.Error(), "parsing feed")
		assert.Len(t, candidates, 3)
	})

	t.Run("respects max results", func(t *testing.T) {
		client := testClient(server.URL + "/journal.xml")

		candidates, err := client.Fetch(context.Background(), papersources.Query{MaxResults: 1})
		require.NoError(t, err)
		assert.Len(t, candidates, 1)
	})
}
