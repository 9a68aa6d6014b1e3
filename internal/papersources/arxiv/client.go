// Package arxiv implements the category metadata feed over the arXiv query API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit follows the arXiv guidance of one request every three seconds.
	DefaultRateLimit = 1.0 / 3.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per scan.
	DefaultMaxResults = 50

	sourceName = "arXiv"
)

// arxivIDRegex matches "http://arxiv.org/abs/2301.12345v1" or "http://arxiv.org/abs/hep-th/9901001v1".
var arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// Config holds configuration for the arXiv client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64
	MaxResults int
	Enabled    bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client fetches the newest submissions in the configured categories.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.Source = (*Client)(nil)

// New creates a new arXiv client.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		config: cfg,
		httpClient: papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:    string(domain.SourceTypeArXiv),
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			BurstSize: 1,
		}),
	}
}

// NewWithHTTPClient creates a client with a custom HTTP client, for tests.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Fetch returns the newest papers in q.Categories, falling back to a topic
// search when no categories are configured. arXiv carries no ranking signal,
// so candidates are unranked.
func (c *Client) Fetch(ctx context.Context, q papersources.Query) ([]domain.Candidate, error) {
	searchURL, err := c.buildSearchURL(q)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}
	if searchURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := papersources.CheckStatus(sourceName, resp); err != nil {
		return nil, err
	}

	var feed atomFeed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(feed.Entries))
	for i := range feed.Entries {
		cand, ok := entryToCandidate(&feed.Entries[i])
		if !ok {
			continue
		}
		if q.Since != nil && cand.PublishedAt != nil && cand.PublishedAt.Before(*q.Since) {
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeArXiv
}

func (c *Client) Name() string {
	return sourceName
}

func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// buildSearchURL returns "" when there is nothing to ask for.
func (c *Client) buildSearchURL(q papersources.Query) (string, error) {
	var terms []string
	for _, cat := range q.Categories {
		if cat = strings.TrimSpace(cat); cat != "" {
			terms = append(terms, "cat:"+cat)
		}
	}
	if len(terms) == 0 {
		for _, topic := range q.Topics {
			if topic = strings.TrimSpace(topic); topic != "" {
				terms = append(terms, `all:"`+topic+`"`)
			}
		}
	}
	if len(terms) == 0 {
		return "", nil
	}

	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"

	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}

	query := url.Values{}
	query.Set("search_query", strings.Join(terms, " OR "))
	query.Set("max_results", strconv.Itoa(maxResults))
	query.Set("sortBy", "submittedDate")
	query.Set("sortOrder", "descending")
	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

func entryToCandidate(entry *atomEntry) (domain.Candidate, bool) {
	arxivID := extractArXivID(strings.TrimSpace(entry.ID))
	title := normalizeWhitespace(entry.Title)
	if arxivID == "" || title == "" {
		return domain.Candidate{}, false
	}

	cand := domain.Candidate{
		ExternalID: domain.GenerateCanonicalID(domain.PaperIdentifiers{
			ArXivID: arxivID,
			DOI:     strings.TrimSpace(entry.DOI),
		}),
		Title:    title,
		Abstract: normalizeWhitespace(entry.Summary),
		Source:   domain.SourceTypeArXiv,
		URL:      "https://arxiv.org/abs/" + arxivID,
	}

	if entry.Published != "" {
		if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			cand.PublishedAt = &t
		}
	}

	cand.Authors = entry.authorNames()
	cand.PDFURL = entry.pdfLink(arxivID)

	return cand, true
}

// extractArXivID turns "http://arxiv.org/abs/2301.12345v1" into "2301.12345".
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(entryURL)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// normalizeWhitespace collapses the newlines and indentation arXiv puts in titles.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
