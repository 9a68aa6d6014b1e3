package semanticscholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the unauthenticated rate (100 requests per 5 minutes).
	DefaultRateLimit = 0.3

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum number of results per topic.
	DefaultMaxResults = 25

	apiKeyHeader = "x-api-key"

	paperFields = "paperId,externalIds,title,abstract,year,publicationDate,authors,citationCount,url,openAccessPdf"

	sourceName = "Semantic Scholar"
)

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// APIKey raises the upstream rate limit when set.
	APIKey string

	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxResults int
	Enabled    bool
}

// Client searches Semantic Scholar once per configured topic and reports
// citation counts as the candidate signal.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

var _ papersources.Source = (*Client)(nil)

// NewClient creates a new Semantic Scholar client.
// If httpClient is nil, one is created from the configuration.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
		if cfg.APIKey != "" {
			cfg.RateLimit = 1
		}
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:       string(domain.SourceTypeSemanticScholar),
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// Fetch runs one search per topic and merges the results, dropping papers
// already returned by an earlier topic. When a topic fails after others
// succeeded, the gathered candidates are returned alongside the error.
// A throttled response stops the remaining topics.
func (c *Client) Fetch(ctx context.Context, q papersources.Query) ([]domain.Candidate, error) {
	topics := make([]string, 0, len(q.Topics))
	for _, t := range q.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var candidates []domain.Candidate
	var errs []error

	for _, topic := range topics {
		results, err := c.search(ctx, topic, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("topic %q: %w", topic, err))
			var rateErr *domain.RateLimitError
			if errors.As(err, &rateErr) || ctx.Err() != nil {
				break
			}
			continue
		}
		for _, r := range results {
			cand, ok := convertToCandidate(r)
			if !ok {
				continue
			}
			if _, dup := seen[cand.ExternalID]; dup {
				continue
			}
			if q.Since != nil && cand.PublishedAt != nil && cand.PublishedAt.Before(*q.Since) {
				continue
			}
			seen[cand.ExternalID] = struct{}{}
			candidates = append(candidates, cand)
		}
	}

	return candidates, errors.Join(errs...)
}

func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeSemanticScholar
}

func (c *Client) Name() string {
	return sourceName
}

func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) search(ctx context.Context, topic string, q papersources.Query) ([]PaperResult, error) {
	searchURL, err := c.buildSearchURL(topic, q)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
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

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return searchResp.Data, nil
}

func (c *Client) buildSearchURL(topic string, q papersources.Query) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	searchURL := baseURL.JoinPath("paper", "search")

	params := searchURL.Query()
	params.Set("query", topic)
	params.Set("fields", paperFields)

	limit := q.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}
	params.Set("limit", strconv.Itoa(limit))

	if q.Since != nil {
		params.Set("publicationDateOrYear", q.Since.UTC().Format("2006-01-02")+":")
	}

	searchURL.RawQuery = params.Encode()
	return searchURL.String(), nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		message := errResp.Error
		if message == "" {
			message = errResp.Message
		}
		if message != "" {
			return domain.NewExternalAPIError(sourceName, resp.StatusCode, message, nil)
		}
	}

	return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
}

func convertToCandidate(result PaperResult) (domain.Candidate, bool) {
	title := strings.Join(strings.Fields(result.Title), " ")
	if title == "" {
		return domain.Candidate{}, false
	}

	ids := domain.PaperIdentifiers{SemanticScholarID: result.PaperID, URL: result.URL}
	if result.ExternalIDs != nil {
		ids.DOI = result.ExternalIDs.DOI
		ids.ArXivID = result.ExternalIDs.ArXiv
	}
	externalID := domain.GenerateCanonicalID(ids)
	if externalID == "" {
		return domain.Candidate{}, false
	}

	cand := domain.Candidate{
		ExternalID: externalID,
		Title:      title,
		Abstract:   strings.TrimSpace(result.Abstract),
		Source:     domain.SourceTypeSemanticScholar,
		URL:        result.URL,
		Signals:    domain.Signals{Citations: result.CitationCount},
	}

	if result.PublicationDate != "" {
		if pubDate, err := time.Parse("2006-01-02", result.PublicationDate); err == nil {
			cand.PublishedAt = &pubDate
		}
	}

	for _, a := range result.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			cand.Authors = append(cand.Authors, name)
		}
	}

	switch {
	case result.OpenAccessPDF != nil && result.OpenAccessPDF.URL != "":
		cand.PDFURL = result.OpenAccessPDF.URL
	case ids.ArXivID != "":
		cand.PDFURL = "https://arxiv.org/pdf/" + domain.StripArXivVersion(ids.ArXivID)
	}

	return cand, true
}
