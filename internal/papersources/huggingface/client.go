// Package huggingface implements the community-ranked daily papers feed.
package huggingface

import (
	"context"
	"encoding/json"
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
	// DefaultBaseURL is the Hugging Face API base URL.
	DefaultBaseURL = "https://huggingface.co/api"

	// DefaultRateLimit is the default request rate.
	DefaultRateLimit = 1.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 20 * time.Second

	// DefaultMaxResults is the default listing size.
	DefaultMaxResults = 50

	sourceName = "Hugging Face Daily Papers"
)

// Config holds configuration for the daily papers client.
type Config struct {
	BaseURL    string
	APIKey     string
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

// Client reads the daily papers listing. Its order is the community ranking,
// so the position in the listing becomes the candidate rank.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.Source = (*Client)(nil)

// NewClient creates a daily papers client. If httpClient is nil one is built
// from cfg.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		hc := papersources.HTTPClientConfig{
			Source:    string(domain.SourceTypeHuggingFace),
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			BurstSize: 2,
		}
		if cfg.APIKey != "" {
			hc.APIKey = "Bearer " + cfg.APIKey
			hc.APIKeyHeader = "Authorization"
		}
		httpClient = papersources.NewHTTPClient(hc)
	}
	return &Client{config: cfg, httpClient: httpClient}
}

// Fetch returns the current daily papers with their upvote counts and rank.
func (c *Client) Fetch(ctx context.Context, q papersources.Query) ([]domain.Candidate, error) {
	listURL, err := c.buildListURL(q)
	if err != nil {
		return nil, fmt.Errorf("building list URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := papersources.CheckStatus(sourceName, resp); err != nil {
		return nil, err
	}

	var entries []DailyPaper
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(entries))
	for i, entry := range entries {
		cand, ok := toCandidate(entry)
		if !ok {
			continue
		}
		cand.Signals.Rank = i + 1
		if q.Since != nil && cand.PublishedAt != nil && cand.PublishedAt.Before(*q.Since) {
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeHuggingFace
}

func (c *Client) Name() string {
	return sourceName
}

func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) buildListURL(q papersources.Query) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/daily_papers"

	limit := q.MaxResults
	if limit <= 0 {
		limit = c.config.MaxResults
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func toCandidate(entry DailyPaper) (domain.Candidate, bool) {
	arxivID := strings.TrimSpace(entry.Paper.ID)
	title := strings.Join(strings.Fields(firstNonEmpty(entry.Paper.Title, entry.Title)), " ")
	if arxivID == "" || title == "" {
		return domain.Candidate{}, false
	}

	cand := domain.Candidate{
		ExternalID: domain.GenerateCanonicalID(domain.PaperIdentifiers{ArXivID: arxivID}),
		Title:      title,
		Abstract:   strings.Join(strings.Fields(entry.Paper.Summary), " "),
		Source:     domain.SourceTypeHuggingFace,
		URL:        "https://huggingface.co/papers/" + domain.StripArXivVersion(arxivID),
		PDFURL:     "https://arxiv.org/pdf/" + domain.StripArXivVersion(arxivID),
		Signals:    domain.Signals{Upvotes: entry.Paper.Upvotes},
	}

	for _, a := range entry.Paper.Authors {
		if name := strings.TrimSpace(a.Name); name != "" && !a.Hidden {
			cand.Authors = append(cand.Authors, name)
		}
	}

	if t, err := time.Parse(time.RFC3339, firstNonEmpty(entry.Paper.PublishedAt, entry.PublishedAt)); err == nil {
		cand.PublishedAt = &t
	}

	return cand, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
