// Package rss implements the journal and blog feed source. Feeds are not
// queryable, so items are pulled and filtered locally.
package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/papersources"
)

const (
	// DefaultTimeout is the default per-feed request timeout.
	DefaultTimeout = 15 * time.Second

	// DefaultRateLimit is the default request rate across all feeds.
	DefaultRateLimit = 2.0

	// DefaultMaxResults caps the candidates returned per scan.
	DefaultMaxResults = 50

	sourceName = "RSS"
)

var (
	doiRegex   = regexp.MustCompile(`\b(10\.\d{4,9}/[^\s"<>?#]+)`)
	arxivRegex = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5})(?:v\d+)?`)
)

// Config holds configuration for the feed source.
type Config struct {
	Feeds      []string
	Timeout    time.Duration
	RateLimit  float64
	MaxResults int
	Enabled    bool
}

// Client polls a fixed list of feeds.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
	parser     *gofeed.Parser
}

var _ papersources.Source = (*Client)(nil)

// NewClient creates a feed client. If httpClient is nil one is built from cfg.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:    string(domain.SourceTypeRSS),
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			BurstSize: 2,
		})
	}
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		parser:     gofeed.NewParser(),
	}
}

// Fetch pulls every feed and keeps items that match a topic and fall inside
// the lookback window. A failing feed is skipped and reported in the
// returned error while the other feeds still contribute.
func (c *Client) Fetch(ctx context.Context, q papersources.Query) ([]domain.Candidate, error) {
	limit := q.MaxResults
	if limit <= 0 {
		limit = c.config.MaxResults
	}
	keywords := topicKeywords(q.Topics)

	var (
		out  []domain.Candidate
		errs []error
	)
	seen := make(map[string]struct{})

	for _, feedURL := range c.config.Feeds {
		if len(out) >= limit || ctx.Err() != nil {
			break
		}

		feed, err := c.fetchFeed(ctx, feedURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", feedURL, err))
			continue
		}

		for _, item := range feed.Items {
			if len(out) >= limit {
				break
			}
			cand, ok := itemToCandidate(item)
			if !ok {
				continue
			}
			if len(keywords) > 0 && !matchesAnyKeyword(strings.ToLower(cand.Title+" "+cand.Abstract), keywords) {
				continue
			}
			if q.Since != nil && cand.PublishedAt != nil && cand.PublishedAt.Before(*q.Since) {
				continue
			}
			if _, dup := seen[cand.ExternalID]; dup {
				continue
			}
			seen[cand.ExternalID] = struct{}{}
			out = append(out, cand)
		}
	}

	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	return out, errors.Join(errs...)
}

func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeRSS
}

func (c *Client) Name() string {
	return sourceName
}

func (c *Client) IsEnabled() bool {
	return c.config.Enabled && len(c.config.Feeds) > 0
}

func (c *Client) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := papersources.CheckStatus(sourceName, resp); err != nil {
		return nil, err
	}

	feed, err := c.parser.Parse(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return feed, nil
}

func itemToCandidate(item *gofeed.Item) (domain.Candidate, bool) {
	title := strings.Join(strings.Fields(item.Title), " ")
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return domain.Candidate{}, false
	}

	ids := domain.PaperIdentifiers{URL: link}
	if m := arxivRegex.FindStringSubmatch(link); len(m) == 2 {
		ids.ArXivID = m[1]
	}
	for _, text := range []string{link, item.GUID, item.Description} {
		if m := doiRegex.FindStringSubmatch(text); len(m) == 2 {
			ids.DOI = strings.TrimRight(m[1], ".,;")
			break
		}
	}

	cand := domain.Candidate{
		ExternalID: domain.GenerateCanonicalID(ids),
		Title:      title,
		Abstract:   strings.Join(strings.Fields(item.Description), " "),
		Source:     domain.SourceTypeRSS,
		URL:        link,
	}

	switch {
	case item.PublishedParsed != nil:
		t := *item.PublishedParsed
		cand.PublishedAt = &t
	case item.UpdatedParsed != nil:
		t := *item.UpdatedParsed
		cand.PublishedAt = &t
	}

	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			cand.Authors = append(cand.Authors, strings.TrimSpace(a.Name))
		}
	}

	for _, enc := range item.Enclosures {
		if enc != nil && enc.Type == "application/pdf" {
			cand.PDFURL = enc.URL
			break
		}
	}
	if cand.PDFURL == "" && ids.ArXivID != "" {
		cand.PDFURL = "https://arxiv.org/pdf/" + ids.ArXivID
	}
	if cand.PDFURL == "" && strings.HasSuffix(strings.ToLower(link), ".pdf") {
		cand.PDFURL = link
	}

	return cand, true
}

// topicKeywords lowercases topics and drops words too short to be useful.
func topicKeywords(topics []string) []string {
	var out []string
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if len(t) >= 3 {
			out = append(out, t)
		}
	}
	return out
}

func matchesAnyKeyword(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
