// Package domain provides domain models and business logic for the paper radar service.
package domain

import (
	"strings"
	"time"
)

// SourceType identifies the discovery source that produced a candidate.
type SourceType string

const (
	SourceTypeArXiv           SourceType = "arxiv"
	SourceTypeHuggingFace     SourceType = "huggingface"
	SourceTypeSemanticScholar SourceType = "semantic_scholar"
	SourceTypeRSS             SourceType = "rss"
)

// PaperIdentifiers holds the identifiers a source may report for a paper.
type PaperIdentifiers struct {
	ArXivID           string
	DOI               string
	SemanticScholarID string
	URL               string
}

// GenerateCanonicalID generates a canonical identifier from paper identifiers.
// Priority order: ArXiv > DOI > SemanticScholar > URL.
// Returns empty string if no identifiers are available.
func GenerateCanonicalID(ids PaperIdentifiers) string {
	if arxiv := strings.TrimSpace(ids.ArXivID); arxiv != "" {
		return "arxiv:" + StripArXivVersion(arxiv)
	}
	if doi := strings.TrimSpace(ids.DOI); doi != "" {
		return "doi:" + strings.ToLower(doi)
	}
	if s2 := strings.TrimSpace(ids.SemanticScholarID); s2 != "" {
		return "s2:" + s2
	}
	if u := strings.TrimSpace(ids.URL); u != "" {
		return "url:" + strings.TrimRight(u, "/")
	}
	return ""
}

// StripArXivVersion removes a trailing version suffix such as "v2".
func StripArXivVersion(id string) string {
	i := strings.LastIndex(id, "v")
	if i <= 0 || i == len(id)-1 {
		return id
	}
	for _, r := range id[i+1:] {
		if r < '0' || r > '9' {
			return id
		}
	}
	return id[:i]
}

// Signals is the bag of cheap relevance signals a source reports.
type Signals struct {
	// Upvotes is the community vote count; zero when the source has no votes.
	Upvotes int `json:"upvotes,omitempty"`
	// Citations is the external citation count.
	Citations int `json:"citations,omitempty"`
	// Rank is the source-declared position (1 is best); zero when unranked.
	Rank int `json:"rank,omitempty"`
}

// Candidate is a paper discovered by a source that has not been admitted yet.
type Candidate struct {
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Abstract    string     `json:"abstract,omitempty"`
	Authors     []string   `json:"authors,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Source      SourceType `json:"source"`
	URL         string     `json:"url,omitempty"`
	PDFURL      string     `json:"pdf_url,omitempty"`
	Signals     Signals    `json:"signals"`
	// Seq is the merge position within a scan, used as the final tie breaker.
	Seq int `json:"-"`
}

// NormalizedTitle returns the candidate title in dedup form.
func (c Candidate) NormalizedTitle() string {
	return NormalizeTitle(c.Title)
}

// ScoreRule names the scoring tier that produced a score.
type ScoreRule string

const (
	ScoreRuleCommunityHigh     ScoreRule = "community_high"
	ScoreRuleCommunityModerate ScoreRule = "community_moderate"
	ScoreRuleCitations         ScoreRule = "citations_high"
	ScoreRuleKeyword           ScoreRule = "keyword_match"
	ScoreRuleNone              ScoreRule = "no_signal"
)

// ScoredCandidate is a candidate with its score and the rule that produced it.
type ScoredCandidate struct {
	Candidate
	Score float64   `json:"score"`
	Rule  ScoreRule `json:"rule"`
}

// Rejected reports whether the scorer rejected the candidate.
func (s ScoredCandidate) Rejected() bool {
	return s.Score <= 0
}
