// Package scoring assigns discovery candidates a relevance score from cheap,
// locally available signals.
//
// The rule table is evaluated in priority order and the first match wins:
//
//	upvotes >= HighUpvotes      0.98  community_high
//	upvotes >= LowUpvotes       0.95  community_moderate
//	citations >= HighCitations  0.90  citations_high
//	keyword in title/abstract   0.70  keyword_match
//	otherwise                   0     no_signal (rejected)
//
// Scores depend only on the candidate's signals and the configuration, so
// re-scoring is idempotent.
package scoring

import (
	"sort"
	"strings"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// Tier scores.
const (
	ScoreCommunityHigh     = 0.98
	ScoreCommunityModerate = 0.95
	ScoreCitations         = 0.90
	ScoreKeyword           = 0.70
	ScoreNone              = 0.0
)

// Config holds the tier thresholds and topic keywords.
type Config struct {
	HighUpvotes   int
	LowUpvotes    int
	HighCitations int
	Keywords      []string
}

// Scorer applies the rule table. It is immutable after construction and safe
// for concurrent use.
type Scorer struct {
	cfg      Config
	keywords []string
}

// New creates a scorer. Keywords are matched case-insensitively; blank
// keywords are ignored.
func New(cfg Config) *Scorer {
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Scorer{cfg: cfg, keywords: keywords}
}

// Score returns the candidate with its score and the rule that produced it.
func (s *Scorer) Score(c domain.Candidate) domain.ScoredCandidate {
	score, rule := s.evaluate(c)
	return domain.ScoredCandidate{Candidate: c, Score: score, Rule: rule}
}

func (s *Scorer) evaluate(c domain.Candidate) (float64, domain.ScoreRule) {
	sig := c.Signals
	switch {
	case meets(sig.Upvotes, s.cfg.HighUpvotes):
		return ScoreCommunityHigh, domain.ScoreRuleCommunityHigh
	case meets(sig.Upvotes, s.cfg.LowUpvotes):
		return ScoreCommunityModerate, domain.ScoreRuleCommunityModerate
	case meets(sig.Citations, s.cfg.HighCitations):
		return ScoreCitations, domain.ScoreRuleCitations
	case s.matchesKeyword(c):
		return ScoreKeyword, domain.ScoreRuleKeyword
	default:
		return ScoreNone, domain.ScoreRuleNone
	}
}

// meets treats a non-positive threshold as a disabled tier.
func meets(value, threshold int) bool {
	return threshold > 0 && value >= threshold
}

func (s *Scorer) matchesKeyword(c domain.Candidate) bool {
	if len(s.keywords) == 0 {
		return false
	}
	text := strings.ToLower(c.Title + "\n" + c.Abstract)
	for _, k := range s.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Rank orders scored candidates by score descending, then by source rank
// (ranked before unranked, lower first), then by discovery sequence. The sort
// is stable.
func Rank(scored []domain.ScoredCandidate) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := rankKey(a.Signals.Rank), rankKey(b.Signals.Rank); ra != rb {
			return ra < rb
		}
		return a.Seq < b.Seq
	})
}

func rankKey(rank int) int {
	if rank <= 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}

// Accepted returns the candidates with a non-zero score, preserving order.
func Accepted(scored []domain.ScoredCandidate) []domain.ScoredCandidate {
	out := make([]domain.ScoredCandidate, 0, len(scored))
	for _, sc := range scored {
		if !sc.Rejected() {
			out = append(out, sc)
		}
	}
	return out
}
