package papersources

import (
	"context"
	"time"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// Query describes what a scan asks every source for. Sources use the fields
// they understand and ignore the rest.
type Query struct {
	// Categories are arXiv-style subject categories (e.g. cs.CL).
	Categories []string

	// Topics are free-text topics for searchable sources.
	Topics []string

	// Since bounds how old a returned paper may be. Nil means no bound.
	Since *time.Time

	// MaxResults is a size hint; zero uses the source default.
	MaxResults int
}

// Source fetches recent candidates from one discovery feed.
//
// Fetch returns what it could gather. On a partial failure it may return
// candidates together with a non-nil error; the registry keeps both.
type Source interface {
	// Fetch returns the candidates currently offered by the source.
	Fetch(ctx context.Context, q Query) ([]domain.Candidate, error)

	// SourceType returns the source identifier used in metrics and reports.
	SourceType() domain.SourceType

	// Name returns a human-readable name.
	Name() string

	// IsEnabled reports whether the source takes part in scans.
	IsEnabled() bool
}

// SourceResult is the outcome of one source within a fan-out.
type SourceResult struct {
	Source     domain.SourceType
	Candidates []domain.Candidate
	Err        error
	Duration   time.Duration
}

// Report converts the result into the form exposed by the status endpoint.
func (r SourceResult) Report() domain.SourceReport {
	report := domain.SourceReport{
		Source:     r.Source,
		Found:      len(r.Candidates),
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		report.Error = r.Err.Error()
	}
	return report
}
