package papersources

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/observability"
)

// DefaultSourceTimeout bounds a single source when the registry is built
// without an explicit timeout.
const DefaultSourceTimeout = 30 * time.Second

// collectGrace is how long past the per-source timeout the registry keeps
// waiting for a source that ignores its context.
const collectGrace = 250 * time.Millisecond

// ErrSourceTimeout is reported for a source that did not return in time.
var ErrSourceTimeout = errors.New("source timed out")

// Registry holds the discovery sources and fans a scan out across them.
// Sources are kept in registration order so merged results are deterministic.
type Registry struct {
	mu      sync.RWMutex
	sources []Source

	timeout time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(timeout time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	return &Registry{
		timeout: timeout,
		metrics: metrics,
		logger:  logger.With().Str("component", "papersources").Logger(),
	}
}

// Register adds a source. A source with the same type replaces the old one
// in place.
func (r *Registry) Register(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sources {
		if s.SourceType() == source.SourceType() {
			r.sources[i] = source
			return
		}
	}
	r.sources = append(r.sources, source)
}

// Get returns a source by type, or nil if not registered.
func (r *Registry) Get(sourceType domain.SourceType) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.SourceType() == sourceType {
			return s
		}
	}
	return nil
}

// EnabledSources returns a snapshot of the enabled sources in registration order.
func (r *Registry) EnabledSources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		if s.IsEnabled() {
			sources = append(sources, s)
		}
	}
	return sources
}

// FetchAll queries every enabled source concurrently.
//
// Each source runs under its own timeout, so one slow or failing source never
// holds up or fails the others. Errors and panics are captured per source in
// the returned results, which follow registration order.
func (r *Registry) FetchAll(ctx context.Context, q Query) []SourceResult {
	sources := r.EnabledSources()
	if len(sources) == 0 {
		return nil
	}

	results := make([]SourceResult, len(sources))
	done := make([]bool, len(sources))

	type indexed struct {
		i int
		SourceResult
	}
	resultChan := make(chan indexed, len(sources))

	for i, source := range sources {
		go func(i int, s Source) {
			resultChan <- indexed{i: i, SourceResult: r.fetchOne(ctx, s, q)}
		}(i, source)
	}

	deadline := time.NewTimer(r.timeout + collectGrace)
	defer deadline.Stop()

collect:
	for remaining := len(sources); remaining > 0; remaining-- {
		select {
		case res := <-resultChan:
			results[res.i] = res.SourceResult
			done[res.i] = true
		case <-deadline.C:
			break collect
		}
	}

	for i, s := range sources {
		if done[i] {
			continue
		}
		results[i] = SourceResult{Source: s.SourceType(), Err: ErrSourceTimeout, Duration: r.timeout}
		r.logger.Warn().Str("source", string(s.SourceType())).Msg("source did not return before deadline")
	}

	return results
}

func (r *Registry) fetchOne(ctx context.Context, s Source, q Query) (res SourceResult) {
	sourceType := s.SourceType()
	res.Source = sourceType

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Candidates = nil
			res.Err = fmt.Errorf("source panicked: %v", p)
		}
		res.Duration = time.Since(start)
		r.record(res)
	}()

	candidates, err := s.Fetch(ctx, q)
	for i := range candidates {
		candidates[i].Source = sourceType
	}
	res.Candidates = candidates
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrSourceTimeout, err)
	}
	res.Err = err
	return res
}

func (r *Registry) record(res SourceResult) {
	source := string(res.Source)
	secs := res.Duration.Seconds()

	if res.Err == nil {
		r.metrics.RecordSourceRequest(source, secs)
		r.metrics.RecordCandidatesFound(source, len(res.Candidates))
		r.logger.Debug().Str("source", source).Int("found", len(res.Candidates)).Dur("duration", res.Duration).Msg("source fetched")
		return
	}

	var rateErr *domain.RateLimitError
	errType := "error"
	switch {
	case errors.As(res.Err, &rateErr):
		errType = "rate_limited"
		r.metrics.RecordSourceRateLimited(source)
	case errors.Is(res.Err, ErrSourceTimeout):
		errType = "timeout"
	}
	r.metrics.RecordSourceRequestFailed(source, errType, secs)
	r.metrics.RecordCandidatesFound(source, len(res.Candidates))
	r.logger.Warn().Err(res.Err).Str("source", source).Int("found", len(res.Candidates)).Msg("source degraded")
}

// Merge flattens results in registration order and assigns each candidate its
// merge sequence number.
func Merge(results []SourceResult) []domain.Candidate {
	var total int
	for _, res := range results {
		total += len(res.Candidates)
	}
	merged := make([]domain.Candidate, 0, total)
	for _, res := range results {
		for _, c := range res.Candidates {
			c.Seq = len(merged)
			merged = append(merged, c)
		}
	}
	return merged
}
