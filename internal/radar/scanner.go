// Package radar runs discovery scans. A scan queries every source, scores the
// merged candidates, deduplicates survivors in rank order and admits the best
// of them into the task queue. Scans never overlap: the timer and manual
// triggers compete for a single slot and a loser is told a scan is running.
package radar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/dedup"
	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/observability"
	"github.com/helixir/paper-radar-service/internal/papersources"
	"github.com/helixir/paper-radar-service/internal/scoring"
)

// Scan triggers.
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

// RejectNoPDF labels candidates dropped because no PDF link is known.
const RejectNoPDF = "no_pdf"

// Defaults applied by New.
const (
	DefaultInterval   = time.Hour
	DefaultMaxPerScan = 10
	DefaultCapacity   = 20
	DefaultRecentSize = 50
)

// Fetcher queries all discovery sources.
type Fetcher interface {
	FetchAll(ctx context.Context, q papersources.Query) []papersources.SourceResult
}

// Deduplicator decides whether a candidate is new and reserves it if so.
type Deduplicator interface {
	Check(ctx context.Context, cand domain.Candidate) (*dedup.CheckResult, error)
	Release(keys []string)
}

// Admitter is the task queue as seen by discovery.
type Admitter interface {
	Admit(ctx context.Context, task *domain.Task) error
	Depth(ctx context.Context) (int, error)
}

// StateStore persists the scan counters.
type StateStore interface {
	Load(ctx context.Context) (*domain.ScanRecord, error)
	Save(ctx context.Context, rec *domain.ScanRecord) error
}

// EventNotifier delivers notifications without blocking.
type EventNotifier interface {
	Notify(event domain.Event)
}

// Config holds scanner settings.
type Config struct {
	Enabled    bool
	Interval   time.Duration
	Categories []string
	Topics     []string
	Lookback   time.Duration
	MaxResults int
	MaxPerScan int
	Capacity   int
	RecentSize int

	// SystemOwner owns discovery tasks.
	SystemOwner string
	// Mode and Highlight are applied to discovery tasks.
	Mode      string
	Highlight bool
}

// Deps are the scanner's collaborators. State and Notifier are optional.
type Deps struct {
	Fetcher  Fetcher
	Scorer   *scoring.Scorer
	Dedup    Deduplicator
	Queue    Admitter
	State    StateStore
	Notifier EventNotifier
	Metrics  *observability.Metrics
}

// Status is the scanner state exposed to the status endpoint.
type Status struct {
	Enabled         bool                `json:"enabled"`
	Running         bool                `json:"running"`
	LastScanAt      *time.Time          `json:"last_scan_at,omitempty"`
	NextScanAt      *time.Time          `json:"next_scan_at,omitempty"`
	ScanCount       int64               `json:"scan_count"`
	FoundCount      int64               `json:"found_count"`
	IntervalSeconds int64               `json:"interval_seconds"`
	Categories      []string            `json:"categories"`
	Recent          []domain.Discovery  `json:"recent"`
	LastScan        *domain.ScanSummary `json:"last_scan,omitempty"`
}

// Scanner is the scan orchestrator.
type Scanner struct {
	cfg     Config
	deps    Deps
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	// slot holds a token while a scan runs.
	slot chan struct{}

	// background scans started by Trigger run under baseCtx.
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	record domain.ScanRecord
	recent *recentBuffer
	last   *domain.ScanSummary
}

// New creates a Scanner.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Scanner, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("radar: fetcher is required")
	}
	if deps.Scorer == nil {
		return nil, errors.New("radar: scorer is required")
	}
	if deps.Dedup == nil {
		return nil, errors.New("radar: deduplicator is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("radar: queue is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxPerScan <= 0 {
		cfg.MaxPerScan = DefaultMaxPerScan
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = DefaultRecentSize
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Scanner{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		logger:  logger.With().Str("component", "radar").Logger(),
		now:     time.Now,
		slot:    make(chan struct{}, 1),
		baseCtx: baseCtx,
		stop:    stop,
		recent:  newRecentBuffer(cfg.RecentSize),
	}, nil
}

// Load restores the persisted counters. A running flag left by a crashed
// process is cleared.
func (s *Scanner) Load(ctx context.Context) error {
	if s.deps.State == nil {
		return nil
	}
	rec, err := s.deps.State.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading scan state: %w", err)
	}
	rec.Running = false

	s.mu.Lock()
	s.record = *rec
	s.mu.Unlock()
	return nil
}

// Enabled reports whether the radar is switched on.
func (s *Scanner) Enabled() bool {
	return s.cfg.Enabled
}

// Run drives timer scans until ctx is cancelled. The first scan starts once
// an interval has passed since the last recorded scan.
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Strs("categories", s.cfg.Categories).
		Msg("radar started")

	timer := time.NewTimer(s.firstDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("radar stopped")
			return
		case <-timer.C:
			if _, err := s.Scan(ctx, TriggerTimer); err != nil {
				if errors.Is(err, domain.ErrScanInProgress) {
					s.logger.Debug().Msg("timer scan skipped, scan already running")
				} else if ctx.Err() == nil {
					s.logger.Error().Err(err).Msg("timer scan failed")
				}
			}
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Scanner) firstDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := time.Duration(0)
	if s.record.LastScanAt != nil {
		if d := s.record.LastScanAt.Add(s.cfg.Interval).Sub(s.now()); d > 0 {
			delay = d
		}
	}
	next := s.now().Add(delay).UTC()
	s.record.NextScanAt = &next
	return delay
}

// Trigger starts a manual scan in the background and returns at once. It
// returns domain.ErrScanInProgress if a scan holds the slot and
// domain.ErrRadarDisabled when the radar is off.
func (s *Scanner) Trigger(trigger string) error {
	if !s.cfg.Enabled {
		return domain.ErrRadarDisabled
	}
	if !s.acquire() {
		s.metrics.RecordScanRejected()
		return domain.ErrScanInProgress
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseSlot()
		if _, err := s.scan(s.baseCtx, trigger); err != nil && s.baseCtx.Err() == nil {
			s.logger.Error().Err(err).Str("trigger", trigger).Msg("scan failed")
		}
	}()
	return nil
}

// Scan runs one scan synchronously. It returns domain.ErrScanInProgress if
// another scan holds the slot.
func (s *Scanner) Scan(ctx context.Context, trigger string) (*domain.ScanSummary, error) {
	if !s.acquire() {
		s.metrics.RecordScanRejected()
		return nil, domain.ErrScanInProgress
	}
	defer s.releaseSlot()
	return s.scan(ctx, trigger)
}

// Shutdown waits for a background scan to finish or ctx to expire.
func (s *Scanner) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("radar shutdown: %w", ctx.Err())
	}
}

// Status returns a snapshot of the scanner state.
func (s *Scanner) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Enabled:         s.cfg.Enabled,
		Running:         s.record.Running,
		ScanCount:       s.record.ScanCount,
		FoundCount:      s.record.FoundCount,
		IntervalSeconds: int64(s.cfg.Interval.Seconds()),
		Categories:      append([]string(nil), s.cfg.Categories...),
		Recent:          s.recent.snapshot(),
		LastScan:        s.last,
	}
	if s.record.LastScanAt != nil {
		t := *s.record.LastScanAt
		st.LastScanAt = &t
	}
	if s.cfg.Enabled && s.record.NextScanAt != nil {
		t := *s.record.NextScanAt
		st.NextScanAt = &t
	}
	return st
}

func (s *Scanner) acquire() bool {
	select {
	case s.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scanner) releaseSlot() {
	<-s.slot
}

// scan runs with the slot held.
func (s *Scanner) scan(ctx context.Context, trigger string) (*domain.ScanSummary, error) {
	summary := &domain.ScanSummary{
		ScanID:    uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
	ctx = observability.WithScanID(ctx, summary.ScanID)
	logger := observability.WithScanContext(s.logger, summary.ScanID, trigger)

	s.setRunning(ctx, true)

	depth, err := s.deps.Queue.Depth(ctx)
	if err != nil {
		// Without a depth reading the ceiling cannot be honoured, so admit nothing.
		logger.Warn().Err(err).Msg("failed to read queue depth, skipping admission")
		summary.Backpressure = true
	} else if depth >= s.cfg.Capacity {
		logger.Info().Int("depth", depth).Int("capacity", s.cfg.Capacity).Msg("queue at capacity, skipping admission")
		summary.Backpressure = true
	}
	if summary.Backpressure {
		s.metrics.RecordBackpressure()
	}

	results := s.deps.Fetcher.FetchAll(ctx, s.query())
	candidates := papersources.Merge(results)
	summary.Found = len(candidates)
	summary.Sources = make([]domain.SourceReport, 0, len(results))
	for _, res := range results {
		summary.Sources = append(summary.Sources, res.Report())
	}

	var admitted []domain.Discovery
	var admittedCandidates []domain.ScoredCandidate
	if !summary.Backpressure {
		var scored int
		admitted, admittedCandidates, scored = s.admit(ctx, logger, candidates)
		summary.Scored = scored
	}
	summary.Admitted = len(admitted)
	summary.FinishedAt = s.now().UTC()

	s.finish(ctx, summary, admitted)

	if len(admittedCandidates) > 0 && s.deps.Notifier != nil {
		s.deps.Notifier.Notify(domain.NewPapersDiscoveredEvent(admittedCandidates))
	}
	s.metrics.RecordScan(trigger, summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	degraded := 0
	for _, r := range summary.Sources {
		if r.Degraded() {
			degraded++
		}
	}
	logger.Info().
		Int("found", summary.Found).
		Int("scored", summary.Scored).
		Int("admitted", summary.Admitted).
		Int("degraded_sources", degraded).
		Bool("backpressure", summary.Backpressure).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("scan complete")

	return summary, nil
}

// admit scores every candidate, drops the rejected ones and walks the rest in
// rank order through dedup and into the queue until the per-scan cap.
// Candidates rejected by the scorer or lacking a PDF link never reach dedup.
func (s *Scanner) admit(ctx context.Context, logger zerolog.Logger, candidates []domain.Candidate) ([]domain.Discovery, []domain.ScoredCandidate, int) {
	scored := make([]domain.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		sc, err := s.score(c)
		if err != nil {
			logger.Warn().Err(err).Str("external_id", c.ExternalID).Msg("scoring failed, skipping candidate")
			continue
		}
		s.metrics.RecordCandidateScored(string(sc.Rule))
		if sc.Rejected() {
			s.metrics.RecordCandidateRejected("score")
			continue
		}
		scored = append(scored, sc)
	}
	scoring.Rank(scored)

	var (
		admitted []domain.Discovery
		picked   []domain.ScoredCandidate
	)
	for _, sc := range scored {
		if len(admitted) >= s.cfg.MaxPerScan {
			break
		}
		clog := observability.WithCandidateContext(logger, sc.ExternalID, string(sc.Source))

		if sc.PDFURL == "" {
			s.metrics.RecordCandidateRejected(RejectNoPDF)
			clog.Debug().Msg("candidate has no pdf link, skipping")
			continue
		}

		res, err := s.check(ctx, sc.Candidate)
		if err != nil {
			clog.Warn().Err(err).Msg("dedup check failed, skipping candidate")
			continue
		}
		if res.IsDuplicate {
			s.metrics.RecordCandidateRejected(res.MatchedBy)
			clog.Debug().Str("matched_by", res.MatchedBy).Str("duplicate_of", res.DuplicateOf).Msg("duplicate candidate")
			continue
		}

		task := domain.NewDiscoveryTask(s.cfg.SystemOwner, s.cfg.Mode, s.cfg.Highlight, sc)
		if err := s.deps.Queue.Admit(ctx, task); err != nil {
			s.deps.Dedup.Release(res.Keys)
			if errors.Is(err, domain.ErrQueueClosed) || ctx.Err() != nil {
				clog.Info().Err(err).Msg("queue unavailable, ending admission")
				break
			}
			clog.Warn().Err(err).Msg("failed to admit candidate")
			continue
		}

		s.metrics.RecordCandidateAdmitted()
		clog.Debug().Float64("score", sc.Score).Str("rule", string(sc.Rule)).Str("task_id", task.ID.String()).Msg("candidate admitted")
		admitted = append(admitted, domain.Discovery{
			TaskID:       task.ID.String(),
			ExternalID:   sc.ExternalID,
			Title:        sc.Title,
			Source:       sc.Source,
			Score:        sc.Score,
			Rule:         sc.Rule,
			DiscoveredAt: s.now().UTC(),
		})
		picked = append(picked, sc)
	}
	return admitted, picked, len(scored)
}

// score isolates a panic in scoring to the one candidate.
func (s *Scanner) score(c domain.Candidate) (sc domain.ScoredCandidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scorer panicked: %v", p)
		}
	}()
	return s.deps.Scorer.Score(c), nil
}

// check isolates a panic in dedup to the one candidate.
func (s *Scanner) check(ctx context.Context, c domain.Candidate) (res *dedup.CheckResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("dedup panicked: %v", p)
		}
	}()
	return s.deps.Dedup.Check(ctx, c)
}

func (s *Scanner) query() papersources.Query {
	q := papersources.Query{
		Categories: s.cfg.Categories,
		Topics:     s.cfg.Topics,
		MaxResults: s.cfg.MaxResults,
	}
	if s.cfg.Lookback > 0 {
		since := s.now().Add(-s.cfg.Lookback).UTC()
		q.Since = &since
	}
	return q
}

func (s *Scanner) setRunning(ctx context.Context, running bool) {
	s.mu.Lock()
	s.record.Running = running
	rec := s.record
	s.mu.Unlock()
	s.persist(ctx, &rec)
}

// finish folds a completed scan into the state and persists it. Only timer
// scans move NextScanAt; Run's timer is not rearmed by a manual scan.
func (s *Scanner) finish(ctx context.Context, summary *domain.ScanSummary, admitted []domain.Discovery) {
	s.mu.Lock()
	last := summary.FinishedAt
	s.record.Running = false
	s.record.LastScanAt = &last
	if summary.Trigger == TriggerTimer {
		next := last.Add(s.cfg.Interval)
		s.record.NextScanAt = &next
	}
	s.record.ScanCount++
	s.record.FoundCount += int64(summary.Found)
	for _, d := range admitted {
		s.recent.push(d)
	}
	s.last = summary
	rec := s.record
	s.mu.Unlock()

	s.persist(ctx, &rec)
}

func (s *Scanner) persist(ctx context.Context, rec *domain.ScanRecord) {
	if s.deps.State == nil {
		return
	}
	if err := s.deps.State.Save(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist scan state")
	}
}
