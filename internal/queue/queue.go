// Package queue is the task admission queue. It persists every task, limits
// how many tasks one owner may have in flight, runs each admitted task on its
// own goroutine against the document pipeline and resolves tasks left over by
// a previous process at startup.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/artifacts"
	"github.com/helixir/paper-radar-service/internal/dedup"
	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/observability"
	"github.com/helixir/paper-radar-service/internal/pipeline"
	"github.com/helixir/paper-radar-service/internal/repository"
)

const (
	// DefaultPerOwnerLimit is the number of in-flight tasks per owner when unset.
	DefaultPerOwnerLimit = 2

	// DefaultMaxUploadBytes caps an uploaded document when unset.
	DefaultMaxUploadBytes int64 = 50 * 1024 * 1024

	// terminalRetries bounds how often a terminal write is retried after
	// losing a status race.
	terminalRetries = 3
)

// Downloader fetches a discovered paper into the artifact store.
type Downloader interface {
	Download(ctx context.Context, taskID uuid.UUID, rawURL string) (*artifacts.Artifact, error)
}

// ArtifactStore holds task input documents.
type ArtifactStore interface {
	Save(taskID uuid.UUID, r io.Reader, maxSize int64) (*artifacts.Artifact, error)
	Exists(path string) bool
	Remove(paths ...string) error
}

// KnowledgeRecorder receives the knowledge base entry of a completed task.
type KnowledgeRecorder interface {
	Upsert(ctx context.Context, rec *domain.KnowledgeRecord) error
}

// EventNotifier delivers notifications without blocking.
type EventNotifier interface {
	Notify(event domain.Event)
}

// IdentityRecorder remembers uploaded papers so discovery does not admit them again.
type IdentityRecorder interface {
	Remember(id dedup.Identity)
}

// Config holds queue settings.
type Config struct {
	// PerOwnerLimit is the number of tasks one owner may have past pending.
	PerOwnerLimit int

	// MaxUploadBytes caps an uploaded document.
	MaxUploadBytes int64

	// DefaultMode is used for uploads that name no mode.
	DefaultMode string
}

// Deps are the collaborators of a Queue. Knowledge, Notifier, Identities and
// Metrics are optional.
type Deps struct {
	Tasks      repository.TaskRepository
	Pipeline   pipeline.Pipeline
	Store      ArtifactStore
	Downloader Downloader
	Knowledge  KnowledgeRecorder
	Notifier   EventNotifier
	Identities IdentityRecorder
	Metrics    *observability.Metrics
}

// entry is a task waiting for a slot.
type entry struct {
	task       *domain.Task
	resumeFrom domain.TaskStatus
}

// ownerState tracks one owner's slots and FIFO of waiting tasks.
type ownerState struct {
	active  int
	pending []entry
}

// runningTask is a task holding a slot.
type runningTask struct {
	owner  string
	cancel context.CancelFunc
}

// Queue admits tasks and runs them with a per-owner concurrency limit.
// All methods are safe for concurrent use.
type Queue struct {
	cfg     Config
	deps    Deps
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	owners  map[string]*ownerState
	running map[uuid.UUID]*runningTask
	started bool
	closed  bool
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Queue. Tasks are persisted immediately but nothing runs until Start.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Queue, error) {
	if deps.Tasks == nil {
		return nil, errors.New("queue: task repository is required")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("queue: pipeline is required")
	}
	if deps.Store == nil {
		return nil, errors.New("queue: artifact store is required")
	}
	if cfg.PerOwnerLimit <= 0 {
		cfg.PerOwnerLimit = DefaultPerOwnerLimit
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Queue{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With().Str("component", "queue").Logger(),
		metrics: deps.Metrics,
		owners:  make(map[string]*ownerState),
		running: make(map[uuid.UUID]*runningTask),
		baseCtx: baseCtx,
		stop:    stop,
	}, nil
}

// Admit persists a discovery task and queues it. It never blocks on processing.
func (q *Queue) Admit(ctx context.Context, task *domain.Task) error {
	if err := q.checkOpen(); err != nil {
		return err
	}
	if err := q.deps.Tasks.Create(ctx, task); err != nil {
		return fmt.Errorf("persisting task: %w", err)
	}
	q.metrics.RecordTaskAdmitted(string(task.Origin))
	q.enqueue(entry{task: task}, false)
	return nil
}

// UploadRequest describes a user-uploaded document.
type UploadRequest struct {
	Owner     string
	Filename  string
	Mode      string
	Highlight bool
	Body      io.Reader
}

// Upload stores the document, persists a task for it and queues it. Uploads
// are never subject to the discovery capacity ceiling.
func (q *Queue) Upload(ctx context.Context, req UploadRequest) (*domain.Task, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}
	if req.Owner == "" {
		return nil, domain.NewValidationError("owner", "owner is required")
	}
	if req.Filename == "" {
		return nil, domain.NewValidationError("filename", "filename is required")
	}
	if req.Body == nil {
		return nil, domain.NewValidationError("file", "file is required")
	}

	mode := req.Mode
	if mode == "" {
		mode = q.cfg.DefaultMode
	}
	task := domain.NewUploadTask(req.Owner, req.Filename, mode, req.Highlight)
	art, err := q.deps.Store.Save(task.ID, req.Body, q.cfg.MaxUploadBytes)
	if err != nil {
		if errors.Is(err, artifacts.ErrTooLarge) {
			return nil, domain.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", q.cfg.MaxUploadBytes))
		}
		return nil, fmt.Errorf("storing upload: %w", err)
	}
	task.InputPath = art.Path
	task.InputHash = art.Hash

	if err := q.deps.Tasks.Create(ctx, task); err != nil {
		_ = q.deps.Store.Remove(art.Path)
		return nil, fmt.Errorf("persisting task: %w", err)
	}
	if q.deps.Identities != nil {
		q.deps.Identities.Remember(dedup.Identity{
			NormalizedTitle: task.NormalizedTitle,
			Filename:        task.Filename,
		})
	}
	q.metrics.RecordTaskAdmitted(string(task.Origin))
	q.enqueue(entry{task: task}, false)
	return task, nil
}

// Get returns a task. A non-empty owner must match the task's owner.
func (q *Queue) Get(ctx context.Context, id uuid.UUID, owner string) (*domain.Task, error) {
	task, err := q.deps.Tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner != "" && task.Owner != owner {
		return nil, domain.NewNotFoundError("task", id.String())
	}
	return task, nil
}

// List returns the owner's most recent tasks.
func (q *Queue) List(ctx context.Context, owner string, limit int) ([]*domain.Task, error) {
	if owner == "" {
		return nil, domain.NewValidationError("owner", "owner is required")
	}
	return q.deps.Tasks.ListByOwner(ctx, owner, limit)
}

// Depth returns the number of non-terminal tasks, pending included.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.deps.Tasks.CountNonTerminal(ctx)
}

// Cancel moves a live task to failed with reason cancelled and frees its slot
// whatever stage it is in. Cancelling a terminal task is a no-op.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID, owner string) (*domain.Task, error) {
	task, err := q.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, nil
	}

	q.mu.Lock()
	e, wasPending := q.removePendingLocked(task.Owner, id)
	q.mu.Unlock()

	// The failed status is stored before the slot is freed, so the owner's
	// next task never runs alongside a still-live cancelled one.
	resolved, err := q.finishWithRetry(ctx, task, domain.ReasonCancelled)
	if err != nil {
		if wasPending {
			q.enqueue(e, true)
		}
		return nil, err
	}
	q.release(id)
	return resolved, nil
}

// Delete cancels the task if it is live, then removes it and its input.
func (q *Queue) Delete(ctx context.Context, id uuid.UUID, owner string) error {
	task, err := q.Cancel(ctx, id, owner)
	if err != nil {
		return err
	}
	if err := q.deps.Tasks.Delete(ctx, id); err != nil {
		return err
	}
	if task.InputPath != "" {
		if err := q.deps.Store.Remove(task.InputPath); err != nil {
			q.logger.Warn().Err(err).Str("task_id", id.String()).Msg("failed to remove task input")
		}
	}
	return nil
}

// Stats reports waiting and running task counts held in memory.
func (q *Queue) Stats() (pending, running int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

// Start begins dispatching. Recovery must run before Start.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for owner := range q.owners {
		q.dispatchLocked(owner)
	}
	q.logger.Info().Int("per_owner_limit", q.cfg.PerOwnerLimit).Msg("task queue started")
}

// Shutdown stops accepting work and cancels running tasks without resolving
// them; the next recovery sweep picks them up. It waits for workers to exit
// or ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.stop()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	}
}

func (q *Queue) checkOpen() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	return nil
}

// enqueue adds e to its owner's FIFO, at the front when front is set, and
// dispatches if a slot is free.
func (q *Queue) enqueue(e entry, front bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueLocked(e, front)
	q.dispatchLocked(e.task.Owner)
}

func (q *Queue) enqueueLocked(e entry, front bool) {
	st := q.owners[e.task.Owner]
	if st == nil {
		st = &ownerState{}
		q.owners[e.task.Owner] = st
	}
	if front {
		st.pending = append([]entry{e}, st.pending...)
	} else {
		st.pending = append(st.pending, e)
	}
}

// dispatchLocked starts the owner's waiting tasks while slots are free.
func (q *Queue) dispatchLocked(owner string) {
	defer q.publishLocked()
	if !q.started || q.closed {
		return
	}
	st := q.owners[owner]
	if st == nil {
		return
	}
	for st.active < q.cfg.PerOwnerLimit && len(st.pending) > 0 {
		e := st.pending[0]
		st.pending = st.pending[1:]
		st.active++

		ctx, cancel := context.WithCancel(q.baseCtx)
		q.running[e.task.ID] = &runningTask{owner: owner, cancel: cancel}
		q.wg.Add(1)
		go q.work(ctx, e)
	}
}

// releaseLocked frees the slot held by id, if any, and dispatches the
// owner's next task. It is idempotent.
func (q *Queue) releaseLocked(id uuid.UUID) {
	rt, ok := q.running[id]
	if !ok {
		return
	}
	delete(q.running, id)
	rt.cancel()

	st := q.owners[rt.owner]
	if st == nil {
		return
	}
	st.active--
	q.dispatchLocked(rt.owner)
	if st.active == 0 && len(st.pending) == 0 {
		delete(q.owners, rt.owner)
	}
}

func (q *Queue) release(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaseLocked(id)
}

func (q *Queue) removePendingLocked(owner string, id uuid.UUID) (entry, bool) {
	st := q.owners[owner]
	if st == nil {
		return entry{}, false
	}
	for i, e := range st.pending {
		if e.task.ID == id {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			q.publishLocked()
			return e, true
		}
	}
	return entry{}, false
}

func (q *Queue) statsLocked() (pending, running int) {
	for _, st := range q.owners {
		pending += len(st.pending)
	}
	return pending, len(q.running)
}

func (q *Queue) publishLocked() {
	pending, running := q.statsLocked()
	q.metrics.SetQueueState(pending+running, running)
}

// finishWithRetry drives a live task to failed with reason, re-reading the
// stored row when a concurrent writer moved it first.
func (q *Queue) finishWithRetry(ctx context.Context, task *domain.Task, reason string) (*domain.Task, error) {
	for attempt := 0; ; attempt++ {
		err := q.fail(ctx, task, reason)
		if err == nil {
			return task, nil
		}
		var transitionErr *domain.TransitionError
		if !errors.As(err, &transitionErr) || attempt == terminalRetries {
			return nil, err
		}
		task, err = q.deps.Tasks.Get(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if task.Status.IsTerminal() {
			return task, nil
		}
	}
}

// complete moves the task to completed and runs the completion hooks. Only
// the writer whose guarded update succeeds runs them, so they run once.
func (q *Queue) complete(ctx context.Context, task *domain.Task, message string) error {
	prev := task.Status
	now := time.Now().UTC()
	task.Status = domain.TaskStatusCompleted
	task.Percent = 100
	task.Message = message
	if task.Message == "" {
		task.Message = "Processing complete"
	}
	task.CompletedAt = &now
	if err := q.deps.Tasks.UpdateProgress(ctx, task, prev); err != nil {
		task.Status = prev
		return err
	}

	q.recordKnowledge(ctx, task)
	q.notify(task)
	q.metrics.RecordTaskCompleted(taskDuration(task, now))
	return nil
}

// fail moves the task to failed with reason.
func (q *Queue) fail(ctx context.Context, task *domain.Task, reason string) error {
	prev := task.Status
	now := time.Now().UTC()
	task.Status = domain.TaskStatusFailed
	task.Error = reason
	task.Message = "Failed: " + reason
	task.CompletedAt = &now
	if err := q.deps.Tasks.UpdateProgress(ctx, task, prev); err != nil {
		task.Status = prev
		return err
	}
	// A failed discovery stays known; otherwise the next scan after a
	// restart would admit the same paper again.
	if task.Origin == domain.TaskOriginDiscovery {
		q.recordKnowledge(ctx, task)
	}
	q.notify(task)
	q.metrics.RecordTaskFailed(reason, taskDuration(task, now))
	return nil
}

func (q *Queue) recordKnowledge(ctx context.Context, task *domain.Task) {
	if q.deps.Knowledge == nil {
		return
	}
	rec := domain.NewKnowledgeRecord(task)
	if err := q.deps.Knowledge.Upsert(ctx, rec); err != nil {
		q.logger.Error().Err(err).
			Str("task_id", task.ID.String()).
			Str("status", string(task.Status)).
			Msg("failed to record task in knowledge base")
	}
}

func (q *Queue) notify(task *domain.Task) {
	if q.deps.Notifier != nil {
		q.deps.Notifier.Notify(domain.NewTaskEvent(task))
	}
}

func taskDuration(task *domain.Task, end time.Time) float64 {
	if task.StartedAt == nil {
		return 0
	}
	return end.Sub(*task.StartedAt).Seconds()
}
