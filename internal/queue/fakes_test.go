package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-radar-service/internal/artifacts"
	"github.com/helixir/paper-radar-service/internal/dedup"
	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/pipeline"
	"github.com/helixir/paper-radar-service/internal/repository"
)

// memTasks is an in-memory TaskRepository with the same status guard as the
// PostgreSQL one. It records the highest number of slot-holding tasks seen
// per owner.
type memTasks struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]*domain.Task
	maxActive map[string]int
}

var _ repository.TaskRepository = (*memTasks)(nil)

func newMemTasks() *memTasks {
	return &memTasks{
		tasks:     make(map[uuid.UUID]*domain.Task),
		maxActive: make(map[string]int),
	}
}

func (m *memTasks) Create(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return domain.NewAlreadyExistsError("task", task.ID.String())
	}
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memTasks) Get(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.NewNotFoundError("task", id.String())
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) UpdateProgress(ctx context.Context, task *domain.Task, prev domain.TaskStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.Status != prev && !prev.CanTransitionTo(task.Status) {
		return domain.NewTransitionError(prev, task.Status)
	}
	if task.Status == prev && prev.IsTerminal() {
		return domain.NewTransitionError(prev, task.Status)
	}
	if task.Percent < 0 || task.Percent > 100 {
		return fmt.Errorf("percent %d violates tasks_percent_check", task.Percent)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tasks[task.ID]
	if !ok {
		return domain.NewNotFoundError("task", task.ID.String())
	}
	if stored.Status != prev {
		return domain.NewTransitionError(stored.Status, task.Status)
	}
	task.UpdatedAt = time.Now().UTC()
	cp := *task
	m.tasks[task.ID] = &cp

	active := 0
	for _, t := range m.tasks {
		if t.Owner == task.Owner && t.Status != domain.TaskStatusPending && !t.Status.IsTerminal() {
			active++
		}
	}
	if active > m.maxActive[task.Owner] {
		m.maxActive[task.Owner] = active
	}
	return nil
}

func (m *memTasks) Requeue(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.NewNotFoundError("task", id.String())
	}
	if t.Status.IsTerminal() {
		return domain.NewTransitionError(t.Status, domain.TaskStatusPending)
	}
	t.Status = domain.TaskStatusPending
	t.Percent = 0
	t.Message = message
	t.Error = ""
	t.StartedAt = nil
	return nil
}

func (m *memTasks) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return domain.NewNotFoundError("task", id.String())
	}
	delete(m.tasks, id)
	return nil
}

func (m *memTasks) ListByOwner(_ context.Context, owner string, limit int) ([]*domain.Task, error) {
	out := m.filter(func(t *domain.Task) bool { return t.Owner == owner })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTasks) ListNonTerminal(context.Context) ([]*domain.Task, error) {
	return m.filter(func(t *domain.Task) bool { return !t.Status.IsTerminal() }), nil
}

func (m *memTasks) CountNonTerminal(ctx context.Context) (int, error) {
	live, _ := m.ListNonTerminal(ctx)
	return len(live), nil
}

func (m *memTasks) FindActiveByExternalID(_ context.Context, v string) (*domain.Task, error) {
	return m.findActive(func(t *domain.Task) bool { return t.ExternalID == v })
}

func (m *memTasks) FindActiveByNormalizedTitle(_ context.Context, v string) (*domain.Task, error) {
	return m.findActive(func(t *domain.Task) bool { return t.NormalizedTitle == v })
}

func (m *memTasks) FindActiveByFilename(_ context.Context, v string) (*domain.Task, error) {
	return m.findActive(func(t *domain.Task) bool { return t.Filename == v })
}

func (m *memTasks) DeleteTerminalBefore(_ context.Context, before time.Time) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for id, t := range m.tasks {
		if t.Status.IsTerminal() && t.UpdatedAt.Before(before) {
			cp := *t
			out = append(out, &cp)
			delete(m.tasks, id)
		}
	}
	return out, nil
}

func (m *memTasks) findActive(match func(*domain.Task) bool) (*domain.Task, error) {
	live := m.filter(func(t *domain.Task) bool { return !t.Status.IsTerminal() && match(t) })
	if len(live) == 0 {
		return nil, domain.NewNotFoundError("task", "")
	}
	return live[0], nil
}

// filter returns copies of matching tasks, oldest first.
func (m *memTasks) filter(match func(*domain.Task) bool) []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Task, 0)
	for _, t := range m.tasks {
		if match(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memTasks) status(t *testing.T, id uuid.UUID) *domain.Task {
	t.Helper()
	task, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (m *memTasks) maxActiveFor(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive[owner]
}

// submission is one job handed to the manual pipeline. The test sends events
// on Events; the worker sees them until ctx is cancelled.
type submission struct {
	Job    pipeline.Job
	Events chan<- pipeline.Event
	Ctx    context.Context
}

// manualPipeline hands every submission to the test.
type manualPipeline struct {
	subs chan submission
	err  error
}

func newManualPipeline() *manualPipeline {
	return &manualPipeline{subs: make(chan submission, 32)}
}

func (p *manualPipeline) Submit(ctx context.Context, job pipeline.Job) (<-chan pipeline.Event, error) {
	if p.err != nil {
		return nil, p.err
	}
	in := make(chan pipeline.Event, 16)
	out := make(chan pipeline.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Terminal {
					return
				}
			}
		}
	}()
	p.subs <- submission{Job: job, Events: in, Ctx: ctx}
	return out, nil
}

func (p *manualPipeline) next(t *testing.T) submission {
	t.Helper()
	select {
	case s := <-p.subs:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no job submitted to pipeline")
		return submission{}
	}
}

func (p *manualPipeline) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-p.subs:
		t.Fatalf("unexpected submission for task %s", s.Job.TaskID)
	case <-time.After(100 * time.Millisecond):
	}
}

// scriptedPipeline plays the same events for every job.
type scriptedPipeline struct {
	mu     sync.Mutex
	jobs   []pipeline.Job
	events []pipeline.Event
}

func (p *scriptedPipeline) Submit(_ context.Context, job pipeline.Job) (<-chan pipeline.Event, error) {
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
	ch := make(chan pipeline.Event, len(p.events))
	for _, ev := range p.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedPipeline) submitted() []pipeline.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pipeline.Job(nil), p.jobs...)
}

func fullRun() []pipeline.Event {
	return []pipeline.Event{
		pipeline.Progress(domain.TaskStatusParsing, 20, "Parsing"),
		pipeline.Progress(domain.TaskStatusRewriting, 50, "Rewriting"),
		pipeline.Progress(domain.TaskStatusRendering, 80, "Rendering"),
		pipeline.Completed("Done"),
	}
}

// fakeDownloader writes a small PDF into the store or fails.
type fakeDownloader struct {
	store *artifacts.Store
	err   error
	mu    sync.Mutex
	urls  []string
}

func (d *fakeDownloader) Download(_ context.Context, taskID uuid.UUID, rawURL string) (*artifacts.Artifact, error) {
	d.mu.Lock()
	d.urls = append(d.urls, rawURL)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.store.Save(taskID, strings.NewReader("%PDF-1.7 discovered"), 0)
}

type recordingKnowledge struct {
	mu      sync.Mutex
	records []*domain.KnowledgeRecord
}

func (k *recordingKnowledge) Upsert(_ context.Context, rec *domain.KnowledgeRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.records = append(k.records, rec)
	return nil
}

func (k *recordingKnowledge) FindByExternalID(_ context.Context, v string) (*domain.KnowledgeRecord, error) {
	return k.find(func(r *domain.KnowledgeRecord) bool { return r.ExternalID == v })
}

func (k *recordingKnowledge) FindByNormalizedTitle(_ context.Context, v string) (*domain.KnowledgeRecord, error) {
	return k.find(func(r *domain.KnowledgeRecord) bool { return r.NormalizedTitle == v })
}

func (k *recordingKnowledge) find(match func(*domain.KnowledgeRecord) bool) (*domain.KnowledgeRecord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, r := range k.records {
		if match(r) {
			return r, nil
		}
	}
	return nil, domain.NewNotFoundError("knowledge_record", "")
}

func (k *recordingKnowledge) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.records)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []domain.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventKind, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

type recordingIdentities struct {
	mu  sync.Mutex
	ids []dedup.Identity
}

func (r *recordingIdentities) Remember(id dedup.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

// harness wires a Queue to fakes and a temp artifact store.
type harness struct {
	q          *Queue
	tasks      *memTasks
	store      *artifacts.Store
	knowledge  *recordingKnowledge
	notifier   *recordingNotifier
	identities *recordingIdentities
	downloader *fakeDownloader
}

func newHarness(t *testing.T, limit int, p pipeline.Pipeline) *harness {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		tasks:      newMemTasks(),
		store:      store,
		knowledge:  &recordingKnowledge{},
		notifier:   &recordingNotifier{},
		identities: &recordingIdentities{},
		downloader: &fakeDownloader{store: store},
	}
	h.q, err = New(Config{PerOwnerLimit: limit, DefaultMode: "translate"}, Deps{
		Tasks:      h.tasks,
		Pipeline:   p,
		Store:      store,
		Downloader: h.downloader,
		Knowledge:  h.knowledge,
		Notifier:   h.notifier,
		Identities: h.identities,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.q.Shutdown(ctx)
	})
	return h
}

func (h *harness) upload(t *testing.T, owner, name string) *domain.Task {
	t.Helper()
	task, err := h.q.Upload(context.Background(), UploadRequest{
		Owner:    owner,
		Filename: name,
		Body:     strings.NewReader("%PDF-1.4 " + name),
	})
	require.NoError(t, err)
	return task
}

func (h *harness) waitStatus(t *testing.T, id uuid.UUID, want domain.TaskStatus) *domain.Task {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.tasks.status(t, id).Status == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return h.tasks.status(t, id)
}

func discovered(externalID string) *domain.Task {
	return domain.NewDiscoveryTask("radar", "translate", false, domain.ScoredCandidate{
		Candidate: domain.Candidate{
			ExternalID: externalID,
			Title:      "Paper " + externalID,
			Source:     domain.SourceTypeArXiv,
			PDFURL:     "https://arxiv.org/pdf/" + externalID,
		},
		Score: 0.95,
	})
}
