package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// fakeService is a scripted pipeline service. Each GET returns the next
// status in the script; the last one repeats.
type fakeService struct {
	mu        sync.Mutex
	script    []jobStatus
	polls     int
	submitted Job
	auth      string
	deleted   chan string
	submitErr int
}

func newFakeService(script ...jobStatus) *fakeService {
	return &fakeService{script: script, deleted: make(chan string, 1)}
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = r.Header.Get("Authorization")
		if f.submitErr != 0 {
			http.Error(w, "pipeline busy", f.submitErr)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&f.submitted)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(submitResponse{ID: "job-1"})
	})
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.script) == 0 {
			http.NotFound(w, r)
			return
		}
		i := min(f.polls, len(f.script)-1)
		f.polls++
		_ = json.NewEncoder(w).Encode(f.script[i])
	})
	mux.HandleFunc("DELETE /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.deleted <- r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestPipeline(t *testing.T, svc *fakeService, apiKey string) *HTTPPipeline {
	t.Helper()
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	p, err := NewHTTPPipeline(HTTPConfig{
		BaseURL:      server.URL,
		APIKey:       apiKey,
		PollInterval: 5 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event channel was not closed")
			return nil
		}
	}
}

func TestNewHTTPPipeline_Validation(t *testing.T) {
	_, err := NewHTTPPipeline(HTTPConfig{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewHTTPPipeline(HTTPConfig{BaseURL: "not a url"}, zerolog.Nop())
	assert.Error(t, err)

	p, err := NewHTTPPipeline(HTTPConfig{BaseURL: "http://pipeline:8000/"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "http://pipeline:8000", p.baseURL)
	assert.Equal(t, DefaultPollInterval, p.pollInterval)
	assert.Equal(t, DefaultTimeout, p.client.Timeout)
}

func TestSubmit_StagesInOrder(t *testing.T) {
	svc := newFakeService(
		jobStatus{ID: "job-1", State: jobStateQueued},
		jobStatus{ID: "job-1", State: jobStateRunning, Stage: "parsing", Percent: 10, Message: "Parsing PDF"},
		jobStatus{ID: "job-1", State: jobStateRunning, Stage: "parsing", Percent: 10, Message: "Parsing PDF"},
		jobStatus{ID: "job-1", State: jobStateRunning, Stage: "rewriting", Percent: 40, Message: "Rewriting"},
		jobStatus{ID: "job-1", State: jobStateRunning, Stage: "rendering", Percent: 80, Message: "Rendering"},
		jobStatus{ID: "job-1", State: jobStateCompleted, Percent: 100, Message: "done"},
	)
	p := newTestPipeline(t, svc, "secret")

	job := Job{TaskID: uuid.New(), Mode: "translate", InputPath: "/data/in.pdf", Filename: "in.pdf"}
	events, err := p.Submit(context.Background(), job)
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, domain.TaskStatusParsing, got[0].Stage)
	assert.Equal(t, 10, got[0].Percent)
	assert.Equal(t, domain.TaskStatusRewriting, got[1].Stage)
	assert.Equal(t, domain.TaskStatusRendering, got[2].Stage)
	assert.True(t, got[3].Terminal)
	assert.Equal(t, domain.TaskStatusCompleted, got[3].Status)
	assert.Equal(t, 100, got[3].Percent)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, job.TaskID, svc.submitted.TaskID)
	assert.Equal(t, "translate", svc.submitted.Mode)
	assert.Equal(t, "Bearer secret", svc.auth)
}

func TestSubmit_Failed(t *testing.T) {
	svc := newFakeService(
		jobStatus{ID: "job-1", State: jobStateRunning, Stage: "parsing", Percent: 5},
		jobStatus{ID: "job-1", State: jobStateFailed, Error: "unreadable PDF"},
	)
	p := newTestPipeline(t, svc, "")

	events, err := p.Submit(context.Background(), Job{TaskID: uuid.New()})
	require.NoError(t, err)

	got := collect(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.True(t, last.Terminal)
	assert.Equal(t, domain.TaskStatusFailed, last.Status)
	assert.Equal(t, "unreadable PDF", last.Reason)
}

func TestSubmit_FailedWithoutReason(t *testing.T) {
	svc := newFakeService(jobStatus{ID: "job-1", State: jobStateCancelled})
	p := newTestPipeline(t, svc, "")

	events, err := p.Submit(context.Background(), Job{TaskID: uuid.New()})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ReasonPipelineError, got[0].Reason)
}

func TestSubmit_JobLost(t *testing.T) {
	svc := newFakeService()
	p := newTestPipeline(t, svc, "")

	events, err := p.Submit(context.Background(), Job{TaskID: uuid.New()})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TaskStatusFailed, got[0].Status)
	assert.Equal(t, domain.ReasonPipelineLost, got[0].Reason)
}

func TestSubmit_ResumeKeepsStageUntilReported(t *testing.T) {
	svc := newFakeService(
		jobStatus{ID: "job-1", State: jobStateRunning, Percent: 55, Message: "resuming"},
		jobStatus{ID: "job-1", State: jobStateCompleted},
	)
	p := newTestPipeline(t, svc, "")

	events, err := p.Submit(context.Background(), Job{TaskID: uuid.New(), ResumeFrom: domain.TaskStatusRewriting})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, domain.TaskStatusRewriting, got[0].Stage)
	assert.Equal(t, 55, got[0].Percent)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, domain.TaskStatusRewriting, svc.submitted.ResumeFrom)
}

func TestSubmit_Rejected(t *testing.T) {
	svc := newFakeService()
	svc.submitErr = http.StatusServiceUnavailable
	p := newTestPipeline(t, svc, "")

	events, err := p.Submit(context.Background(), Job{TaskID: uuid.New()})
	require.Error(t, err)
	assert.Nil(t, events)

	var apiErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "pipeline busy")
}

func TestSubmit_CancelDeletesJob(t *testing.T) {
	svc := newFakeService(jobStatus{ID: "job-1", State: jobStateRunning, Stage: "parsing", Percent: 1})
	p := newTestPipeline(t, svc, "")

	ctx, cancel := context.WithCancel(context.Background())
	events, err := p.Submit(ctx, Job{TaskID: uuid.New()})
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, domain.TaskStatusParsing, first.Stage)
	cancel()

	for ev := range events {
		assert.False(t, ev.Terminal, "cancelled jobs emit no terminal event")
	}

	select {
	case id := <-svc.deleted:
		assert.Equal(t, "job-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not cancelled on the pipeline")
	}
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0, Progress(domain.TaskStatusParsing, -3, "").Percent)
	assert.Equal(t, 100, Progress(domain.TaskStatusParsing, 140, "").Percent)
	assert.Equal(t, 42, Progress(domain.TaskStatusParsing, 42, "").Percent)
}
