package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/domain"
)

const (
	// DefaultPollInterval is the job status poll period.
	DefaultPollInterval = 2 * time.Second

	// DefaultTimeout bounds a single pipeline request.
	DefaultTimeout = 30 * time.Second

	// maxPollFailures is the number of consecutive failed polls after which a
	// job is considered lost.
	maxPollFailures = 5

	cancelTimeout = 10 * time.Second
	maxErrorBody  = 4096
)

// Remote job states.
const (
	jobStateQueued    = "queued"
	jobStateRunning   = "running"
	jobStateCompleted = "completed"
	jobStateFailed    = "failed"
	jobStateCancelled = "cancelled"
)

// HTTPConfig configures the HTTP pipeline client.
type HTTPConfig struct {
	// BaseURL is the pipeline service root, e.g. http://pipeline:8000.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// PollInterval is how often job status is fetched. Defaults to 2s.
	PollInterval time.Duration

	// Timeout bounds a single request. Defaults to 30s.
	Timeout time.Duration
}

// HTTPPipeline talks to the pipeline service's REST API:
//
//	POST   {base}/jobs       submit, returns {"id": "..."}
//	GET    {base}/jobs/{id}  status
//	DELETE {base}/jobs/{id}  cancel
type HTTPPipeline struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	client       *http.Client
	logger       zerolog.Logger
}

// NewHTTPPipeline creates an HTTP pipeline client.
func NewHTTPPipeline(cfg HTTPConfig, logger zerolog.Logger) (*HTTPPipeline, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pipeline base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid pipeline base URL: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &HTTPPipeline{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		client:       &http.Client{Timeout: cfg.Timeout},
		logger:       logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

type submitResponse struct {
	ID string `json:"id"`
}

// jobStatus is the body of GET /jobs/{id}.
type jobStatus struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Submit posts the job and starts polling its status in the background.
func (p *HTTPPipeline) Submit(ctx context.Context, job Job) (<-chan Event, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	req, err := p.newRequest(ctx, http.MethodPost, "/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return nil, statusError(resp)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	if sr.ID == "" {
		return nil, fmt.Errorf("submit job: pipeline returned no job id")
	}

	events := make(chan Event, 4)
	go p.poll(ctx, sr.ID, job, events)
	return events, nil
}

func (p *HTTPPipeline) poll(ctx context.Context, jobID string, job Job, events chan<- Event) {
	defer close(events)

	logger := p.logger.With().
		Str("task_id", job.TaskID.String()).
		Str("job_id", jobID).
		Logger()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var (
		last     jobStatus
		stage    = job.ResumeFrom
		failures int
	)

	for {
		select {
		case <-ctx.Done():
			p.cancel(jobID, logger)
			return
		case <-ticker.C:
		}

		st, err := p.status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				p.cancel(jobID, logger)
				return
			}
			var apiErr *domain.ExternalAPIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				send(ctx, events, Failed(domain.ReasonPipelineLost))
				return
			}
			failures++
			logger.Warn().Err(err).Int("failures", failures).Msg("pipeline status poll failed")
			if failures >= maxPollFailures {
				send(ctx, events, Failed(domain.ReasonPipelineLost))
				return
			}
			continue
		}
		failures = 0

		switch st.State {
		case jobStateCompleted:
			send(ctx, events, Completed(st.Message))
			return
		case jobStateFailed, jobStateCancelled:
			reason := st.Error
			if reason == "" {
				reason = domain.ReasonPipelineError
			}
			send(ctx, events, Failed(reason))
			return
		}

		if s := domain.TaskStatus(st.Stage); s.IsPipelineStage() {
			stage = s
		}
		if st.Stage == last.Stage && st.Percent == last.Percent && st.Message == last.Message {
			continue
		}
		last = *st
		if stage == "" {
			continue
		}
		if !send(ctx, events, Progress(stage, st.Percent, st.Message)) {
			p.cancel(jobID, logger)
			return
		}
	}
}

func (p *HTTPPipeline) status(ctx context.Context, jobID string) (*jobStatus, error) {
	req, err := p.newRequest(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var st jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	switch st.State {
	case jobStateQueued, jobStateRunning, jobStateCompleted, jobStateFailed, jobStateCancelled:
	default:
		return nil, fmt.Errorf("unknown job state %q", st.State)
	}
	return &st, nil
}

// cancel asks the pipeline to stop a job. The caller's context is already
// done, so the request runs on its own deadline.
func (p *HTTPPipeline) cancel(jobID string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	req, err := p.newRequest(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to cancel pipeline job")
		return
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		logger.Warn().Int("status", resp.StatusCode).Msg("pipeline rejected job cancellation")
		return
	}
	logger.Debug().Msg("pipeline job cancelled")
}

func (p *HTTPPipeline) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create pipeline request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return domain.NewExternalAPIError("pipeline", resp.StatusCode, strings.TrimSpace(string(msg)), nil)
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
