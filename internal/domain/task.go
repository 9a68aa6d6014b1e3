package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle states of a processing task.
// These values must match the database enum task_status.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusProcessing   TaskStatus = "processing"
	TaskStatusParsing      TaskStatus = "parsing"
	TaskStatusRewriting    TaskStatus = "rewriting"
	TaskStatusRendering    TaskStatus = "rendering"
	TaskStatusHighlighting TaskStatus = "highlighting"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusFailed       TaskStatus = "failed"
)

// taskStageOrder is the fixed order of non-terminal stages.
var taskStageOrder = map[TaskStatus]int{
	TaskStatusPending:      0,
	TaskStatusProcessing:   1,
	TaskStatusParsing:      2,
	TaskStatusRewriting:    3,
	TaskStatusRendering:    4,
	TaskStatusHighlighting: 5,
}

// IsTerminal returns true if the status represents a final state that will not change.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsValid returns true if s is a known status.
func (s TaskStatus) IsValid() bool {
	_, ok := taskStageOrder[s]
	return ok || s.IsTerminal()
}

// IsPipelineStage returns true for the stages reported by the document pipeline.
func (s TaskStatus) IsPipelineStage() bool {
	switch s {
	case TaskStatusParsing, TaskStatusRewriting, TaskStatusRendering, TaskStatusHighlighting:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
// Non-terminal stages only move forward. Failed is reachable from any non-terminal
// state; completed is reachable once the task has left pending. Terminal states
// never change.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	switch next {
	case TaskStatusFailed:
		return true
	case TaskStatusCompleted:
		return s != TaskStatusPending
	}
	return taskStageOrder[next] > taskStageOrder[s]
}

// NonTerminalTaskStatuses lists every status a live task may hold.
func NonTerminalTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusPending,
		TaskStatusProcessing,
		TaskStatusParsing,
		TaskStatusRewriting,
		TaskStatusRendering,
		TaskStatusHighlighting,
	}
}

// TaskOrigin records how a task entered the queue.
type TaskOrigin string

const (
	TaskOriginUpload    TaskOrigin = "upload"
	TaskOriginDiscovery TaskOrigin = "discovery"
)

// Failure reason codes recorded on failed tasks.
const (
	ReasonCancelled      = "cancelled"
	ReasonInputMissing   = "input_missing"
	ReasonInterrupted    = "interrupted"
	ReasonDownloadFailed = "download_failed"
	ReasonSubmitFailed   = "submit_failed"
	ReasonPipelineError  = "pipeline_error"
	ReasonPipelineLost   = "pipeline_lost"
)

// Task is a document processing job owned by the admission queue.
type Task struct {
	ID              uuid.UUID
	Owner           string
	Origin          TaskOrigin
	Filename        string
	Mode            string
	Highlight       bool
	ExternalID      string
	Title           string
	NormalizedTitle string
	Source          SourceType
	PDFURL          string
	InputPath       string
	InputHash       string
	Score           float64
	Status          TaskStatus
	Percent         int
	Message         string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// NewUploadTask creates a pending task for a user-uploaded document.
func NewUploadTask(owner, filename, mode string, highlight bool) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:              uuid.New(),
		Owner:           owner,
		Origin:          TaskOriginUpload,
		Filename:        filename,
		Mode:            mode,
		Highlight:       highlight,
		Title:           filename,
		NormalizedTitle: NormalizeTitle(trimPDFExt(filename)),
		Status:          TaskStatusPending,
		Message:         "Task queued",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewDiscoveryTask creates a pending task for an admitted candidate.
func NewDiscoveryTask(owner, mode string, highlight bool, sc ScoredCandidate) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:              uuid.New(),
		Owner:           owner,
		Origin:          TaskOriginDiscovery,
		Filename:        DeriveFilename(sc.Title),
		Mode:            mode,
		Highlight:       highlight,
		ExternalID:      sc.ExternalID,
		Title:           sc.Title,
		NormalizedTitle: sc.NormalizedTitle(),
		Source:          sc.Source,
		PDFURL:          sc.PDFURL,
		Score:           sc.Score,
		Status:          TaskStatusPending,
		Message:         "Task queued",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func trimPDFExt(name string) string {
	if n := len(name); n > 4 && (name[n-4:] == ".pdf" || name[n-4:] == ".PDF") {
		return name[:n-4]
	}
	return name
}
