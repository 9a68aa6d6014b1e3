package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a notification event.
type EventKind string

const (
	EventPapersDiscovered EventKind = "papers_discovered"
	EventTaskCompleted    EventKind = "task_completed"
	EventTaskFailed       EventKind = "task_failed"
)

// maxEventPapers caps the papers listed in a discovery event.
const maxEventPapers = 10

// PaperSummary is the per-paper payload of a discovery event.
type PaperSummary struct {
	Title      string     `json:"title"`
	Authors    []string   `json:"authors,omitempty"`
	Score      float64    `json:"score"`
	Source     SourceType `json:"source"`
	PDFURL     string     `json:"pdf_url,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
}

// TaskSummary is the payload of a task event.
type TaskSummary struct {
	TaskID   string     `json:"task_id"`
	Owner    string     `json:"owner"`
	Filename string     `json:"filename"`
	Title    string     `json:"title,omitempty"`
	Status   TaskStatus `json:"status"`
	Error    string     `json:"error,omitempty"`
}

// Event is a notification emitted on discovery and task completion.
type Event struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"event"`
	OccurredAt time.Time      `json:"occurred_at"`
	Count      int            `json:"count,omitempty"`
	Papers     []PaperSummary `json:"papers,omitempty"`
	Task       *TaskSummary   `json:"task,omitempty"`
}

// NewPapersDiscoveredEvent builds a discovery event. Count is the full number of
// admitted papers while Papers is capped.
func NewPapersDiscoveredEvent(admitted []ScoredCandidate) Event {
	papers := make([]PaperSummary, 0, min(len(admitted), maxEventPapers))
	for i, sc := range admitted {
		if i == maxEventPapers {
			break
		}
		authors := sc.Authors
		if len(authors) > 3 {
			authors = authors[:3]
		}
		papers = append(papers, PaperSummary{
			Title:      sc.Title,
			Authors:    authors,
			Score:      sc.Score,
			Source:     sc.Source,
			PDFURL:     sc.PDFURL,
			ExternalID: sc.ExternalID,
		})
	}
	return Event{
		ID:         uuid.New().String(),
		Kind:       EventPapersDiscovered,
		OccurredAt: time.Now().UTC(),
		Count:      len(admitted),
		Papers:     papers,
	}
}

// NewTaskEvent builds a task_completed or task_failed event.
func NewTaskEvent(task *Task) Event {
	kind := EventTaskCompleted
	if task.Status == TaskStatusFailed {
		kind = EventTaskFailed
	}
	return Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Count:      1,
		Task: &TaskSummary{
			TaskID:   task.ID.String(),
			Owner:    task.Owner,
			Filename: task.Filename,
			Title:    task.Title,
			Status:   task.Status,
			Error:    task.Error,
		},
	}
}
