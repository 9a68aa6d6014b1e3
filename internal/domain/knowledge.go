package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionStatus tracks knowledge extraction for a knowledge base record.
type ExtractionStatus string

const (
	ExtractionStatusPending    ExtractionStatus = "pending"
	ExtractionStatusExtracting ExtractionStatus = "extracting"
	ExtractionStatusCompleted  ExtractionStatus = "completed"
	ExtractionStatusFailed     ExtractionStatus = "failed"
)

// KnowledgeRecord is a paper persisted in the knowledge base.
type KnowledgeRecord struct {
	ID               uuid.UUID
	TaskID           *uuid.UUID
	Owner            string
	ExternalID       string
	Title            string
	NormalizedTitle  string
	Source           SourceType
	ExtractionStatus ExtractionStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewKnowledgeRecord builds the knowledge base entry for a finished task. A
// failed task is recorded with a failed extraction status so later scans
// still see the paper as known.
func NewKnowledgeRecord(task *Task) *KnowledgeRecord {
	now := time.Now().UTC()
	taskID := task.ID
	status := ExtractionStatusPending
	if task.Status == TaskStatusFailed {
		status = ExtractionStatusFailed
	}
	return &KnowledgeRecord{
		ID:               uuid.New(),
		TaskID:           &taskID,
		Owner:            task.Owner,
		ExternalID:       task.ExternalID,
		Title:            task.Title,
		NormalizedTitle:  task.NormalizedTitle,
		Source:           task.Source,
		ExtractionStatus: status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
