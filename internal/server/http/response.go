package httpserver

import (
	"time"

	"github.com/helixir/paper-radar-service/internal/domain"
)

type taskResponse struct {
	TaskID      string     `json:"task_id"`
	Owner       string     `json:"owner"`
	Origin      string     `json:"origin"`
	Filename    string     `json:"filename"`
	Title       string     `json:"title,omitempty"`
	Mode        string     `json:"mode"`
	Highlight   bool       `json:"highlight"`
	Source      string     `json:"source,omitempty"`
	ExternalID  string     `json:"external_id,omitempty"`
	Score       float64    `json:"score,omitempty"`
	Status      string     `json:"status"`
	Percent     int        `json:"percent"`
	Message     string     `json:"message"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type listTasksResponse struct {
	Tasks []taskResponse `json:"tasks"`
	Count int            `json:"count"`
}

type scanResponse struct {
	Status string `json:"status"`
}

func domainTaskToResponse(t *domain.Task) taskResponse {
	return taskResponse{
		TaskID:      t.ID.String(),
		Owner:       t.Owner,
		Origin:      string(t.Origin),
		Filename:    t.Filename,
		Title:       t.Title,
		Mode:        t.Mode,
		Highlight:   t.Highlight,
		Source:      string(t.Source),
		ExternalID:  t.ExternalID,
		Score:       t.Score,
		Status:      string(t.Status),
		Percent:     t.Percent,
		Message:     t.Message,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}
