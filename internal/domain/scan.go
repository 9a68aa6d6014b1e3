package domain

import "time"

// ScanRecord is the persisted part of the scan state.
type ScanRecord struct {
	LastScanAt *time.Time
	NextScanAt *time.Time
	ScanCount  int64
	FoundCount int64
	Running    bool
	UpdatedAt  time.Time
}

// SourceReport describes one source's contribution to the last scan.
type SourceReport struct {
	Source     SourceType `json:"source"`
	Found      int        `json:"found"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// Degraded reports whether the source failed during the scan.
func (r SourceReport) Degraded() bool {
	return r.Error != ""
}

// Discovery is an admitted candidate kept for status reporting.
type Discovery struct {
	TaskID       string     `json:"task_id"`
	ExternalID   string     `json:"external_id"`
	Title        string     `json:"title"`
	Source       SourceType `json:"source"`
	Score        float64    `json:"score"`
	Rule         ScoreRule  `json:"rule"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

// ScanSummary is the outcome of a single scan.
type ScanSummary struct {
	ScanID       string         `json:"scan_id"`
	Trigger      string         `json:"trigger"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Found        int            `json:"found"`
	Scored       int            `json:"scored"`
	Admitted     int            `json:"admitted"`
	Backpressure bool           `json:"backpressure"`
	Sources      []SourceReport `json:"sources"`
}
