package models

import "time"

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status closes a run.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// IngestionRun is one execution of the pipeline against one source.
type IngestionRun struct {
	ID             int64         `json:"id"`
	SourceSite     string        `json:"source_site"`
	Status         RunStatus     `json:"status"`
	TotalFound     int           `json:"total_found"`
	NewItems       int           `json:"new_items"`
	UpdatedItems   int           `json:"updated_items"`
	DiscardedItems int           `json:"discarded_items"`
	ErrorCount     int           `json:"error_count"`
	PagesFetched   int           `json:"pages_fetched"`
	ErrorMessage   *string       `json:"error_message,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	ExecutionTime  time.Duration `json:"execution_time"`
}

// RunCounters is a point-in-time view of a run's aggregate counters.
type RunCounters struct {
	TotalFound     int
	NewItems       int
	UpdatedItems   int
	DiscardedItems int
	ErrorCount     int
	PagesFetched   int
}
