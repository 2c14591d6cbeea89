package core

import (
	"time"

	"github.com/JonMunkholm/colextract/internal/history"
	"github.com/JonMunkholm/colextract/internal/rowfilter"
)

// ProjectInfo describes a loaded project.
type ProjectInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Rows      int       `json:"rows"`
	Columns   []string  `json:"columns"`
	Head      int       `json:"head"`
	ActiveJob string    `json:"active_job,omitempty"`
}

// TablePage is a window of a project's rows.
type TablePage struct {
	ProjectID string     `json:"project_id"`
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	Offset    int        `json:"offset"`
	Total     int        `json:"total"`
}

// ExtractionRequest starts an extraction job on a project.
type ExtractionRequest struct {
	Column   string                   `json:"column"`
	Services []string                 `json:"services"`
	Filters  []rowfilter.ColumnFilter `json:"filters,omitempty"`
}

// JobPhase indicates the current stage of an extraction job.
type JobPhase string

const (
	PhaseRunning   JobPhase = "running"
	PhaseComplete  JobPhase = "complete"
	PhaseFailed    JobPhase = "failed"
	PhaseCancelled JobPhase = "cancelled"
)

// Done reports whether the phase is terminal.
func (p JobPhase) Done() bool {
	return p != PhaseRunning
}

// JobProgress is a snapshot of a job. Seq increases with every update, so
// stream consumers can resume after the last sequence they saw.
type JobProgress struct {
	Seq       int       `json:"seq"`
	JobID     string    `json:"job_id"`
	ProjectID string    `json:"project_id"`
	Column    string    `json:"column"`
	Services  []string  `json:"services"`
	Phase     JobPhase  `json:"phase"`
	Percent   int       `json:"percent"`
	Failures  int       `json:"failures"` // Failed service calls so far
	Error     string    `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
	StartedAt time.Time `json:"started_at"`
}

// JobResult is the outcome of a finished job.
type JobResult struct {
	JobID     string         `json:"job_id"`
	ProjectID string         `json:"project_id"`
	Phase     JobPhase       `json:"phase"`
	Entry     *history.Entry `json:"entry,omitempty"` // Set if Phase is PhaseComplete
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// HistoryInfo lists a project's history entries and the current head.
type HistoryInfo struct {
	ProjectID string          `json:"project_id"`
	Head      int             `json:"head"`
	Entries   []history.Entry `json:"entries"`
}
