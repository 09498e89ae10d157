package job

import (
	"time"
)

// Status is one state of the job lifecycle.
type Status string

const (
	StatusPending     Status = "pending"
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"

	// StatusPaused is reachable but never produced by the engine itself;
	// it is reserved for callers that park a job outside the pool.
	StatusPaused Status = "paused"
)

// transitions is the allowed edge set of the status machine. Terminal
// states re-enter only through pending via an explicit retry.
var transitions = map[Status][]Status{
	StatusPending:     {StatusQueued, StatusCancelled},
	StatusQueued:      {StatusDownloading, StatusCancelled},
	StatusDownloading: {StatusCompleted, StatusFailed, StatusCancelled, StatusPaused},
	StatusPaused:      {StatusQueued, StatusCancelled},
	StatusFailed:      {StatusPending},
	StatusCancelled:   {StatusPending},
	StatusCompleted:   {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is one requested download: immutable configuration plus run state.
// The run state is owned exclusively by the scheduler while the job is
// active.
type Job struct {
	ID     string `json:"id"`
	Config Config `json:"config"`

	Status     Status  `json:"status"`
	Progress   float64 `json:"progress"`
	Speed      float64 `json:"speed,omitempty"`
	Error      string  `json:"error,omitempty"`
	RetryCount int     `json:"retry_count"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// CanRetry returns true if the job may be re-admitted by an explicit retry
func (j *Job) CanRetry() bool {
	if j.Status != StatusFailed && j.Status != StatusCancelled {
		return false
	}
	return j.RetryCount < j.Config.MaxRetries
}

// ResetForRetry clears the run state for a fresh run. The caller is
// responsible for checking CanRetry first.
func (j *Job) ResetForRetry() {
	j.Status = StatusPending
	j.Progress = 0
	j.Speed = 0
	j.Error = ""
	j.RetryCount++
	j.StartedAt = nil
	j.CompletedAt = nil
	j.UpdatedAt = time.Now()
}
