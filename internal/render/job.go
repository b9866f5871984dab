// Package render manages asynchronous render jobs.
package render

import (
	"errors"
	"fmt"
	"time"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
	StatusCancelled  Status = "CANCELLED"
	StatusTimeout    Status = "TIMEOUT"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// Progress milestones.
const (
	ProgressStarted  = 10
	ProgressBundled  = 30
	ProgressSelected = 50
	ProgressDone     = 100
)

// UnknownErrorMessage is recorded when a failure carries no detail.
const UnknownErrorMessage = "unknown error"

var (
	ErrNotFound = errors.New("job not found")
	ErrExists   = errors.New("job already exists")

	// ErrTerminal is returned when updating a job that already finished.
	ErrTerminal = errors.New("job already finished")

	// ErrStalled is the cancellation cause for renders that stop reporting progress.
	ErrStalled = errors.New("render stalled")

	// ErrCancelled is the cancellation cause for explicit cancels.
	ErrCancelled = errors.New("render cancelled")
)

// ValidationError reports a rejected submit request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Job is one render request and its lifecycle state.
type Job struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	Format     string     `json:"format"`
	OutputPath string     `json:"-"`
	URL        string     `json:"url,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// finish moves the job into a terminal state.
func (j *Job) finish(status Status, now time.Time) {
	j.Status = status
	j.FinishedAt = &now
}

// checkTransition enforces terminal immutability and monotonic progress
// between the stored record before and after an update.
func checkTransition(before, after *Job) error {
	if before.Status.Terminal() {
		return ErrTerminal
	}
	if after.ID != before.ID {
		return fmt.Errorf("job id changed from %s to %s", before.ID, after.ID)
	}
	if after.Progress < before.Progress {
		after.Progress = before.Progress
	}
	if after.Progress > ProgressDone {
		after.Progress = ProgressDone
	}
	if after.Status.Terminal() && after.FinishedAt == nil {
		now := after.UpdatedAt
		after.FinishedAt = &now
	}
	return nil
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
