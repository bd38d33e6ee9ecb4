package job

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/crategate/crategate/internal/crate"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// predecessors lists, for each target status, the statuses a job may leave
// to reach it.
var predecessors = map[Status][]Status{
	StatusRunning:   {StatusScheduled},
	StatusCompleted: {StatusRunning},
	StatusFailed:    {StatusScheduled, StatusRunning},
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to Status) bool {
	return slices.Contains(predecessors[to], from)
}

// Kind is the operation a job runs.
type Kind string

const (
	KindExport   Kind = "export"
	KindValidate Kind = "validate"
)

// Error describes one failure of a FAILED job.
type Error struct {
	Identifier string `json:"identifier,omitempty"`
	Message    string `json:"message"`
}

type Job struct {
	ID               string        `json:"jobId"`
	Kind             Kind          `json:"-"`
	Status           Status        `json:"status"`
	DownloadURL      string        `json:"downloadUrl,omitempty"`
	ValidationResult *crate.Report `json:"validationResult,omitempty"`
	Errors           []Error       `json:"errors,omitempty"`
	// Payload is the encoded request a worker replays.
	Payload     []byte     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// New returns a SCHEDULED job with a fresh id.
func New(kind Kind, payload []byte) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusScheduled,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Result is what a transition writes alongside the new status.
type Result struct {
	DownloadURL      string
	ValidationResult *crate.Report
	Errors           []Error
}

// Validated is the result of a finished validate job.
func Validated(r *crate.Report) Result {
	return Result{ValidationResult: r}
}

// Exported is the result of a finished export job.
func Exported(downloadURL string) Result {
	return Result{DownloadURL: downloadURL}
}

// Failed is the result of a failed job.
func Failed(errs ...Error) Result {
	return Result{Errors: errs}
}

// check enforces the result shape for the target status: COMPLETED carries
// exactly one of downloadUrl and validationResult, FAILED carries at least
// one error, RUNNING carries nothing.
func (r Result) check(to Status) error {
	hasResult := r.DownloadURL != "" || r.ValidationResult != nil
	switch to {
	case StatusRunning:
		if hasResult || len(r.Errors) > 0 {
			return errors.New("a running job has no result")
		}
	case StatusCompleted:
		if (r.DownloadURL != "") == (r.ValidationResult != nil) {
			return errors.New("a completed job has exactly one of downloadUrl and validationResult")
		}
		if len(r.Errors) > 0 {
			return errors.New("a completed job has no errors")
		}
	case StatusFailed:
		if len(r.Errors) == 0 {
			return errors.New("a failed job has at least one error")
		}
		if hasResult {
			return errors.New("a failed job has no result")
		}
	default:
		return errors.New("invalid target status " + string(to))
	}
	return nil
}
