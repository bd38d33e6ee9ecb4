package job

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// InterruptedMessage is the error recorded on jobs found RUNNING at boot.
const InterruptedMessage = "interrupted by restart"

// Store persists and retrieves jobs.
type Store interface {
	Create(ctx context.Context, j *Job) error
	// Get returns nil, nil for an unknown id.
	Get(ctx context.Context, id string) (*Job, error)
	// Transition moves a job to status to and writes r in the same update.
	// It fails with ErrInvalidTransition when the job is not in an allowed
	// predecessor status, and with ErrNotFound when it does not exist.
	Transition(ctx context.Context, id string, to Status, r Result) error
	// Recover fails every RUNNING job with InterruptedMessage and returns the
	// ids of SCHEDULED jobs so the caller can re-enqueue them.
	// Called at startup to settle jobs interrupted by a crash.
	Recover(ctx context.Context) (scheduled []string, interrupted int, err error)
	// DeleteTerminalBefore removes terminal jobs completed before the cutoff.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}
