package queue

import (
	"context"
	"log/slog"

	"github.com/crategate/crategate/internal/config"
	"github.com/crategate/crategate/internal/crate"
	"github.com/crategate/crategate/internal/engine"
	"github.com/crategate/crategate/internal/job"
)

// Outcome is the result of submitting a request: Immediate or Deferred.
type Outcome interface {
	outcome()
}

// Immediate carries the result of a request run inline. Exactly one field is set.
type Immediate struct {
	Report *crate.Report
	Export *engine.ExportResult
}

// Deferred names the job that will run the request.
type Deferred struct {
	JobID string
}

func (Immediate) outcome() {}
func (Deferred) outcome()  {}

// Scheduler decides whether a request runs inline or as a job. Small
// requests run inline; larger ones are persisted and queued.
type Scheduler struct {
	q     *Queue
	store job.Store
	cfg   *config.Config
}

// NewScheduler creates a Scheduler submitting deferred work to q.
func NewScheduler(cfg *config.Config, store job.Store, q *Queue) *Scheduler {
	return &Scheduler{q: q, store: store, cfg: cfg}
}

// SubmitValidate validates g inline when it has at most
// cfg.ValidateSyncMaxEntities entities, and defers it otherwise.
func (s *Scheduler) SubmitValidate(ctx context.Context, g *crate.Graph) (Outcome, error) {
	if g.Len() <= s.cfg.ValidateSyncMaxEntities {
		report, err := s.q.validate(ctx, g)
		if err != nil {
			return nil, err
		}
		return Immediate{Report: report}, nil
	}
	return s.deferJob(ctx, job.KindValidate, payload{APIKey: engine.APIKey(ctx), Document: g.Raw})
}

// SubmitExport exports inline when at most cfg.ExportSyncMaxIdentifiers
// identifiers are requested, and defers it otherwise. Inline exports report
// unresolved identifiers with *engine.NotFoundError and create no job.
func (s *Scheduler) SubmitExport(ctx context.Context, req engine.ExportRequest) (Outcome, error) {
	if len(req.Identifiers) <= s.cfg.ExportSyncMaxIdentifiers {
		res, err := s.q.export(ctx, req)
		if err != nil {
			return nil, err
		}
		return Immediate{Export: res}, nil
	}
	return s.deferJob(ctx, job.KindExport, payload{APIKey: engine.APIKey(ctx), Export: &req})
}

// deferJob persists a SCHEDULED job and queues it. When the queue refuses
// it, the job is failed and ErrQueueFull returned.
func (s *Scheduler) deferJob(ctx context.Context, kind job.Kind, p payload) (Outcome, error) {
	b, err := encodePayload(p)
	if err != nil {
		return nil, err
	}
	j := job.New(kind, b)
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}

	if err := s.q.Enqueue(j.ID); err != nil {
		slog.Warn("queue full", "job_id", j.ID, "kind", kind)
		s.q.fail(context.WithoutCancel(ctx), j.ID, job.Error{Message: ErrQueueFull.Error()})
		return nil, err
	}
	slog.Debug("job scheduled", "job_id", j.ID, "kind", kind)
	return Deferred{JobID: j.ID}, nil
}
