package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crategate/crategate/internal/artifact"
	"github.com/crategate/crategate/internal/config"
	"github.com/crategate/crategate/internal/crate"
	"github.com/crategate/crategate/internal/engine"
	"github.com/crategate/crategate/internal/job"
)

// ErrQueueFull is returned by Enqueue when the buffer has no room.
var ErrQueueFull = errors.New("queue is full")

// ErrEngine wraps failures of the validation or export engine.
var ErrEngine = errors.New("engine failure")

// Engines are the backends jobs run against.
type Engines struct {
	Validator engine.Validator
	Exporter  engine.Exporter
}

// Queue manages the job queue and workers.
type Queue struct {
	jobs      chan string
	store     job.Store
	artifacts artifact.Store
	engines   Engines
	cfg       *config.Config
	wg        sync.WaitGroup
}

// New creates a new Queue.
func New(cfg *config.Config, store job.Store, artifacts artifact.Store, engines Engines) *Queue {
	return &Queue{
		jobs:      make(chan string, cfg.QueueSize),
		store:     store,
		artifacts: artifacts,
		engines:   engines,
		cfg:       cfg,
	}
}

// Enqueue adds a job ID to the queue. Returns ErrQueueFull if the queue is full.
func (q *Queue) Enqueue(jobID string) error {
	select {
	case q.jobs <- jobID:
		return nil
	default:
		return fmt.Errorf("enqueue job %s: %w", jobID, ErrQueueFull)
	}
}

// Depth returns the number of jobs waiting for a worker.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Start launches N workers (cfg.Concurrency) as goroutines.
func (q *Queue) Start(ctx context.Context) {
	for range q.cfg.Concurrency {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.runWorker(ctx)
		}()
	}
}

// Wait blocks until every worker has returned after ctx cancellation.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Recovery settles jobs left over by a previous process: RUNNING jobs are
// failed and SCHEDULED jobs are re-enqueued.
func (q *Queue) Recovery(ctx context.Context) error {
	ids, interrupted, err := q.store.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if interrupted > 0 {
		slog.Warn("recovery: failed interrupted jobs", "count", interrupted)
	}
	for _, id := range ids {
		if err := q.Enqueue(id); err != nil {
			slog.Error("recovery: enqueue failed", "job_id", id, "error", err)
			q.fail(ctx, id, job.Error{Message: ErrQueueFull.Error()})
		}
	}
	if len(ids) > 0 {
		slog.Info("recovery: re-enqueued scheduled jobs", "count", len(ids))
	}
	return nil
}

// StartCleanup periodically deletes terminal jobs and artifacts older than
// the configured TTL. A zero interval or TTL disables it.
func (q *Queue) StartCleanup(ctx context.Context) {
	if q.cfg.CleanupInterval <= 0 || q.cfg.JobTTL <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(q.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.cleanup(ctx)
			}
		}
	}()
}

func (q *Queue) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-q.cfg.JobTTL)
	jobs, err := q.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		slog.Error("cleanup: delete jobs", "error", err)
	}
	artifacts, err := q.artifacts.DeleteBefore(ctx, cutoff)
	if err != nil {
		slog.Error("cleanup: delete artifacts", "error", err)
	}
	if jobs > 0 || artifacts > 0 {
		slog.Info("cleanup", "jobs", jobs, "artifacts", artifacts)
	}
}

// runWorker is a worker loop: dequeues jobs and processes them.
func (q *Queue) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-q.jobs:
			q.processJob(ctx, jobID)
		}
	}
}

func (q *Queue) processJob(ctx context.Context, jobID string) {
	if err := q.store.Transition(ctx, jobID, job.StatusRunning, job.Result{}); err != nil {
		slog.Error("worker: mark running", "job_id", jobID, "error", err)
		return
	}

	j, err := q.store.Get(ctx, jobID)
	if err != nil || j == nil {
		slog.Error("worker: load job", "job_id", jobID, "error", err)
		q.fail(ctx, jobID, job.Error{Message: "failed to load job"})
		return
	}

	start := time.Now()
	status, result := q.execute(ctx, j)
	if ctx.Err() != nil {
		// Left RUNNING; the next boot fails it in Recovery.
		slog.Warn("worker: interrupted by shutdown", "job_id", jobID)
		return
	}

	if err := q.store.Transition(ctx, jobID, status, result); err != nil {
		slog.Error("worker: finalize", "job_id", jobID, "status", status, "error", err)
		return
	}
	slog.Info("job finished",
		"job_id", jobID,
		"kind", j.Kind,
		"status", status,
		"errors", len(result.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// execute runs a job's engine call and maps it onto its terminal status.
func (q *Queue) execute(ctx context.Context, j *job.Job) (status job.Status, result job.Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("worker: engine panic", "job_id", j.ID, "panic", p)
			status, result = job.StatusFailed, job.Failed(job.Error{Message: fmt.Sprintf("internal error: %v", p)})
		}
	}()

	failed := func(err error) (job.Status, job.Result) {
		return job.StatusFailed, job.Failed(job.Error{Message: err.Error()})
	}

	p, err := decodePayload(j.Payload)
	if err != nil {
		return failed(err)
	}
	ctx = engine.WithAPIKey(ctx, p.APIKey)

	switch j.Kind {
	case job.KindValidate:
		g, err := crate.Parse(p.Document)
		if err != nil {
			return failed(err)
		}
		report, err := q.validate(ctx, g)
		if err != nil {
			return failed(err)
		}
		return job.StatusCompleted, job.Validated(report)

	case job.KindExport:
		if p.Export == nil {
			return failed(errors.New("export job has no request"))
		}
		res, err := q.export(ctx, *p.Export)
		var nf *engine.NotFoundError
		if errors.As(err, &nf) {
			return job.StatusFailed, job.Failed(notFoundErrors(nf)...)
		}
		if err != nil {
			return failed(err)
		}
		url, err := q.publish(ctx, res)
		if err != nil {
			return failed(err)
		}
		return job.StatusCompleted, job.Exported(url)

	default:
		return failed(fmt.Errorf("unknown job kind %q", j.Kind))
	}
}

// validate and export are shared by the inline and deferred paths, so both
// produce the same content for the same request.

func (q *Queue) validate(ctx context.Context, g *crate.Graph) (*crate.Report, error) {
	report, err := q.engines.Validator.Validate(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("%w: validate: %w", ErrEngine, err)
	}
	return report, nil
}

func (q *Queue) export(ctx context.Context, req engine.ExportRequest) (*engine.ExportResult, error) {
	res, err := q.engines.Exporter.Export(ctx, req)
	var nf *engine.NotFoundError
	if errors.As(err, &nf) {
		return nil, nf
	}
	if err != nil {
		return nil, fmt.Errorf("%w: export: %w", ErrEngine, err)
	}
	return res, nil
}

// publish stores exported content and returns its download URL. A result
// that already is a link is passed through.
func (q *Queue) publish(ctx context.Context, res *engine.ExportResult) (string, error) {
	if res.DownloadURL != "" {
		return res.DownloadURL, nil
	}
	id, err := q.artifacts.Put(ctx, res.Content, res.ContentType)
	if err != nil {
		return "", err
	}
	return q.DownloadURL(id), nil
}

// DownloadURL returns the address an artifact is served at.
func (q *Queue) DownloadURL(artifactID string) string {
	return q.cfg.PublicURL + q.cfg.BasePath + "/download/" + artifactID
}

func (q *Queue) fail(ctx context.Context, jobID string, errs ...job.Error) {
	if err := q.store.Transition(ctx, jobID, job.StatusFailed, job.Failed(errs...)); err != nil {
		slog.Error("mark failed", "job_id", jobID, "error", err)
	}
}

// notFoundErrors reports each unresolved identifier as its own job error.
func notFoundErrors(nf *engine.NotFoundError) []job.Error {
	if len(nf.Identifiers) == 0 {
		return []job.Error{{Message: nf.Error()}}
	}
	errs := make([]job.Error, 0, len(nf.Identifiers))
	for _, id := range nf.Identifiers {
		errs = append(errs, job.Error{Identifier: id, Message: "identifier not found: " + id})
	}
	return errs
}
