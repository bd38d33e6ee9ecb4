package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crategate/crategate/internal/crate"
	"github.com/crategate/crategate/internal/sqlitedb"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sqlitedb.Open(sqlitedb.Memory)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return store
}

func makeJob(id string, kind Kind) *Job {
	j := New(kind, []byte{0xa1, 0x01, 0x02})
	j.ID = id
	return j
}

func createJob(t *testing.T, store *SQLiteStore, id string, kind Kind) {
	t.Helper()
	if err := store.Create(context.Background(), makeJob(id, kind)); err != nil {
		t.Fatalf("Create %s: %v", id, err)
	}
}

func mustGet(t *testing.T, store *SQLiteStore, id string) *Job {
	t.Helper()
	got, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	if got == nil {
		t.Fatalf("Get %s returned nil, want job", id)
	}
	return got
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	createJob(t, store, "job-1", KindValidate)

	got := mustGet(t, store, "job-1")
	if got.Status != StatusScheduled {
		t.Errorf("Status = %q, want %q", got.Status, StatusScheduled)
	}
	if got.Kind != KindValidate {
		t.Errorf("Kind = %q, want %q", got.Kind, KindValidate)
	}
	if string(got.Payload) != "\xa1\x01\x02" {
		t.Errorf("Payload = %x, want a10102", got.Payload)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("scheduled job has StartedAt or CompletedAt set")
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("Get returned %+v, want nil", got)
	}
}

func TestTransition_CompletedValidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	createJob(t, store, "job-2", KindValidate)

	if err := store.Transition(ctx, "job-2", StatusRunning, Result{}); err != nil {
		t.Fatalf("Transition RUNNING: %v", err)
	}
	running := mustGet(t, store, "job-2")
	if running.Status != StatusRunning || running.StartedAt == nil {
		t.Fatalf("after RUNNING: status %q startedAt %v", running.Status, running.StartedAt)
	}

	report := crate.NewReport(true, []string{"https://doi.org/10.1/b", "https://doi.org/10.1/a"}, nil)
	if err := store.Transition(ctx, "job-2", StatusCompleted, Validated(report)); err != nil {
		t.Fatalf("Transition COMPLETED: %v", err)
	}

	got := mustGet(t, store, "job-2")
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, StatusCompleted)
	}
	if got.ValidationResult == nil || !got.ValidationResult.IsValid {
		t.Fatalf("ValidationResult = %+v, want valid report", got.ValidationResult)
	}
	if len(got.ValidationResult.Entities) != 2 || got.ValidationResult.Entities[0] != "https://doi.org/10.1/a" {
		t.Errorf("Entities = %v", got.ValidationResult.Entities)
	}
	if got.DownloadURL != "" || len(got.Errors) != 0 {
		t.Errorf("completed validate job carries downloadUrl %q or errors %v", got.DownloadURL, got.Errors)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("StartedAt or CompletedAt is nil, want both set")
	}
}

func TestTransition_CompletedExport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	createJob(t, store, "job-3", KindExport)

	if err := store.Transition(ctx, "job-3", StatusRunning, Result{}); err != nil {
		t.Fatalf("Transition RUNNING: %v", err)
	}
	if err := store.Transition(ctx, "job-3", StatusCompleted, Exported("/download/abc")); err != nil {
		t.Fatalf("Transition COMPLETED: %v", err)
	}
	got := mustGet(t, store, "job-3")
	if got.DownloadURL != "/download/abc" {
		t.Errorf("DownloadURL = %q, want %q", got.DownloadURL, "/download/abc")
	}
	if got.ValidationResult != nil {
		t.Errorf("ValidationResult = %+v, want nil", got.ValidationResult)
	}
}

func TestTransition_Failed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	createJob(t, store, "job-4", KindExport)

	if err := store.Transition(ctx, "job-4", StatusRunning, Result{}); err != nil {
		t.Fatalf("Transition RUNNING: %v", err)
	}
	errs := []Error{
		{Identifier: "invalid-1", Message: "not found"},
		{Identifier: "invalid-2", Message: "not found"},
	}
	if err := store.Transition(ctx, "job-4", StatusFailed, Failed(errs...)); err != nil {
		t.Fatalf("Transition FAILED: %v", err)
	}

	got := mustGet(t, store, "job-4")
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, StatusFailed)
	}
	if len(got.Errors) != 2 || got.Errors[1] != errs[1] {
		t.Errorf("Errors = %+v, want %+v", got.Errors, errs)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt is nil, want non-nil")
	}
}

func TestTransition_ScheduledToFailed(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	createJob(t, store, "job-5", KindValidate)

	if err := store.Transition(context.Background(), "job-5", StatusFailed, Failed(Error{Message: "queue is full"})); err != nil {
		t.Fatalf("Transition FAILED: %v", err)
	}
	got := mustGet(t, store, "job-5")
	if got.Status != StatusFailed || got.StartedAt != nil {
		t.Errorf("status %q startedAt %v, want FAILED without start", got.Status, got.StartedAt)
	}
}

func TestTransition_Invalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	createJob(t, store, "job-6", KindExport)

	// SCHEDULED cannot skip RUNNING to reach COMPLETED.
	err := store.Transition(ctx, "job-6", StatusCompleted, Exported("/x"))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("SCHEDULED -> COMPLETED error = %v, want ErrInvalidTransition", err)
	}

	if err := store.Transition(ctx, "job-6", StatusRunning, Result{}); err != nil {
		t.Fatalf("Transition RUNNING: %v", err)
	}
	if err := store.Transition(ctx, "job-6", StatusCompleted, Exported("/x")); err != nil {
		t.Fatalf("Transition COMPLETED: %v", err)
	}

	// Terminal snapshots never change.
	for _, to := range []Status{StatusRunning, StatusFailed, StatusCompleted} {
		r := Result{}
		switch to {
		case StatusFailed:
			r = Failed(Error{Message: "late"})
		case StatusCompleted:
			r = Exported("/y")
		}
		if err := store.Transition(ctx, "job-6", to, r); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("COMPLETED -> %s error = %v, want ErrInvalidTransition", to, err)
		}
	}
	if got := mustGet(t, store, "job-6"); got.DownloadURL != "/x" {
		t.Errorf("DownloadURL = %q after rejected transitions, want /x", got.DownloadURL)
	}
}

func TestTransition_ResultShape(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	createJob(t, store, "job-7", KindValidate)
	if err := store.Transition(ctx, "job-7", StatusRunning, Result{}); err != nil {
		t.Fatalf("Transition RUNNING: %v", err)
	}

	tests := []struct {
		name string
		to   Status
		r    Result
	}{
		{"completed without result", StatusCompleted, Result{}},
		{"completed with both results", StatusCompleted, Result{DownloadURL: "/x", ValidationResult: &crate.Report{}}},
		{"completed with errors", StatusCompleted, Result{DownloadURL: "/x", Errors: []Error{{Message: "m"}}}},
		{"failed without errors", StatusFailed, Result{}},
		{"failed with result", StatusFailed, Result{DownloadURL: "/x", Errors: []Error{{Message: "m"}}}},
		{"back to scheduled", StatusScheduled, Result{}},
	}
	for _, tt := range tests {
		if err := store.Transition(ctx, "job-7", tt.to, tt.r); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s: error = %v, want ErrInvalidTransition", tt.name, err)
		}
	}
	if got := mustGet(t, store, "job-7"); got.Status != StatusRunning {
		t.Errorf("Status = %q, want RUNNING", got.Status)
	}
}

func TestTransition_NotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	err := store.Transition(context.Background(), "missing", StatusRunning, Result{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestTransition_SingleWinner(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	createJob(t, store, "job-8", KindValidate)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Transition(context.Background(), "job-8", StatusRunning, Result{})
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, ErrInvalidTransition):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d transitions succeeded, want exactly 1", wins)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	createJob(t, store, "job-a", KindValidate)
	createJob(t, store, "job-b", KindExport)
	createJob(t, store, "job-c", KindExport)

	// Only job-b was running when the process died.
	if err := store.Transition(ctx, "job-b", StatusRunning, Result{}); err != nil {
		t.Fatalf("Transition job-b: %v", err)
	}
	if err := store.Transition(ctx, "job-c", StatusFailed, Failed(Error{Message: "x"})); err != nil {
		t.Fatalf("Transition job-c: %v", err)
	}

	scheduled, interrupted, err := store.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if interrupted != 1 {
		t.Errorf("interrupted = %d, want 1", interrupted)
	}
	if len(scheduled) != 1 || scheduled[0] != "job-a" {
		t.Errorf("scheduled = %v, want [job-a]", scheduled)
	}

	got := mustGet(t, store, "job-b")
	if got.Status != StatusFailed {
		t.Errorf("job-b Status = %q, want %q", got.Status, StatusFailed)
	}
	if len(got.Errors) != 1 || got.Errors[0].Message != InterruptedMessage {
		t.Errorf("job-b Errors = %+v, want interrupted message", got.Errors)
	}
	if got := mustGet(t, store, "job-a"); got.Status != StatusScheduled {
		t.Errorf("job-a Status = %q, want %q", got.Status, StatusScheduled)
	}
}

func TestDeleteTerminalBefore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	createJob(t, store, "old-done", KindValidate)
	createJob(t, store, "pending", KindValidate)
	if err := store.Transition(ctx, "old-done", StatusFailed, Failed(Error{Message: "x"})); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	n, err := store.DeleteTerminalBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d jobs, want 1", n)
	}
	if got, _ := store.Get(ctx, "old-done"); got != nil {
		t.Error("terminal job survived the sweep")
	}
	mustGet(t, store, "pending")

	n, err = store.DeleteTerminalBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d jobs with a past cutoff, want 0", n)
	}
}
