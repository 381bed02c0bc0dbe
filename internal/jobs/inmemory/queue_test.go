package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/settlement-reconciler/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ImportJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, last state %+v", jobID, want, job)
	return nil
}

func newJob() *jobs.ImportJob {
	return &jobs.ImportJob{Kind: jobs.KindStatementRows, GCSURI: "gs://b/x.csv", Format: "csv"}
}

func TestQueue_ProcessesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var calls atomic.Int32
	if err := q.Start(ctx, func(ctx context.Context, job *jobs.ImportJob) error {
		calls.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := newJob()
	if err := q.PublishImport(ctx, job); err != nil {
		t.Fatalf("PublishImport() error = %v", err)
	}
	if job.JobID == "" || job.MaxRetries != jobs.DefaultMaxRetries {
		t.Errorf("publish did not fill defaults: %+v", job)
	}

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Errorf("timestamps not set: %+v", got)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}

func TestQueue_RetriesTransientFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, 1, store)
	q.backoff = 10 * time.Millisecond
	defer q.Close()

	var calls atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job *jobs.ImportJob) error {
		if calls.Add(1) == 1 {
			return errors.New("bigquery unavailable")
		}
		return nil
	})

	job := newJob()
	if err := q.PublishImport(ctx, job); err != nil {
		t.Fatal(err)
	}
	got := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if got.RetryCount != 1 || calls.Load() != 2 {
		t.Errorf("retry count = %d, calls = %d", got.RetryCount, calls.Load())
	}
}

func TestQueue_PermanentFailureIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, 1, store)
	q.backoff = 10 * time.Millisecond
	defer q.Close()

	var calls atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job *jobs.ImportJob) error {
		calls.Add(1)
		return jobs.Permanent(errors.New("malformed csv"))
	})

	job := newJob()
	_ = q.PublishImport(ctx, job)
	got := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if got.Error != "malformed csv" || got.RetryCount != 0 {
		t.Errorf("failed job = %+v", got)
	}
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}

func TestQueue_PublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishImport(context.Background(), newJob()); err == nil {
		t.Error("PublishImport() on a closed queue succeeded")
	}
	if err := q.Start(context.Background(), nil); err == nil {
		t.Error("Start() on a closed queue succeeded")
	}
}
