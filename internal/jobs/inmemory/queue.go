package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/settlement-reconciler/internal/jobs"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
)

// DefaultWorkers is the worker count used when NewQueue is given zero.
const DefaultWorkers = 4

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Jobs do not survive a restart; the job store keeps their last state.
type Queue struct {
	jobChan   chan *jobs.ImportJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	workers   int
	backoff   time.Duration
	closed    bool
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishImport blocks.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		jobChan:   make(chan *jobs.ImportJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   workers,
		backoff:   time.Second,
	}
}

// PublishImport implements the Publisher interface.
func (q *Queue) PublishImport(ctx context.Context, job *jobs.ImportJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = jobs.DefaultMaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface. The handler runs on the
// queue's workers, one job per worker at a time.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	log := logger.FromContext(ctx)
	log.Info().Int("workers", q.workers).Msg("import queue started")
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.ImportJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx)

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case !jobs.IsPermanent(err) && job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		log.Warn().Err(err).Str("job_id", job.JobID).Int("retry", job.RetryCount).Msg("import job failed, retrying")

		backoff := time.Duration(job.RetryCount) * q.backoff
		time.AfterFunc(backoff, func() {
			job.Status = jobs.JobStatusPending
			job.StartedAt = nil
			job.CompletedAt = nil
			if err := q.PublishImport(ctx, job); err != nil {
				log.Error().Err(err).Str("job_id", job.JobID).Msg("failed to re-enqueue import job")
			}
		})
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Str("job_id", job.JobID).Msg("import job failed")
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
