package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/settlement-reconciler/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// Data is lost on service restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.ImportJob
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.ImportJob),
	}
}

func cloneJob(job *jobs.ImportJob) *jobs.ImportJob {
	c := *job
	if job.Summary != nil {
		sum := *job.Summary
		sum.Errors = append([]string(nil), job.Summary.Errors...)
		c.Summary = &sum
	}
	return &c
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ImportJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = cloneJob(job)
	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	return cloneJob(job), nil
}

// ListJobs implements the JobStore interface. Jobs come back newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.ImportJob{}
	for _, job := range s.jobs {
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result = append(result, cloneJob(job))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].JobID < result[j].JobID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.ImportJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// UpdateJobStatus implements the JobStore interface.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	return nil
}

var _ jobs.JobStore = (*Store)(nil)
