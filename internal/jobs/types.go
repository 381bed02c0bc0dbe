package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/settlement-reconciler/internal/importer"
)

// JobKind represents what an import job loads.
type JobKind string

const (
	// KindStatementRows imports a CSV or JSON statement export.
	KindStatementRows JobKind = "statement_rows"
	// KindStatementPDF extracts and imports a statement PDF.
	KindStatementPDF JobKind = "statement_pdf"
	// KindSettlementEntries imports provider settlement rows.
	KindSettlementEntries JobKind = "settlement_entries"
	// KindContractRules replaces the contract percentage rules.
	KindContractRules JobKind = "contract_rules"
)

// ParseJobKind validates a raw kind.
func ParseJobKind(raw string) (JobKind, error) {
	switch k := JobKind(raw); k {
	case KindStatementRows, KindStatementPDF, KindSettlementEntries, KindContractRules:
		return k, nil
	}
	return "", fmt.Errorf("unknown job kind %q", raw)
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies when a job does not set MaxRetries.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// ImportJob represents one file to import from GCS.
type ImportJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Kind JobKind `json:"kind"`

	// GCSURI is the location of the uploaded file.
	GCSURI string `json:"gcs_uri"`

	// Format is "csv" or "json" for row imports; PDFs ignore it.
	Format string `json:"format,omitempty"`

	// Source and Account apply to statement lines that do not name their own.
	Source  string `json:"source,omitempty"`
	Account string `json:"account,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Summary is set once the import ran, even when it reported bad rows.
	Summary *importer.Summary `json:"summary,omitempty"`
}

// Validate checks the fields a publisher must fill.
func (j *ImportJob) Validate() error {
	if _, err := ParseJobKind(string(j.Kind)); err != nil {
		return err
	}
	if j.GCSURI == "" {
		return errors.New("gcs_uri is required")
	}
	if j.Kind != KindStatementPDF && j.Format != "csv" && j.Format != "json" {
		return fmt.Errorf("format must be csv or json, got %q", j.Format)
	}
	return nil
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishImport publishes an import job.
	PublishImport(ctx context.Context, job *ImportJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. An error marked Permanent is not retried.
type JobHandler func(ctx context.Context, job *ImportJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ImportJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ImportJob, error)

	// ListJobs retrieves jobs, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ImportJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Kind   JobKind
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// PermanentError marks a failure that retrying cannot fix, such as a
// malformed file.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
