package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/spend-assistant/internal/events"
)

// ErrJobNotFound is returned by JobStore lookups for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeExportEntry represents a ledger entry export job.
	JobTypeExportEntry JobType = "export_entry"
)

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

// ExportEntryJob fans one recorded ledger entry out to the event sinks.
type ExportEntryJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// UserID owns the exported entry.
	UserID string `json:"user_id"`

	// EntryID is the ledger entry being exported.
	EntryID string `json:"entry_id"`

	// Event is the payload handed to the sinks.
	Event events.TransactionRecorded `json:"event"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// NewExportEntryJob builds a pending job for an event.
func NewExportEntryJob(ev events.TransactionRecorded) *ExportEntryJob {
	return &ExportEntryJob{
		UserID:  ev.UserID,
		EntryID: ev.Entry.ID,
		Event:   ev,
	}
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ExportEntryJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ExportEntryJob) GetType() JobType {
	return JobTypeExportEntry
}

// GetStatus implements the Job interface.
func (j *ExportEntryJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishExportEntry publishes an entry export job.
	PublishExportEntry(ctx context.Context, job *ExportEntryJob) error

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

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ExportEntryJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ExportEntryJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ExportEntryJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// UserID filters jobs by user.
	UserID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// ExportHandler returns a JobHandler that publishes each export job's event
// to sink.
func ExportHandler(sink events.Sink) JobHandler {
	return func(ctx context.Context, job Job) error {
		j, ok := job.(*ExportEntryJob)
		if !ok {
			return errors.New("unsupported job type: " + string(job.GetType()))
		}
		return sink.Publish(ctx, j.Event)
	}
}
