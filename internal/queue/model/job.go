// Package model defines the core types shared by every queue component:
// the Job state machine, the per-batch ProcessTracker mirror, the
// DeadLetter archive, and the JobProcessor outcome contract.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobType is the closed set of job kinds the queue knows how to route.
// New types are added here as new processors are registered.
type JobType string

const (
	JobTypeResumeProcessing JobType = "RESUME_PROCESSING"
)

// JobStatus is a Job's position in its state machine.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Priority bounds. Enqueue clamps caller-supplied priorities to this range.
const (
	MinPriority = 0
	MaxPriority = 100

	DefaultMaxRetries = 3
)

// ClampPriority clamps p into [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// JSONMap is a JSON object column. It implements sql.Scanner/driver.Valuer
// so GORM can persist it as jsonb (postgres) or TEXT (sqlite).
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("model: JSONMap.Scan: unsupported column type")
	}
	if len(bytes) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(bytes, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Merge returns a new JSONMap with other's keys overlaid on m's.
func (m JSONMap) Merge(other JSONMap) JSONMap {
	out := JSONMap{}
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// TrackerID extracts metadata.tracker_id as a UUID. Tracker
// reconciliation does not use it: trackers are located by the job's
// CorrelationID.
func (m JSONMap) TrackerID() (uuid.UUID, bool) {
	raw, ok := m["tracker_id"]
	if !ok {
		return uuid.Nil, false
	}
	s, ok := raw.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Job is the durable unit of work. assigned_to/started_at/heartbeat_at
// are set when a job is claimed and cleared when it goes back to
// PENDING; a job that reaches COMPLETED, FAILED or CANCELLED from
// PROCESSING keeps started_at, and COMPLETED/FAILED also keep
// assigned_to and heartbeat_at. completed_at is non-nil iff status is
// terminal; retry_count never exceeds max_retries; version strictly
// increases on every successful mutation.
type Job struct {
	ID            uuid.UUID
	JobType       JobType
	CorrelationID *string
	Status        JobStatus
	Priority      int
	PayloadBlob   []byte
	Metadata      JSONMap
	RetryCount    int
	MaxRetries    int
	ErrorMessage  *string
	ErrorDetail   *string
	CreatedAt     time.Time
	ScheduledFor  time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
	AssignedTo    *string
	HeartbeatAt   *time.Time
	Cancelled     bool
	Version       int64
}

// ProcessTrackerStatus mirrors the aggregate progress of one correlation id.
type ProcessTrackerStatus string

const (
	TrackerStatusInitiated  ProcessTrackerStatus = "INITIATED"
	TrackerStatusInProgress ProcessTrackerStatus = "IN_PROGRESS"
	TrackerStatusCompleted  ProcessTrackerStatus = "COMPLETED"
	TrackerStatusFailed     ProcessTrackerStatus = "FAILED"
)

// ProcessTracker is the per-batch progress mirror consumed by UIs polling
// status. Invariant: ProcessedFiles + FailedFiles <= TotalFiles.
type ProcessTracker struct {
	ID             uuid.UUID
	JobID          *uuid.UUID
	CorrelationID  *string
	Status         ProcessTrackerStatus
	TotalFiles     int
	ProcessedFiles int
	FailedFiles    int
	Message        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// DeadLetter is the terminal archive for a job that exhausted retries or
// failed terminally. Exactly one row exists per such job; cancelled jobs
// never get one.
type DeadLetter struct {
	ID               uuid.UUID
	OriginalJobID    uuid.UUID
	JobType          JobType
	FailedAt         time.Time
	FailureReason    string
	JobSnapshot      JSONMap
	RetryAttempts    int
	Resolved         bool
	ResolvedAt       *time.Time
	ResolvedBy       *string
	ResolutionNotes  *string
}

// ProcessorOutcome is the tagged result a JobProcessor must return instead
// of panicking for expected business failures.
type ProcessorOutcome struct {
	Success        bool
	ResultMetadata JSONMap
	Reason         string
	Detail         string
	Retryable      bool
}

// QueueStats is the snapshot returned by the admin stats endpoint and
// computed by the store's Stats operation (spec §4.1/§4.7).
type QueueStats struct {
	Pending         int64
	Processing      int64
	Completed       int64
	Failed          int64
	Cancelled       int64
	AverageDuration time.Duration
	Window          time.Duration
}

// HealthStatus is the admin health() snapshot from spec §4.7: whether
// the scheduler is running, current pending/processing counts, the age
// of the oldest pending job, and the last poll timestamp.
type HealthStatus struct {
	SchedulerRunning bool          `json:"scheduler_running"`
	Pending          int64         `json:"pending"`
	Processing       int64         `json:"processing"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
	LastPollAt       *time.Time    `json:"last_poll_at"`
}

// ReasonCancelled is the outcome Reason a JobProcessor returns when it
// observes cooperative cancellation mid-flight (spec §4.3/§5). The
// worker harness recognizes this exact reason to route the job to
// CANCELLED instead of FAILED and to skip dead-letter archival.
const ReasonCancelled = "cancelled"

// Success builds a successful outcome carrying result metadata to be
// merged into the job's metadata.
func Success(resultMetadata JSONMap) ProcessorOutcome {
	return ProcessorOutcome{Success: true, ResultMetadata: resultMetadata}
}

// Failure builds a failed outcome. retryable selects whether the Failure
// Router treats it as transient (subject to backoff/retry) or terminal.
func Failure(reason, detail string, retryable bool) ProcessorOutcome {
	return ProcessorOutcome{Success: false, Reason: reason, Detail: detail, Retryable: retryable}
}
