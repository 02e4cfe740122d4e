package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/talentqueue/jobqueue/internal/queue/model"
)

// JobRecord is the GORM row for table job_queue. Field tags create plain
// single-column indexes on job_type, correlation_id, scheduled_for and
// heartbeat_at; the partial composite index on (status, priority desc,
// created_at asc) and the partial heartbeat_at index are created by
// database.Migrate.
type JobRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobType       string    `gorm:"column:job_type;index;not null"`
	CorrelationID *string   `gorm:"column:correlation_id;index"`
	Status        string    `gorm:"column:status;not null"`
	Priority      int       `gorm:"column:priority;not null;default:0"`
	PayloadBlob   []byte    `gorm:"column:payload_blob"`
	Metadata      model.JSONMap `gorm:"column:metadata;type:text"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0"`
	MaxRetries    int        `gorm:"column:max_retries;not null;default:3"`
	ErrorMessage  *string    `gorm:"column:error_message"`
	ErrorDetail   *string    `gorm:"column:error_detail"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	ScheduledFor  time.Time  `gorm:"column:scheduled_for;not null;index"`
	StartedAt     *time.Time `gorm:"column:started_at"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null"`
	AssignedTo    *string    `gorm:"column:assigned_to"`
	HeartbeatAt   *time.Time `gorm:"column:heartbeat_at;index"`
	Cancelled     bool       `gorm:"column:cancel_requested;not null;default:false"`
	Version       int64      `gorm:"column:version;not null;default:0"`
}

func (JobRecord) TableName() string { return "job_queue" }

// DeadLetterRecord is the GORM row for table dead_letter.
type DeadLetterRecord struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey"`
	OriginalJobID   uuid.UUID     `gorm:"column:original_job_id;index;not null"`
	JobType         string        `gorm:"column:job_type;not null"`
	FailedAt        time.Time     `gorm:"column:failed_at;not null"`
	FailureReason   string        `gorm:"column:failure_reason"`
	JobSnapshot     model.JSONMap `gorm:"column:job_snapshot;type:text"`
	RetryAttempts   int           `gorm:"column:retry_attempts;not null;default:0"`
	Resolved        bool          `gorm:"column:resolved;not null;default:false"`
	ResolvedAt      *time.Time    `gorm:"column:resolved_at"`
	ResolvedBy      *string       `gorm:"column:resolved_by"`
	ResolutionNotes *string       `gorm:"column:resolution_notes"`
}

func (DeadLetterRecord) TableName() string { return "dead_letter" }

// ProcessTrackerRecord is the GORM row for table process_tracker.
type ProcessTrackerRecord struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	JobID          *uuid.UUID `gorm:"column:job_id;index"`
	CorrelationID  *string    `gorm:"column:correlation_id;index"`
	Status         string    `gorm:"column:status;not null"`
	TotalFiles     int       `gorm:"column:total_files;not null;default:0"`
	ProcessedFiles int       `gorm:"column:processed_files;not null;default:0"`
	FailedFiles    int       `gorm:"column:failed_files;not null;default:0"`
	Message        string    `gorm:"column:message"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
}

func (ProcessTrackerRecord) TableName() string { return "process_tracker" }

func jobFromRecord(r *JobRecord) *model.Job {
	return &model.Job{
		ID:            r.ID,
		JobType:       model.JobType(r.JobType),
		CorrelationID: r.CorrelationID,
		Status:        model.JobStatus(r.Status),
		Priority:      r.Priority,
		PayloadBlob:   r.PayloadBlob,
		Metadata:      r.Metadata,
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		ErrorMessage:  r.ErrorMessage,
		ErrorDetail:   r.ErrorDetail,
		CreatedAt:     r.CreatedAt,
		ScheduledFor:  r.ScheduledFor,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		UpdatedAt:     r.UpdatedAt,
		AssignedTo:    r.AssignedTo,
		HeartbeatAt:   r.HeartbeatAt,
		Cancelled:     r.Cancelled,
		Version:       r.Version,
	}
}

func recordFromJob(j *model.Job) *JobRecord {
	return &JobRecord{
		ID:            j.ID,
		JobType:       string(j.JobType),
		CorrelationID: j.CorrelationID,
		Status:        string(j.Status),
		Priority:      j.Priority,
		PayloadBlob:   j.PayloadBlob,
		Metadata:      j.Metadata,
		RetryCount:    j.RetryCount,
		MaxRetries:    j.MaxRetries,
		ErrorMessage:  j.ErrorMessage,
		ErrorDetail:   j.ErrorDetail,
		CreatedAt:     j.CreatedAt,
		ScheduledFor:  j.ScheduledFor,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		UpdatedAt:     j.UpdatedAt,
		AssignedTo:    j.AssignedTo,
		HeartbeatAt:   j.HeartbeatAt,
		Cancelled:     j.Cancelled,
		Version:       j.Version,
	}
}

func deadLetterFromRecord(r *DeadLetterRecord) *model.DeadLetter {
	return &model.DeadLetter{
		ID:              r.ID,
		OriginalJobID:   r.OriginalJobID,
		JobType:         model.JobType(r.JobType),
		FailedAt:        r.FailedAt,
		FailureReason:   r.FailureReason,
		JobSnapshot:     r.JobSnapshot,
		RetryAttempts:   r.RetryAttempts,
		Resolved:        r.Resolved,
		ResolvedAt:      r.ResolvedAt,
		ResolvedBy:      r.ResolvedBy,
		ResolutionNotes: r.ResolutionNotes,
	}
}

func trackerFromRecord(r *ProcessTrackerRecord) *model.ProcessTracker {
	return &model.ProcessTracker{
		ID:             r.ID,
		JobID:          r.JobID,
		CorrelationID:  r.CorrelationID,
		Status:         model.ProcessTrackerStatus(r.Status),
		TotalFiles:     r.TotalFiles,
		ProcessedFiles: r.ProcessedFiles,
		FailedFiles:    r.FailedFiles,
		Message:        r.Message,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		CompletedAt:    r.CompletedAt,
	}
}

func trackerRecordFromModel(t *model.ProcessTracker) *ProcessTrackerRecord {
	return &ProcessTrackerRecord{
		ID:             t.ID,
		JobID:          t.JobID,
		CorrelationID:  t.CorrelationID,
		Status:         string(t.Status),
		TotalFiles:     t.TotalFiles,
		ProcessedFiles: t.ProcessedFiles,
		FailedFiles:    t.FailedFiles,
		Message:        t.Message,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
	}
}
