// Package store is the GORM realization of the Queue Store from spec
// §4.1/§6.1: insert, find_due, claim, heartbeat, complete, fail_terminal,
// retry, cancel, find_stale, stats, cleanup. Every mutation that changes
// a job's status goes through an expected_version precondition so two
// racing callers can never both win a claim — the same optimistic-lock
// shape famstack's DBJobSystem.ClaimJob uses.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/talentqueue/jobqueue/internal/queue/model"
)

// Store is the persistence boundary the queue service depends on.
type Store interface {
	Insert(ctx context.Context, job *model.Job) error
	FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Job, error)
	Claim(ctx context.Context, id uuid.UUID, workerID string, now time.Time, expectedVersion int64) (*model.Job, error)
	Heartbeat(ctx context.Context, id uuid.UUID, now time.Time, expectedVersion int64) (*model.Job, error)
	Complete(ctx context.Context, id uuid.UUID, now time.Time, resultMetadata model.JSONMap, expectedVersion int64) (*model.Job, error)
	FailTerminal(ctx context.Context, id uuid.UUID, now time.Time, reason, detail string, expectedVersion int64) (*model.Job, error)
	Retry(ctx context.Context, id uuid.UUID, nextRun time.Time, reason, detail string, expectedVersion int64) (*model.Job, error)
	Release(ctx context.Context, id uuid.UUID, expectedVersion int64) (*model.Job, error)
	Cancel(ctx context.Context, id uuid.UUID, expectedVersion int64) (*model.Job, error)
	FinalizeCancellation(ctx context.Context, id uuid.UUID, now time.Time, expectedVersion int64) (*model.Job, error)
	FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ListByStatus(ctx context.Context, status model.JobStatus, page, pageSize int) ([]*model.Job, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]*model.Job, error)
	Stats(ctx context.Context, since time.Time) (model.QueueStats, error)
	OldestPending(ctx context.Context) (*time.Time, error)
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)

	InsertDeadLetter(ctx context.Context, dl *model.DeadLetter) error
	GetDeadLetter(ctx context.Context, jobID uuid.UUID) (*model.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id uuid.UUID, resolvedBy, notes string, now time.Time) (*model.DeadLetter, error)
	ListUnresolvedDeadLetters(ctx context.Context, limit int) ([]*model.DeadLetter, error)

	UpsertTracker(ctx context.Context, t *model.ProcessTracker) error
	GetTrackerByCorrelation(ctx context.Context, correlationID string) (*model.ProcessTracker, error)
	ReconcileTracker(ctx context.Context, correlationID string, succeeded bool, now time.Time) (*model.ProcessTracker, error)
}

type gormStore struct {
	db *gorm.DB
}

// New wraps db as a Store. db should already have had Migrate applied.
func New(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Insert(ctx context.Context, job *model.Job) error {
	rec := recordFromJob(job)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	*job = *jobFromRecord(rec)
	return nil
}

// FindDue returns up to limit PENDING jobs whose scheduled_for has
// arrived, ordered priority DESC, created_at ASC — oldest highest
// priority job wins ties, matching spec §4.1.
func (s *gormStore) FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Job, error) {
	var recs []JobRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", string(model.JobStatusPending), now).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return toJobs(recs), nil
}

// Claim transitions a PENDING job to PROCESSING for workerID, bumping
// version. The WHERE clause folds the optimistic-lock check into the
// UPDATE itself: if RowsAffected is 0, somebody else claimed it first
// and the caller should move on to the next due job.
func (s *gormStore) Claim(ctx context.Context, id uuid.UUID, workerID string, now time.Time, expectedVersion int64) (*model.Job, error) {
	res := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND status = ? AND version = ?", id, string(model.JobStatusPending), expectedVersion).
		Updates(map[string]interface{}{
			"status":       string(model.JobStatusProcessing),
			"assigned_to":  workerID,
			"started_at":   now,
			"heartbeat_at": now,
			"updated_at":   now,
			"version":      expectedVersion + 1,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.NewConflictError("claim: job already claimed or version mismatch")
	}
	return s.Get(ctx, id)
}

func (s *gormStore) Heartbeat(ctx context.Context, id uuid.UUID, now time.Time, expectedVersion int64) (*model.Job, error) {
	res := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND status = ? AND version = ?", id, string(model.JobStatusProcessing), expectedVersion).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
			"version":      expectedVersion + 1,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.NewConflictError("heartbeat: job no longer owned at expected version")
	}
	return s.Get(ctx, id)
}

func (s *gormStore) Complete(ctx context.Context, id uuid.UUID, now time.Time, resultMetadata model.JSONMap, expectedVersion int64) (*model.Job, error) {
	var out *model.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec JobRecord
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			return translateNotFound(err)
		}
		merged := rec.Metadata.Merge(resultMetadata)
		res := tx.Model(&JobRecord{}).
			Where("id = ? AND status = ? AND version = ?", id, string(model.JobStatusProcessing), expectedVersion).
			Updates(map[string]interface{}{
				"status":       string(model.JobStatusCompleted),
				"completed_at": now,
				"updated_at":   now,
				"metadata":     merged,
				"version":      expectedVersion + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.NewConflictError("complete: version mismatch")
		}
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			return err
		}
		out = jobFromRecord(&rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *gormStore) FailTerminal(ctx context.Context, id uuid.UUID, now time.Time, reason, detail string, expectedVersion int64) (*model.Job, error) {
	res := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"status":        string(model.JobStatusFailed),
			"error_message": reason,
			"error_detail":  detail,
			"completed_at":  now,
			"updated_at":    now,
			"version":       expectedVersion + 1,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.NewConflictError("fail_terminal: version mismatch")
	}
	return s.Get(ctx, id)
}

// Retry moves a job back to PENDING with an incremented retry_count and
// a rescheduled scheduled_for — the failure router computes nextRun
// with exponential backoff before calling this.
func (s *gormStore) Retry(ctx context.Context, id uuid.UUID, nextRun time.Time, reason, detail string, expectedVersion int64) (*model.Job, error) {
	res := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"status":        string(model.JobStatusPending),
			"error_message": reason,
			"error_detail":  detail,
			"scheduled_for": nextRun,
			"assigned_to":   nil,
			"started_at":    nil,
			"heartbeat_at":  nil,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"updated_at":    time.Now().UTC(),
			"version":       expectedVersion + 1,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.NewConflictError("retry: version mismatch")
	}
	return s.Get(ctx, id)
}

// Release resets a PROCESSING job back to PENDING without touching
// retry_count — used when a claimed job never reaches a worker (the
// dispatch channel was full) so the attempt isn't charged against the
// job's retry budget.
func (s *gormStore) Release(ctx context.Context, id uuid.UUID, expectedVersion int64) (*model.Job, error) {
	res := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"status":       string(model.JobStatusPending),
			"assigned_to":  nil,
			"started_at":   nil,
			"heartbeat_at": nil,
			"updated_at":   time.Now().UTC(),
			"version":      expectedVersion + 1,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.NewConflictError("release: version mismatch")
	}
	return s.Get(ctx, id)
}

// Cancel sets cancel_requested so an in-flight worker observes it at its
// next cooperative checkpoint, or immediately moves a still-PENDING job
// to CANCELLED. A job already in a terminal state is left unchanged and
// a conflict error is returned.
func (s *gormStore) Cancel(ctx context.Context, id uuid.UUID, expectedVersion int64) (*model.Job, error) {
	var out *model.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec JobRecord
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			return translateNotFound(err)
		}
		if rec.Version != expectedVersion {
			return model.NewConflictError("cancel: version mismatch")
		}
		if model.JobStatus(rec.Status).IsTerminal() {
			return model.NewConflictError("cancel: job already terminal")
		}
		now := time.Now().UTC()
		updates := map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       now,
			"version":          expectedVersion + 1,
		}
		if rec.Status == string(model.JobStatusPending) {
			updates["status"] = string(model.JobStatusCancelled)
			updates["completed_at"] = now
		}
		if err := tx.Model(&JobRecord{}).Where("id = ? AND version = ?", id, expectedVersion).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			return err
		}
		out = jobFromRecord(&rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FinalizeCancellation moves a PROCESSING job the worker observed as
// cancelled into the terminal CANCELLED state — distinct from
// FailTerminal: no error_message is recorded as a failure and the
// Failure Router never sees this transition, so no dead-letter row is
// ever written for it (spec §4.5/§8 scenario 6).
func (s *gormStore) FinalizeCancellation(ctx context.Context, id uuid.UUID, now time.Time, expectedVersion int64) (*model.Job, error) {
	res := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"status":       string(model.JobStatusCancelled),
			"completed_at": now,
			"assigned_to":  nil,
			"heartbeat_at": nil,
			"updated_at":   now,
			"version":      expectedVersion + 1,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.NewConflictError("finalize_cancellation: version mismatch")
	}
	return s.Get(ctx, id)
}

// FindStale returns PROCESSING jobs whose heartbeat_at is older than
// olderThan — candidates for the stale sweeper to reset, mirroring
// famstack's recovery-on-restart scan.
func (s *gormStore) FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.Job, error) {
	var recs []JobRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND heartbeat_at < ?", string(model.JobStatusProcessing), olderThan).
		Order("heartbeat_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return toJobs(recs), nil
}

func (s *gormStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var rec JobRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return jobFromRecord(&rec), nil
}

// ListByStatus returns one page of jobs in status, newest-created first.
func (s *gormStore) ListByStatus(ctx context.Context, status model.JobStatus, page, pageSize int) ([]*model.Job, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	var recs []JobRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return toJobs(recs), nil
}

// ListByCorrelation returns every job sharing correlationID.
func (s *gormStore) ListByCorrelation(ctx context.Context, correlationID string) ([]*model.Job, error) {
	var recs []JobRecord
	err := s.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return toJobs(recs), nil
}

func (s *gormStore) Stats(ctx context.Context, since time.Time) (model.QueueStats, error) {
	var stats model.QueueStats
	type row struct {
		Status string
		N       int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&JobRecord{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return stats, err
	}
	for _, r := range rows {
		switch model.JobStatus(r.Status) {
		case model.JobStatusPending:
			stats.Pending = r.N
		case model.JobStatusProcessing:
			stats.Processing = r.N
		case model.JobStatusCompleted:
			stats.Completed = r.N
		case model.JobStatusFailed:
			stats.Failed = r.N
		case model.JobStatusCancelled:
			stats.Cancelled = r.N
		}
	}
	// EXTRACT(EPOCH FROM ...) is Postgres syntax; sqlite (used in tests
	// and local/dev runs) computes the same elapsed seconds via
	// julianday() arithmetic instead.
	avgExpr := "COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))), 0)"
	if s.db.Dialector.Name() == "sqlite" {
		avgExpr = "COALESCE(AVG((julianday(completed_at) - julianday(started_at)) * 86400.0), 0)"
	}
	var avgSeconds float64
	err := s.db.WithContext(ctx).Model(&JobRecord{}).
		Where("status = ? AND completed_at IS NOT NULL AND started_at IS NOT NULL AND completed_at >= ?",
			string(model.JobStatusCompleted), since).
		Select(avgExpr).
		Scan(&avgSeconds).Error
	if err == nil {
		stats.AverageDuration = time.Duration(avgSeconds * float64(time.Second))
	}
	stats.Window = time.Since(since)
	return stats, nil
}

// OldestPending returns the created_at of the oldest PENDING job, or
// nil if the queue is empty of pending work.
func (s *gormStore) OldestPending(ctx context.Context) (*time.Time, error) {
	var rec JobRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", string(model.JobStatusPending)).
		Order("created_at ASC").
		Limit(1).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec.CreatedAt, nil
}

// Cleanup deletes COMPLETED and CANCELLED jobs whose completed_at is
// older than olderThan, per spec §9's retention sweep; FAILED jobs are
// kept. Returns the number of rows removed.
func (s *gormStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?", []string{
			string(model.JobStatusCompleted),
			string(model.JobStatusCancelled),
		}, olderThan).
		Delete(&JobRecord{})
	return res.RowsAffected, res.Error
}

func (s *gormStore) InsertDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	rec := &DeadLetterRecord{
		ID:            dl.ID,
		OriginalJobID: dl.OriginalJobID,
		JobType:       string(dl.JobType),
		FailedAt:      dl.FailedAt,
		FailureReason: dl.FailureReason,
		JobSnapshot:   dl.JobSnapshot,
		RetryAttempts: dl.RetryAttempts,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	*dl = *deadLetterFromRecord(rec)
	return nil
}

func (s *gormStore) GetDeadLetter(ctx context.Context, jobID uuid.UUID) (*model.DeadLetter, error) {
	var rec DeadLetterRecord
	if err := s.db.WithContext(ctx).Where("original_job_id = ?", jobID).First(&rec).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return deadLetterFromRecord(&rec), nil
}

func (s *gormStore) ResolveDeadLetter(ctx context.Context, id uuid.UUID, resolvedBy, notes string, now time.Time) (*model.DeadLetter, error) {
	res := s.db.WithContext(ctx).Model(&DeadLetterRecord{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":         true,
			"resolved_at":      now,
			"resolved_by":      resolvedBy,
			"resolution_notes": notes,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrJobNotFound
	}
	var rec DeadLetterRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return deadLetterFromRecord(&rec), nil
}

func (s *gormStore) ListUnresolvedDeadLetters(ctx context.Context, limit int) ([]*model.DeadLetter, error) {
	var recs []DeadLetterRecord
	if err := s.db.WithContext(ctx).Where("resolved = ?", false).Order("failed_at ASC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*model.DeadLetter, 0, len(recs))
	for i := range recs {
		out = append(out, deadLetterFromRecord(&recs[i]))
	}
	return out, nil
}

func (s *gormStore) UpsertTracker(ctx context.Context, t *model.ProcessTracker) error {
	rec := trackerRecordFromModel(t)
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return err
	}
	*t = *trackerFromRecord(rec)
	return nil
}

func (s *gormStore) GetTrackerByCorrelation(ctx context.Context, correlationID string) (*model.ProcessTracker, error) {
	var rec ProcessTrackerRecord
	if err := s.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&rec).Error; err != nil {
		return nil, translateNotFoundTracker(err)
	}
	return trackerFromRecord(&rec), nil
}

// ReconcileTracker atomically bumps processed_files or failed_files for
// the tracker matching correlationID and recomputes status, all inside
// one transaction so concurrent job completions never lose an update —
// spec §4.6 requires this to happen in the same transaction as the
// triggering job's terminal state change in a full implementation; here
// it is exposed as its own atomic step the service calls right after.
func (s *gormStore) ReconcileTracker(ctx context.Context, correlationID string, succeeded bool, now time.Time) (*model.ProcessTracker, error) {
	var out *model.ProcessTracker
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec ProcessTrackerRecord
		if err := tx.Where("correlation_id = ?", correlationID).First(&rec).Error; err != nil {
			return translateNotFoundTracker(err)
		}
		if succeeded {
			rec.ProcessedFiles++
		} else {
			rec.FailedFiles++
		}
		rec.UpdatedAt = now
		done := rec.ProcessedFiles+rec.FailedFiles >= rec.TotalFiles
		switch {
		case done && rec.FailedFiles == 0:
			rec.Status = string(model.TrackerStatusCompleted)
			rec.CompletedAt = &now
		case done:
			rec.Status = string(model.TrackerStatusFailed)
			rec.CompletedAt = &now
		default:
			rec.Status = string(model.TrackerStatusInProgress)
		}
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		out = trackerFromRecord(&rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toJobs(recs []JobRecord) []*model.Job {
	out := make([]*model.Job, 0, len(recs))
	for i := range recs {
		out = append(out, jobFromRecord(&recs[i]))
	}
	return out
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrJobNotFound
	}
	return err
}

func translateNotFoundTracker(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrTrackerNotFound
	}
	return err
}
