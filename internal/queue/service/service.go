// Package service implements the Queue Service from spec §4.2: the
// producer/consumer-facing API layered over the Store. Enqueue validates
// and normalizes input, ClaimNext applies the oversample-then-race claim
// strategy, and the Mark* methods are thin pass-throughs that also
// reconcile the ProcessTracker when a job carries a correlation id
// (metadata.tracker_id is not consulted).
package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/talentqueue/jobqueue/internal/logger"
	"github.com/talentqueue/jobqueue/internal/queue/failure"
	"github.com/talentqueue/jobqueue/internal/queue/metrics"
	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/store"
)

// EnqueueSpec is the producer-facing request to add a job. JobType and
// Payload are required; Priority/MaxRetries/ScheduledFor/CorrelationID
// are optional and take spec-mandated defaults.
type EnqueueSpec struct {
	JobType       model.JobType `validate:"required"`
	Payload       []byte        `validate:"required"`
	CorrelationID *string
	Priority      *int
	MaxRetries    *int
	ScheduledFor  *time.Time
	Metadata      model.JSONMap
}

var validate = validator.New()

// Service is the Queue Service contract spec §4.2 names.
type Service interface {
	Enqueue(ctx context.Context, spec EnqueueSpec) (*model.Job, error)
	EnqueueBatch(ctx context.Context, specs []EnqueueSpec) ([]*model.Job, error)
	ClaimNext(ctx context.Context, workerID string, batchSize int) ([]*model.Job, error)
	UpdateHeartbeat(ctx context.Context, job *model.Job) error
	Heartbeat(ctx context.Context, id uuid.UUID, expectedVersion int64) (*model.Job, error)
	MarkCompleted(ctx context.Context, job *model.Job, resultMetadata model.JSONMap) error
	MarkFailed(ctx context.Context, job *model.Job, reason, detail string, nextRun *time.Time) error
	MarkCancelled(ctx context.Context, job *model.Job) error
	Release(ctx context.Context, job *model.Job) error
	Cancel(ctx context.Context, id uuid.UUID) error
	ResetStale(ctx context.Context, olderThan time.Duration) (int, error)
	Stats(ctx context.Context, window time.Duration) (model.QueueStats, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ListByStatus(ctx context.Context, status model.JobStatus, page, pageSize int) ([]*model.Job, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]*model.Job, error)
	Cleanup(ctx context.Context, daysToKeep int) (int64, error)
	Health(ctx context.Context, schedulerRunning bool, lastPollAt *time.Time) (model.HealthStatus, error)
}

type service struct {
	store           store.Store
	log             *logger.Logger
	claimOversample int
	router          *failure.Router
	metrics         *metrics.Collector
}

// New wires a Service over st. claimOversample is the factor k applied
// to batch size in ClaimNext (spec §4.2); Default() sets it to 2.
// router is used by ResetStale so a worker-lost job is classified and,
// if its retry budget is exhausted, dead-lettered the same way a
// processor-reported failure is (spec §4.2/§7). coll is optional — pass
// nil to skip metrics (e.g. in tests that don't assert on them).
func New(st store.Store, log *logger.Logger, claimOversample int, router *failure.Router, coll *metrics.Collector) Service {
	if claimOversample < 1 {
		claimOversample = 1
	}
	return &service{store: st, log: log, claimOversample: claimOversample, router: router, metrics: coll}
}

func (s *service) Enqueue(ctx context.Context, spec EnqueueSpec) (*model.Job, error) {
	if err := validate.Struct(spec); err != nil {
		return nil, model.NewValidationError(err.Error())
	}
	now := time.Now().UTC()
	job := &model.Job{
		ID:            uuid.New(),
		JobType:       spec.JobType,
		CorrelationID: spec.CorrelationID,
		Status:        model.JobStatusPending,
		Priority:      model.ClampPriority(deref(spec.Priority, 0)),
		PayloadBlob:   spec.Payload,
		Metadata:      spec.Metadata,
		MaxRetries:    deref(spec.MaxRetries, model.DefaultMaxRetries),
		CreatedAt:     now,
		ScheduledFor:  derefTime(spec.ScheduledFor, now),
		UpdatedAt:     now,
		Version:       0,
	}
	if job.Metadata == nil {
		job.Metadata = model.JSONMap{}
	}
	if err := s.store.Insert(ctx, job); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.JobsEnqueued.WithLabelValues(string(job.JobType)).Inc()
	}
	s.log.Infow("job enqueued", "job_id", job.ID, "job_type", job.JobType, "priority", job.Priority)
	return job, nil
}

func (s *service) EnqueueBatch(ctx context.Context, specs []EnqueueSpec) ([]*model.Job, error) {
	jobs := make([]*model.Job, 0, len(specs))
	for _, spec := range specs {
		job, err := s.Enqueue(ctx, spec)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ClaimNext pulls up to claimOversample*batchSize due jobs and races to
// claim each until batchSize have been won, matching spec §4.2's
// guidance that FindDue is lock-free and Claim is where contention is
// resolved — any job lost to another worker is simply skipped.
func (s *service) ClaimNext(ctx context.Context, workerID string, batchSize int) ([]*model.Job, error) {
	candidates, err := s.store.FindDue(ctx, time.Now().UTC(), batchSize*s.claimOversample)
	if err != nil {
		return nil, err
	}
	claimed := make([]*model.Job, 0, batchSize)
	for _, c := range candidates {
		if len(claimed) >= batchSize {
			break
		}
		job, err := s.store.Claim(ctx, c.ID, workerID, time.Now().UTC(), c.Version)
		if err != nil {
			if model.IsConflict(err) {
				continue
			}
			return claimed, err
		}
		if s.metrics != nil {
			s.metrics.JobsClaimed.WithLabelValues(string(job.JobType)).Inc()
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (s *service) UpdateHeartbeat(ctx context.Context, job *model.Job) error {
	updated, err := s.store.Heartbeat(ctx, job.ID, time.Now().UTC(), job.Version)
	if err != nil {
		return err
	}
	*job = *updated
	return nil
}

// Heartbeat refreshes the liveness stamp for id at expectedVersion and
// returns the resulting row, without mutating any caller-owned *model.Job
// — used by the scheduler so a concurrently-running processor never
// races on the same struct the heartbeat goroutine touches.
func (s *service) Heartbeat(ctx context.Context, id uuid.UUID, expectedVersion int64) (*model.Job, error) {
	return s.store.Heartbeat(ctx, id, time.Now().UTC(), expectedVersion)
}

func (s *service) MarkCompleted(ctx context.Context, job *model.Job, resultMetadata model.JSONMap) error {
	updated, err := s.store.Complete(ctx, job.ID, time.Now().UTC(), resultMetadata, job.Version)
	if err != nil {
		return err
	}
	*job = *updated
	s.reconcileTracker(ctx, job, true)
	return nil
}

func (s *service) MarkFailed(ctx context.Context, job *model.Job, reason, detail string, nextRun *time.Time) error {
	var updated *model.Job
	var err error
	now := time.Now().UTC()
	if nextRun != nil && job.RetryCount < job.MaxRetries {
		updated, err = s.store.Retry(ctx, job.ID, *nextRun, reason, detail, job.Version)
	} else {
		updated, err = s.store.FailTerminal(ctx, job.ID, now, reason, detail, job.Version)
	}
	if err != nil {
		return err
	}
	*job = *updated
	if job.Status.IsTerminal() {
		s.reconcileTracker(ctx, job, false)
	}
	return nil
}

// MarkCancelled finalizes a job the worker observed as cooperatively
// cancelled mid-flight. Per spec §9's open-question resolution,
// cancellation never counts against a tracker's failed_files — the
// tracker is left untouched rather than reconciled.
func (s *service) MarkCancelled(ctx context.Context, job *model.Job) error {
	updated, err := s.store.FinalizeCancellation(ctx, job.ID, time.Now().UTC(), job.Version)
	if err != nil {
		return err
	}
	*job = *updated
	return nil
}

// Release returns a claimed-but-undispatched job to PENDING without
// charging it against its retry budget (spec §4.4: backpressure from a
// full worker pool is not a failed attempt).
func (s *service) Release(ctx context.Context, job *model.Job) error {
	updated, err := s.store.Release(ctx, job.ID, job.Version)
	if err != nil {
		return err
	}
	*job = *updated
	return nil
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.store.Cancel(ctx, id, job.Version)
	return err
}

// ResetStale finds PROCESSING jobs whose heartbeat has gone silent for
// longer than olderThan and routes each through the Failure Router, the
// same path a processor-reported failure takes (spec §4.2/§7): a job
// still within its retry budget goes back to PENDING with retry_count
// incremented, one whose budget is exhausted goes terminal and is
// archived to the dead-letter table. Without the Router, a stale job
// already at max_retries would be reset to PENDING forever instead of
// ever reaching a terminal state.
func (s *service) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.store.FindStale(ctx, time.Now().UTC().Add(-olderThan), 100)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, job := range stale {
		outcome := model.Failure("worker_heartbeat_lost", "worker heartbeat lost", true)
		nextRun, routeErr := s.router.Route(ctx, job, outcome)
		if routeErr != nil {
			s.log.Errorw("stale failure routing error", "job_id", job.ID, "error", routeErr)
		}
		if err := s.MarkFailed(ctx, job, outcome.Reason, outcome.Detail, nextRun); err != nil {
			if model.IsConflict(err) {
				continue
			}
			return reset, err
		}
		reset++
		if nextRun != nil {
			s.log.Warnw("reset stale job", "job_id", job.ID, "job_type", job.JobType)
		} else {
			s.log.Warnw("stale job exhausted retry budget, dead-lettered", "job_id", job.ID, "job_type", job.JobType)
		}
	}
	return reset, nil
}

func (s *service) Stats(ctx context.Context, window time.Duration) (model.QueueStats, error) {
	stats, err := s.store.Stats(ctx, time.Now().UTC().Add(-window))
	if err != nil {
		return stats, err
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.WithLabelValues(string(model.JobStatusPending)).Set(float64(stats.Pending))
		s.metrics.QueueDepth.WithLabelValues(string(model.JobStatusProcessing)).Set(float64(stats.Processing))
		s.metrics.QueueDepth.WithLabelValues(string(model.JobStatusCompleted)).Set(float64(stats.Completed))
		s.metrics.QueueDepth.WithLabelValues(string(model.JobStatusFailed)).Set(float64(stats.Failed))
		s.metrics.QueueDepth.WithLabelValues(string(model.JobStatusCancelled)).Set(float64(stats.Cancelled))
	}
	return stats, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return s.store.Get(ctx, id)
}

func (s *service) ListByStatus(ctx context.Context, status model.JobStatus, page, pageSize int) ([]*model.Job, error) {
	return s.store.ListByStatus(ctx, status, page, pageSize)
}

func (s *service) ListByCorrelation(ctx context.Context, correlationID string) ([]*model.Job, error) {
	return s.store.ListByCorrelation(ctx, correlationID)
}

func (s *service) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	return s.store.Cleanup(ctx, time.Now().UTC().AddDate(0, 0, -daysToKeep))
}

func (s *service) Health(ctx context.Context, schedulerRunning bool, lastPollAt *time.Time) (model.HealthStatus, error) {
	stats, err := s.store.Stats(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		return model.HealthStatus{}, err
	}
	status := model.HealthStatus{
		SchedulerRunning: schedulerRunning,
		Pending:          stats.Pending,
		Processing:       stats.Processing,
		LastPollAt:       lastPollAt,
	}
	oldest, err := s.store.OldestPending(ctx)
	if err != nil {
		return model.HealthStatus{}, err
	}
	if oldest != nil {
		status.OldestPendingAge = time.Since(*oldest)
	}
	return status, nil
}

func (s *service) reconcileTracker(ctx context.Context, job *model.Job, succeeded bool) {
	if job.CorrelationID == nil {
		return
	}
	if _, err := s.store.ReconcileTracker(ctx, *job.CorrelationID, succeeded, time.Now().UTC()); err != nil {
		s.log.Errorw("tracker reconciliation failed", "job_id", job.ID, "error", err)
	}
}

func deref(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func derefTime(p *time.Time, def time.Time) time.Time {
	if p == nil {
		return def
	}
	return *p
}
