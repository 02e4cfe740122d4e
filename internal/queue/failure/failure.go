// Package failure is the Failure Router from spec §4.5: classifies a
// processor outcome as retryable or terminal, computes the next backoff
// window, and archives exhausted/terminal jobs to the dead-letter table.
// Backoff doubling is grounded on famstack's dbWorker.calculateBackoff
// (1<<retryCount * base, capped); jitter is added on top so a burst of
// jobs failing together doesn't retry in lockstep.
package failure

import (
	"context"
	"encoding/base64"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/talentqueue/jobqueue/internal/logger"
	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/store"
)

// Router decides what happens to a job after its processor reports a
// failed ProcessorOutcome.
type Router struct {
	store         store.Store
	log           *logger.Logger
	backoffBase   time.Duration
	backoffCap    time.Duration
	backoffJitter time.Duration
}

func NewRouter(st store.Store, log *logger.Logger, backoffBase, backoffCap, backoffJitter time.Duration) *Router {
	return &Router{store: st, log: log, backoffBase: backoffBase, backoffCap: backoffCap, backoffJitter: backoffJitter}
}

// NextBackoff returns the delay before retryCount's next attempt:
// backoffBase * 2^retryCount, capped at backoffCap, plus up to
// backoffJitter of uniform random jitter.
func (r *Router) NextBackoff(retryCount int) time.Duration {
	backoff := r.backoffBase * time.Duration(1<<uint(retryCount))
	if backoff > r.backoffCap || backoff <= 0 {
		backoff = r.backoffCap
	}
	if r.backoffJitter > 0 {
		backoff += time.Duration(rand.Int63n(int64(r.backoffJitter)))
	}
	return backoff
}

// Route applies outcome to job: not-retryable or retries-exhausted goes
// terminal and is archived to the dead-letter table; otherwise the job
// is rescheduled with exponential backoff. Returns the next_run time
// used for a retry, or nil for a terminal disposition. The worker
// harness never routes a model.ReasonCancelled outcome here — that
// disposition is finalized directly via Service.MarkCancelled so
// cancelled jobs are never dead-lettered (spec §4.5, §8 scenario 6).
func (r *Router) Route(ctx context.Context, job *model.Job, outcome model.ProcessorOutcome) (*time.Time, error) {
	if !outcome.Retryable || job.RetryCount >= job.MaxRetries {
		if err := r.archive(ctx, job, outcome); err != nil {
			r.log.Errorw("dead-letter archival failed", "job_id", job.ID, "error", err)
		}
		return nil, nil
	}
	next := time.Now().UTC().Add(r.NextBackoff(job.RetryCount))
	return &next, nil
}

func (r *Router) archive(ctx context.Context, job *model.Job, outcome model.ProcessorOutcome) error {
	snapshot := model.JSONMap{
		"job_type":     string(job.JobType),
		"priority":     job.Priority,
		"retry_count":  job.RetryCount,
		"max_retries":  job.MaxRetries,
		"metadata":     map[string]interface{}(job.Metadata),
		"payload_blob": base64.StdEncoding.EncodeToString(job.PayloadBlob),
	}
	dl := &model.DeadLetter{
		ID:            uuid.New(),
		OriginalJobID: job.ID,
		JobType:       job.JobType,
		FailedAt:      time.Now().UTC(),
		FailureReason: outcome.Reason,
		JobSnapshot:   snapshot,
		RetryAttempts: job.RetryCount,
	}
	return r.store.InsertDeadLetter(ctx, dl)
}
