package failure

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	cron "github.com/robfig/cron/v3"

	"github.com/talentqueue/jobqueue/internal/logger"
	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/store"
)

// Replayer periodically re-enqueues unresolved dead letters as fresh
// PENDING jobs, for the operator-driven "retry this whole batch" flow
// (SPEC_FULL §9.2). It reuses robfig/cron the way the teacher's
// SchedulerImpl does for its own periodic jobs, repointed at this
// narrower job.
type Replayer struct {
	store    store.Store
	log      *logger.Logger
	cron     *cron.Cron
	schedule string
	limit    int
}

// NewReplayer builds a Replayer that runs on schedule (standard 5-field
// cron syntax) and re-enqueues at most limit dead letters per run.
func NewReplayer(st store.Store, log *logger.Logger, schedule string, limit int) *Replayer {
	return &Replayer{
		store:    st,
		log:      log,
		cron:     cron.New(),
		schedule: schedule,
		limit:    limit,
	}
}

func (r *Replayer) Start() error {
	_, err := r.cron.AddFunc(r.schedule, r.runOnce)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Replayer) Stop() {
	r.cron.Stop()
}

func (r *Replayer) runOnce() {
	ctx := context.Background()
	letters, err := r.store.ListUnresolvedDeadLetters(ctx, r.limit)
	if err != nil {
		r.log.Errorw("dead-letter replay: list failed", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, dl := range letters {
		job := &model.Job{
			ID:           uuid.New(),
			JobType:      dl.JobType,
			Status:       model.JobStatusPending,
			PayloadBlob:  decodePayload(dl.JobSnapshot),
			Metadata:     model.JSONMap{"replayed_from_dead_letter": dl.ID.String()},
			MaxRetries:   model.DefaultMaxRetries,
			CreatedAt:    now,
			ScheduledFor: now,
			UpdatedAt:    now,
		}
		if err := r.store.Insert(ctx, job); err != nil {
			r.log.Errorw("dead-letter replay: re-enqueue failed", "dead_letter_id", dl.ID, "error", err)
			continue
		}
		r.log.Infow("dead-letter replayed", "dead_letter_id", dl.ID, "new_job_id", job.ID)
	}
}

func decodePayload(snapshot model.JSONMap) []byte {
	raw, ok := snapshot["payload_blob"].(string)
	if !ok {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	return decoded
}
