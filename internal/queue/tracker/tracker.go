// Package tracker owns creation of the per-batch ProcessTracker mirror
// (spec §4.6). Reconciliation itself (atomic increment + status
// recompute) lives in the store as a single transaction; this package is
// the producer-facing entry point that creates the tracker row a batch
// of jobs will report into.
package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/store"
)

type Tracker struct {
	store store.Store
}

func New(st store.Store) *Tracker {
	return &Tracker{store: st}
}

// StartBatch creates an INITIATED tracker for correlationID expecting
// totalFiles job completions/failures to report in before it resolves.
func (t *Tracker) StartBatch(ctx context.Context, correlationID string, totalFiles int) (*model.ProcessTracker, error) {
	now := time.Now().UTC()
	tr := &model.ProcessTracker{
		ID:            uuid.New(),
		CorrelationID: &correlationID,
		Status:        model.TrackerStatusInitiated,
		TotalFiles:    totalFiles,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := t.store.UpsertTracker(ctx, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// Get returns the tracker for correlationID, or model.ErrTrackerNotFound.
func (t *Tracker) Get(ctx context.Context, correlationID string) (*model.ProcessTracker, error) {
	return t.store.GetTrackerByCorrelation(ctx, correlationID)
}
