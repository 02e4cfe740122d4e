package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/store"
)

// newTestStore opens a private named in-memory sqlite database unique to
// this test so parallel/sequential tests in the same binary never share
// rows through sqlite's shared-cache namespace.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.JobRecord{}, &store.DeadLetterRecord{}, &store.ProcessTrackerRecord{}))
	return store.New(db)
}

func newJob(jobType model.JobType) *model.Job {
	now := time.Now().UTC()
	return &model.Job{
		ID:           uuid.New(),
		JobType:      jobType,
		Status:       model.JobStatusPending,
		Priority:     model.ClampPriority(0),
		PayloadBlob:  []byte(`{}`),
		Metadata:     model.JSONMap{},
		MaxRetries:   3,
		CreatedAt:    now,
		ScheduledFor: now,
		UpdatedAt:    now,
	}
}

func TestInsertAndFindDue(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, job))
	assert.Equal(t, int64(0), job.Version)

	due, err := st.FindDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, job.ID, due[0].ID)
}

func TestFindDueOrdersByPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	low := newJob("RESUME_PROCESSING")
	low.Priority = 10
	low.CreatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.Insert(ctx, low))

	high := newJob("RESUME_PROCESSING")
	high.Priority = 90
	require.NoError(t, st.Insert(ctx, high))

	due, err := st.FindDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, high.ID, due[0].ID, "higher priority job should be claimed first")
}

func TestFindDueExcludesFutureScheduledJobs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	job.ScheduledFor = time.Now().UTC().Add(time.Hour)
	require.NoError(t, st.Insert(ctx, job))

	due, err := st.FindDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, job))

	claimed, err := st.Claim(ctx, job.ID, "worker-1", time.Now().UTC(), job.Version)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, claimed.Status)
	assert.Equal(t, "worker-1", *claimed.AssignedTo)

	_, err = st.Claim(ctx, job.ID, "worker-2", time.Now().UTC(), job.Version)
	assert.True(t, model.IsConflict(err), "second claim at stale version must conflict")
}

func TestHeartbeatBumpsVersion(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, job))
	claimed, err := st.Claim(ctx, job.ID, "worker-1", time.Now().UTC(), job.Version)
	require.NoError(t, err)

	beat, err := st.Heartbeat(ctx, claimed.ID, time.Now().UTC(), claimed.Version)
	require.NoError(t, err)
	assert.Greater(t, beat.Version, claimed.Version)
	assert.NotNil(t, beat.HeartbeatAt)
}

func TestCompleteMergesMetadata(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	job.Metadata = model.JSONMap{"tenant_id": "t-1"}
	require.NoError(t, st.Insert(ctx, job))
	claimed, err := st.Claim(ctx, job.ID, "worker-1", time.Now().UTC(), job.Version)
	require.NoError(t, err)

	done, err := st.Complete(ctx, claimed.ID, time.Now().UTC(), model.JSONMap{"extracted_fields": "ok"}, claimed.Version)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, "t-1", done.Metadata["tenant_id"])
	assert.Equal(t, "ok", done.Metadata["extracted_fields"])
	assert.NotNil(t, done.CompletedAt)
}

func TestRetryReschedulesAndBumpsRetryCount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, job))
	claimed, err := st.Claim(ctx, job.ID, "worker-1", time.Now().UTC(), job.Version)
	require.NoError(t, err)

	nextRun := time.Now().UTC().Add(5 * time.Minute)
	retried, err := st.Retry(ctx, claimed.ID, nextRun, "transient", "timeout", claimed.Version)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Nil(t, retried.AssignedTo)
	assert.Nil(t, retried.HeartbeatAt)
}

func TestReleaseResetsToPendingWithoutBumpingRetryCount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, job))
	claimed, err := st.Claim(ctx, job.ID, "worker-1", time.Now().UTC(), job.Version)
	require.NoError(t, err)

	released, err := st.Release(ctx, claimed.ID, claimed.Version)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, released.Status)
	assert.Equal(t, 0, released.RetryCount)
	assert.Nil(t, released.AssignedTo)
	assert.Nil(t, released.HeartbeatAt)
}

func TestCancelPendingJobIsImmediate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, job))

	cancelled, err := st.Cancel(ctx, job.ID, job.Version)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, cancelled.Status)
	assert.True(t, cancelled.Cancelled)
}

func TestCancelInFlightJobOnlySetsFlag(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, job))
	claimed, err := st.Claim(ctx, job.ID, "worker-1", time.Now().UTC(), job.Version)
	require.NoError(t, err)

	cancelled, err := st.Cancel(ctx, claimed.ID, claimed.Version)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, cancelled.Status, "in-flight job stays PROCESSING until the worker observes the flag")
	assert.True(t, cancelled.Cancelled)
}

func TestFinalizeCancellationMovesProcessingJobToCancelled(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, job))
	claimed, err := st.Claim(ctx, job.ID, "worker-1", time.Now().UTC(), job.Version)
	require.NoError(t, err)

	marked, err := st.Cancel(ctx, claimed.ID, claimed.Version)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusProcessing, marked.Status)

	finalized, err := st.FinalizeCancellation(ctx, marked.ID, time.Now().UTC(), marked.Version)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, finalized.Status)
	assert.NotNil(t, finalized.CompletedAt)
	assert.Nil(t, finalized.AssignedTo)
	assert.Nil(t, finalized.HeartbeatAt)
}

func TestFindStale(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, job))
	claimed, err := st.Claim(ctx, job.ID, "worker-1", time.Now().UTC().Add(-time.Hour), job.Version)
	require.NoError(t, err)

	stale, err := st.FindStale(ctx, time.Now().UTC().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, claimed.ID, stale[0].ID)
}

func TestDeadLetterArchiveAndResolve(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	dl := &model.DeadLetter{
		ID:            uuid.New(),
		OriginalJobID: uuid.New(),
		JobType:       "RESUME_PROCESSING",
		FailedAt:      time.Now().UTC(),
		FailureReason: "parse_failed",
		JobSnapshot:   model.JSONMap{"payload_blob": "e30="},
		RetryAttempts: 3,
	}
	require.NoError(t, st.InsertDeadLetter(ctx, dl))

	fetched, err := st.GetDeadLetter(ctx, dl.OriginalJobID)
	require.NoError(t, err)
	assert.False(t, fetched.Resolved)

	resolved, err := st.ResolveDeadLetter(ctx, dl.ID, "ops@talentqueue", "reprocessed manually", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "ops@talentqueue", *resolved.ResolvedBy)
}

func TestTrackerReconcileCompletesWhenAllFilesReport(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	correlationID := "batch-1"
	tr := &model.ProcessTracker{
		ID:            uuid.New(),
		CorrelationID: &correlationID,
		Status:        model.TrackerStatusInitiated,
		TotalFiles:    2,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.UpsertTracker(ctx, tr))

	_, err := st.ReconcileTracker(ctx, correlationID, true, time.Now().UTC())
	require.NoError(t, err)

	final, err := st.ReconcileTracker(ctx, correlationID, true, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, model.TrackerStatusCompleted, final.Status)
	assert.Equal(t, 2, final.ProcessedFiles)
	assert.NotNil(t, final.CompletedAt)
}

func TestTrackerReconcileFailsWhenAnyFileFails(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	correlationID := "batch-2"
	tr := &model.ProcessTracker{
		ID:            uuid.New(),
		CorrelationID: &correlationID,
		Status:        model.TrackerStatusInitiated,
		TotalFiles:    2,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.UpsertTracker(ctx, tr))

	_, err := st.ReconcileTracker(ctx, correlationID, true, time.Now().UTC())
	require.NoError(t, err)
	final, err := st.ReconcileTracker(ctx, correlationID, false, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, model.TrackerStatusFailed, final.Status)
}

func TestGetUnknownJobReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, err := st.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestCleanupDeletesOnlyTerminalJobsPastRetention(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	old := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, old))
	claimed, err := st.Claim(ctx, old.ID, "worker-1", time.Now().UTC(), old.Version)
	require.NoError(t, err)
	done, err := st.Complete(ctx, claimed.ID, time.Now().UTC().AddDate(0, 0, -40), model.JSONMap{}, claimed.Version)
	require.NoError(t, err)
	_ = done

	fresh := newJob("RESUME_PROCESSING")
	require.NoError(t, st.Insert(ctx, fresh))

	n, err := st.Cleanup(ctx, time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.Get(ctx, fresh.ID)
	assert.NoError(t, err, "fresh pending job must survive cleanup")
}
