package failure_test

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

	"github.com/talentqueue/jobqueue/internal/logger"
	"github.com/talentqueue/jobqueue/internal/queue/failure"
	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.JobRecord{}, &store.DeadLetterRecord{}, &store.ProcessTrackerRecord{}))
	return store.New(db)
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	r := failure.NewRouter(nil, logger.NewNop(), time.Second, 10*time.Second, 0)
	assert.Equal(t, time.Second, r.NextBackoff(0))
	assert.Equal(t, 2*time.Second, r.NextBackoff(1))
	assert.Equal(t, 4*time.Second, r.NextBackoff(2))
	assert.Equal(t, 10*time.Second, r.NextBackoff(10), "backoff must not exceed the cap")
}

func TestRouteRetriesWithinBudget(t *testing.T) {
	st := newTestStore(t)
	r := failure.NewRouter(st, logger.NewNop(), time.Minute, time.Hour, 0)

	job := &model.Job{ID: uuid.New(), JobType: "RESUME_PROCESSING", RetryCount: 0, MaxRetries: 3}
	next, err := r.Route(context.Background(), job, model.Failure("transient", "timeout", true))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now().UTC()))
}

func TestRouteArchivesWhenRetriesExhausted(t *testing.T) {
	st := newTestStore(t)
	r := failure.NewRouter(st, logger.NewNop(), time.Minute, time.Hour, 0)

	jobID := uuid.New()
	job := &model.Job{
		ID: jobID, JobType: "RESUME_PROCESSING", RetryCount: 3, MaxRetries: 3,
		Metadata: model.JSONMap{"tenant_id": "t-1"}, PayloadBlob: []byte(`{"file_name":"a.pdf"}`),
	}
	next, err := r.Route(context.Background(), job, model.Failure("parse_failed", "bad pdf", true))
	require.NoError(t, err)
	assert.Nil(t, next, "retries exhausted must be a terminal disposition")

	dl, err := st.GetDeadLetter(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "parse_failed", dl.FailureReason)
	assert.Equal(t, 3, dl.RetryAttempts)
}

func TestRouteArchivesNonRetryableImmediately(t *testing.T) {
	st := newTestStore(t)
	r := failure.NewRouter(st, logger.NewNop(), time.Minute, time.Hour, 0)

	jobID := uuid.New()
	job := &model.Job{ID: jobID, JobType: "RESUME_PROCESSING", RetryCount: 0, MaxRetries: 3}
	next, err := r.Route(context.Background(), job, model.Failure("invalid_payload", "malformed json", false))
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = st.GetDeadLetter(context.Background(), jobID)
	assert.NoError(t, err)
}
