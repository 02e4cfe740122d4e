package tracker_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/store"
	"github.com/talentqueue/jobqueue/internal/queue/tracker"
)

func newTestTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.JobRecord{}, &store.DeadLetterRecord{}, &store.ProcessTrackerRecord{}))
	return tracker.New(store.New(db))
}

func TestStartBatchCreatesInitiatedTracker(t *testing.T) {
	tr := newTestTracker(t)
	created, err := tr.StartBatch(context.Background(), "batch-1", 3)
	require.NoError(t, err)
	assert.Equal(t, model.TrackerStatusInitiated, created.Status)
	assert.Equal(t, 3, created.TotalFiles)
	assert.Equal(t, 0, created.ProcessedFiles)
}

func TestGetUnknownCorrelationReturnsNotFound(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, model.ErrTrackerNotFound)
}

func TestGetReturnsCreatedTracker(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.StartBatch(context.Background(), "batch-2", 5)
	require.NoError(t, err)

	fetched, err := tr.Get(context.Background(), "batch-2")
	require.NoError(t, err)
	assert.Equal(t, 5, fetched.TotalFiles)
}
