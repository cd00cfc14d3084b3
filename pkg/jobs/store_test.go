package jobs

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&RefreshJob{}))
	return db
}

func newTestJob(partner string) *RefreshJob {
	return &RefreshJob{
		Partner:        partner,
		RequestedBy:    "test-user",
		RequestedAt:    time.Now(),
		State:          JobStateQueued,
		IdempotencyKey: "refresh:" + partner,
	}
}

func TestEnqueueCreatesJob(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	created, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, JobStateQueued, created.State)
	assert.Equal(t, "edx", created.Partner)
}

func TestEnqueueRequiresPartner(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	_, err := store.Enqueue(&RefreshJob{RequestedBy: "test-user"})
	require.Error(t, err)
}

func TestEnqueueIdempotencyReturnsDuplicate(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	first, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)

	second, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnqueueIdempotencyAllowsNewAfterTerminal(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	first, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	require.NoError(t, store.Complete(first.ID, 100))

	second, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, JobStateQueued, second.State)
}

func TestClaimTransitionsToRunning(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	queued, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)

	claimed, err := store.Claim(3)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, queued.ID, claimed.ID)
	assert.Equal(t, JobStateRunning, claimed.State)
	assert.Equal(t, 1, claimed.AttemptCount)
	assert.NotNil(t, claimed.StartedAt)
}

func TestClaimReturnsNilWhenEmpty(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	claimed, err := store.Claim(3)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimOrdersByRequestedAt(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	older := newTestJob("edx")
	older.RequestedAt = time.Now().Add(-time.Hour)
	_, err := store.Enqueue(older)
	require.NoError(t, err)

	newer := newTestJob("mitx")
	_, err = store.Enqueue(newer)
	require.NoError(t, err)

	claimed, err := store.Claim(3)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
}

func TestCompleteMarksSucceeded(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	job, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	_, err = store.Claim(3)
	require.NoError(t, err)

	require.NoError(t, store.Complete(job.ID, 1234))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateSucceeded, got.State)
	assert.Equal(t, int64(1234), got.DurationMs)
	assert.NotNil(t, got.FinishedAt)
}

func TestFailRequeuesWithinRetries(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	job, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	_, err = store.Claim(3)
	require.NoError(t, err)

	require.NoError(t, store.Fail(job.ID, "upstream unavailable", 3))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
	assert.Equal(t, "upstream unavailable", got.LastError)
	assert.Nil(t, got.StartedAt)
}

func TestFailMarksFailedAfterMaxRetries(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	job, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	_, err = store.Claim(3)
	require.NoError(t, err)

	require.NoError(t, store.Fail(job.ID, "upstream unavailable", 1))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, got.State)
	assert.Contains(t, got.Message, "Max retries exceeded")
}

func TestCancelOnlyQueuedJobs(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	job, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	require.NoError(t, store.Cancel(job.ID))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateCanceled, got.State)

	running, err := store.Enqueue(newTestJob("mitx"))
	require.NoError(t, err)
	_, err = store.Claim(3)
	require.NoError(t, err)
	require.Error(t, store.Cancel(running.ID))
}

func TestListFiltersAndPaginates(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	for i := 0; i < 3; i++ {
		job := newTestJob("edx")
		job.IdempotencyKey = fmt.Sprintf("refresh:edx:%d", i)
		job.RequestedAt = time.Now().Add(time.Duration(-i) * time.Minute)
		_, err := store.Enqueue(job)
		require.NoError(t, err)
	}
	_, err := store.Enqueue(newTestJob("mitx"))
	require.NoError(t, err)

	records, nextToken, total, err := store.List(JobListFilter{Partner: "edx"}, 2, "")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.NotEmpty(t, nextToken)
	assert.Equal(t, 3, total)

	rest, _, _, err := store.List(JobListFilter{Partner: "edx"}, 2, nextToken)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestCleanupStuckJobsRequeues(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	job, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	_, err = store.Claim(3)
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&RefreshJob{}).Where("id = ?", job.ID).
		Update("started_at", stale).Error)

	recovered, err := store.CleanupStuckJobs(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
}

func TestDeleteOlderThanRemovesTerminal(t *testing.T) {
	db := setupTestDB(t)
	store := NewJobStore(db)

	job, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	_, err = store.Claim(3)
	require.NoError(t, err)
	require.NoError(t, store.Complete(job.ID, 10))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&RefreshJob{}).Where("id = ?", job.ID).
		Update("finished_at", old).Error)

	deleted, err := store.DeleteOlderThan(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
