package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"geoplanner/internal/model"
	"geoplanner/internal/realtime"
	"geoplanner/internal/repository"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return db
}

func TestArchiveOldCompleted_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub()
	repo := repository.NewTaskRepository(setupDB(t), hub)

	now := time.Now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := todayStart.Add(-time.Millisecond)
	thisMorning := todayStart.Add(2 * time.Hour)

	old := &model.Task{Title: "old", Completed: true, CompletedAt: &yesterday}
	fresh := &model.Task{Title: "fresh", Completed: true, CompletedAt: &thisMorning}
	open := &model.Task{Title: "open"}
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Create(ctx, open))

	n, err := repo.ArchiveOldCompleted(ctx, todayStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Second run with the same boundary matches nothing.
	n, err = repo.ArchiveOldCompleted(ctx, todayStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	for _, task := range active {
		assert.NotEqual(t, "old", task.Title)
	}
}

func TestArchivedTaskStaysVisibleForStats(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTaskRepository(setupDB(t), realtime.NewHub())

	now := time.Now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	task := &model.Task{Title: "Buy milk"}
	require.NoError(t, repo.Create(ctx, task))

	// Not completed yet: archival must leave it active.
	_, err := repo.ArchiveOldCompleted(ctx, todayStart)
	require.NoError(t, err)
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	completedAt := todayStart.AddDate(0, 0, -1).Add(-time.Millisecond)
	require.NoError(t, repo.SetCompleted(ctx, task, true, completedAt))

	_, err = repo.ArchiveOldCompleted(ctx, todayStart)
	require.NoError(t, err)

	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	stats, err := repo.ListForStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.True(t, stats[0].Archived)
	assert.Equal(t, "Buy milk", stats[0].Title)
}

func TestSetCompletedKeepsTimestampInvariant(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTaskRepository(setupDB(t), realtime.NewHub())

	task := &model.Task{Title: "invariant"}
	require.NoError(t, repo.Create(ctx, task))

	done := time.Now()
	require.NoError(t, repo.SetCompleted(ctx, task, true, done))
	got, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, repo.SetCompleted(ctx, got, false, time.Now()))
	got, err = repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
	assert.Nil(t, got.CompletedAt)
}

func TestClearCategoryLeavesTasksAlive(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	hub := realtime.NewHub()
	tasks := repository.NewTaskRepository(db, hub)
	categories := repository.NewCategoryRepository(db, hub)

	category := &model.Category{Name: "Chores"}
	require.NoError(t, categories.Create(ctx, category))
	task := &model.Task{Title: "laundry", CategoryID: &category.ID}
	require.NoError(t, tasks.Create(ctx, task))

	require.NoError(t, tasks.ClearCategory(ctx, category.ID))
	require.NoError(t, categories.Delete(ctx, category.ID))

	got, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)
}

func TestFindByRemote(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTaskRepository(setupDB(t), realtime.NewHub())

	mirror := &model.Task{
		Title:             "shared",
		FromCollaboration: true,
		ProjectID:         "p1",
		RemoteID:          "r1",
	}
	require.NoError(t, repo.Create(ctx, mirror))

	got, err := repo.FindByRemote(ctx, "p1", "r1")
	require.NoError(t, err)
	assert.Equal(t, mirror.ID, got.ID)

	_, err = repo.FindByRemote(ctx, "p1", "missing")
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
}

func TestHubNotifiesOnWrite(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub()
	repo := repository.NewTaskRepository(setupDB(t), hub)

	changes, cancel := hub.Subscribe(realtime.TopicTasks)
	defer cancel()

	require.NoError(t, repo.Create(ctx, &model.Task{Title: "ping"}))

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("no change notification after create")
	}
}
