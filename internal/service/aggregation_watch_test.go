package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"geoplanner/internal/model"
	"geoplanner/internal/realtime"
	"geoplanner/internal/repository"
	"geoplanner/internal/service"
	"geoplanner/internal/worker"
)

func newAggregation(t *testing.T) (*service.AggregationService, *repository.TaskRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	hub := realtime.NewHub()
	taskRepo := repository.NewTaskRepository(db, hub)
	pool := worker.NewPool(2)
	t.Cleanup(pool.Stop)
	return service.NewAggregationService(taskRepo, hub, pool), taskRepo
}

// A write landing while Watch is still setting up must reach the watcher: the
// subscription opens before the initial read, so the write is either already
// in the first snapshot or pending as a change notification. Reading first
// would open a window where such a write is lost.
func TestWatchDeliversWriteRacingSetup(t *testing.T) {
	agg, taskRepo := newAggregation(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := agg.Watch(ctx, service.CategoryFilter{}, service.OriginAll)
	require.NoError(t, err)

	require.NoError(t, taskRepo.Create(ctx, &model.Task{Title: "racer"}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot := <-out:
			if len(snapshot) == 1 && snapshot[0].Title == "racer" {
				return
			}
		case <-deadline:
			t.Fatal("write never reached the watcher")
		}
	}
}

func TestWatchClosesOnContextCancel(t *testing.T) {
	agg, _ := newAggregation(t)
	ctx, cancel := context.WithCancel(context.Background())

	out, err := agg.Watch(ctx, service.CategoryFilter{}, service.OriginAll)
	require.NoError(t, err)
	<-out // first snapshot

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-out:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchMonthlyRatesTracksTaskChanges(t *testing.T) {
	agg, taskRepo := newAggregation(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := agg.WatchMonthlyRates(ctx, time.Now(), make(chan time.Time))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, taskRepo.Create(ctx, &model.Task{
		Title:       "done today",
		DueAt:       &now,
		Completed:   true,
		CompletedAt: &now,
	}))

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	deadline := time.After(2 * time.Second)
	for {
		select {
		case rates := <-out:
			if rates[day] == 1.0 {
				return
			}
		case <-deadline:
			t.Fatal("rates never reflected the completed task")
		}
	}
}
