package service

import (
	"context"
	"log"
	"time"

	"geoplanner/internal/repository"
	"geoplanner/internal/worker"
)

// ArchiveService moves completed tasks whose completion predates today out of
// the active view. Archived tasks stay queryable for statistics.
type ArchiveService struct {
	tasks *repository.TaskRepository
	pool  *worker.Pool
}

func NewArchiveService(tasks *repository.TaskRepository, pool *worker.Pool) *ArchiveService {
	return &ArchiveService{tasks: tasks, pool: pool}
}

// ArchiveOldCompleted archives every task completed before the local midnight
// of now. Idempotent: a second run with the same boundary matches nothing.
// Runs once at startup before the active view is first read, and nightly.
func (s *ArchiveService) ArchiveOldCompleted(ctx context.Context, now time.Time) error {
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.pool.Run("archive", func() error {
		n, err := s.tasks.ArchiveOldCompleted(ctx, todayStart)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("archive: %d completed task(s) archived", n)
		}
		return nil
	})
}
