package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"geoplanner/internal/geofence"
	"geoplanner/internal/model"
	"geoplanner/internal/repository"
	"geoplanner/internal/worker"
)

// TaskInput represents data required to create or edit a task.
type TaskInput struct {
	Title            string
	Content          string
	Priority         int
	CategoryID       *uint
	DueAt            *time.Time
	EstimatedMinutes int
	ActualMinutes    int
	LocationID       *uint
	LocationEnabled  bool
}

// TaskService wraps local task business logic: validation, persistence and
// the geofence registrations driven by task state transitions. Writes to one
// task serialize on the worker pool.
type TaskService struct {
	tasks      *repository.TaskRepository
	categories *repository.CategoryRepository
	locations  *repository.LocationRepository
	geofences  *geofence.Service
	pool       *worker.Pool
}

func NewTaskService(
	tasks *repository.TaskRepository,
	categories *repository.CategoryRepository,
	locations *repository.LocationRepository,
	geofences *geofence.Service,
	pool *worker.Pool,
) *TaskService {
	return &TaskService{
		tasks:      tasks,
		categories: categories,
		locations:  locations,
		geofences:  geofences,
		pool:       pool,
	}
}

func (s *TaskService) Create(ctx context.Context, input TaskInput) (*model.Task, error) {
	task := &model.Task{}
	if err := s.applyInput(ctx, task, input); err != nil {
		return nil, err
	}

	err := s.pool.Run(worker.TaskKey(0), func() error {
		return s.tasks.Create(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.geofences.Apply(ctx, task)
	return task, nil
}

func (s *TaskService) Update(ctx context.Context, taskID uint, input TaskInput) (*model.Task, error) {
	var task *model.Task
	err := s.pool.Run(s.writeKey(ctx, taskID), func() error {
		var err error
		task, err = s.tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if err := s.applyInput(ctx, task, input); err != nil {
			return err
		}
		return s.tasks.Save(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	// Remove-then-register so a changed region replaces the old one.
	s.geofences.Apply(ctx, task)
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, taskID uint) (*model.Task, error) {
	return s.tasks.GetByID(ctx, taskID)
}

// SetCompleted flips completion. Completing removes the task's geofence;
// reopening an eligible task re-registers it.
func (s *TaskService) SetCompleted(ctx context.Context, taskID uint, done bool, at time.Time) (*model.Task, error) {
	var task *model.Task
	err := s.pool.Run(s.writeKey(ctx, taskID), func() error {
		var err error
		task, err = s.tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		return s.tasks.SetCompleted(ctx, task, done, at)
	})
	if err != nil {
		return nil, err
	}

	s.geofences.Apply(ctx, task)
	return task, nil
}

func (s *TaskService) Delete(ctx context.Context, taskID uint) error {
	err := s.pool.Run(s.writeKey(ctx, taskID), func() error {
		return s.tasks.Delete(ctx, taskID)
	})
	if err != nil {
		return err
	}
	s.geofences.Remove(taskID)
	return nil
}

// applyInput validates the edit and copies it into the task, resolving the
// category and location references. Invalid input is rejected before any
// store write.
func (s *TaskService) applyInput(ctx context.Context, task *model.Task, input TaskInput) error {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return fmt.Errorf("title is required")
	}
	if input.EstimatedMinutes < 0 || input.ActualMinutes < 0 {
		return fmt.Errorf("durations must not be negative")
	}

	if input.CategoryID != nil {
		if _, err := s.categories.GetByID(ctx, *input.CategoryID); err != nil {
			return err
		}
	}

	task.Title = input.Title
	task.Content = input.Content
	task.Priority = input.Priority
	task.CategoryID = input.CategoryID
	task.DueAt = input.DueAt
	task.EstimatedMinutes = input.EstimatedMinutes
	task.ActualMinutes = input.ActualMinutes

	task.LocationID = input.LocationID
	task.LocationEnabled = false
	task.LocationName = ""
	task.Latitude = nil
	task.Longitude = nil
	task.RadiusMeters = 0
	if input.LocationID != nil {
		location, err := s.locations.GetByID(ctx, *input.LocationID)
		if err != nil {
			return err
		}
		task.LocationName = location.Name
		lat, lng := location.Latitude, location.Longitude
		task.Latitude = &lat
		task.Longitude = &lng
		task.RadiusMeters = location.RadiusMeters
		task.LocationEnabled = input.LocationEnabled
	}
	return nil
}

// writeKey picks the pool key serializing writes to a task row. Mirror rows
// share the project key with the snapshot applies of the sync engine, so a
// local edit and an incoming apply to the same row can never interleave.
// Standalone rows serialize per task.
func (s *TaskService) writeKey(ctx context.Context, taskID uint) string {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err == nil && task.FromCollaboration {
		return worker.ProjectKey(task.ProjectID)
	}
	return worker.TaskKey(taskID)
}
