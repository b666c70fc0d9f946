package geofence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"geoplanner/internal/model"
	"geoplanner/internal/notify"
	"geoplanner/internal/repository"
)

// Service drives geofence (de)registration from task state transitions and
// turns enter events into task notifications. Registration and removal are
// fire-and-forget at the call sites: failures are logged, not retried.
type Service struct {
	monitor   Monitor
	tasks     *repository.TaskRepository
	locations *repository.LocationRepository
	notifier  notify.Notifier
}

func NewService(monitor Monitor, tasks *repository.TaskRepository, locations *repository.LocationRepository, notifier notify.Notifier) *Service {
	return &Service{monitor: monitor, tasks: tasks, locations: locations, notifier: notifier}
}

// Register adds (or replaces) the region for a task. The task must carry a
// complete enabled region at an enabled location.
func (s *Service) Register(ctx context.Context, task *model.Task) error {
	if !task.HasRegion() {
		return fmt.Errorf("task %d has no enabled region", task.ID)
	}
	if !s.locationActive(ctx, task) {
		return fmt.Errorf("task %d references a disabled location", task.ID)
	}
	if err := validCoordinates(*task.Latitude, *task.Longitude, task.RadiusMeters); err != nil {
		return err
	}
	return s.monitor.RegisterRegion(requestID(task.ID), *task.Latitude, *task.Longitude, task.RadiusMeters)
}

// Remove drops the region for a task id; no-op when none is registered.
func (s *Service) Remove(taskID uint) {
	if err := s.monitor.RemoveRegion(requestID(taskID)); err != nil {
		log.Printf("geofence: remove region for task %d: %v", taskID, err)
	}
}

// Apply reconciles one task's registration with its current state: eligible
// tasks get (re-)registered, everything else gets removed. Eligibility here
// must match ListGeofenceEligible, or the registered set would change across
// a restart.
func (s *Service) Apply(ctx context.Context, task *model.Task) {
	if task.HasRegion() && !task.Completed && !task.Archived && s.locationActive(ctx, task) {
		// Remove first so a changed region fully replaces the old one.
		s.Remove(task.ID)
		if err := s.Register(ctx, task); err != nil {
			log.Printf("geofence: register task %d: %v", task.ID, err)
		}
		return
	}
	s.Remove(task.ID)
}

// InitializeAll re-registers every currently-eligible task. Run at startup,
// after which the registered set matches the store.
func (s *Service) InitializeAll(ctx context.Context) error {
	if err := s.monitor.RemoveAllRegions(); err != nil {
		return fmt.Errorf("clear regions: %w", err)
	}
	tasks, err := s.tasks.ListGeofenceEligible(ctx)
	if err != nil {
		return err
	}
	for i := range tasks {
		if err := s.Register(ctx, &tasks[i]); err != nil {
			log.Printf("geofence: register task %d: %v", tasks[i].ID, err)
		}
	}
	return nil
}

// RemoveForLocation drops the regions of every task at a location, used when
// the location is disabled or deleted. The tasks' own flags are untouched.
func (s *Service) RemoveForLocation(ctx context.Context, locationID uint) error {
	tasks, err := s.tasks.ListByLocation(ctx, locationID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		s.Remove(task.ID)
	}
	return nil
}

// HandleTransition processes enter events delivered by the monitor. A missing
// or already-completed task is not an error: the event is logged and dropped.
func (s *Service) HandleTransition(ctx context.Context, triggeredIDs []string) {
	for _, id := range triggeredIDs {
		taskID, err := parseRequestID(id)
		if err != nil {
			log.Printf("geofence: unparseable request id %q, dropped", id)
			continue
		}
		task, err := s.tasks.GetByID(ctx, taskID)
		if err != nil {
			if errors.Is(err, repository.ErrTaskNotFound) {
				log.Printf("geofence: transition for deleted task %d, dropped", taskID)
			} else {
				log.Printf("geofence: look up task %d: %v", taskID, err)
			}
			continue
		}
		if task.Completed {
			log.Printf("geofence: transition for completed task %d, dropped", taskID)
			continue
		}
		if err := s.notifier.NotifyTask(ctx, task.ID, task.Title, task.LocationName); err != nil {
			log.Printf("geofence: notify for task %d: %v", task.ID, err)
		}
	}
}

// Run pumps a transition channel into HandleTransition until ctx is done.
func (s *Service) Run(ctx context.Context, transitions <-chan []string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ids, ok := <-transitions:
			if !ok {
				return
			}
			s.HandleTransition(ctx, ids)
		}
	}
}

// locationActive reports whether the task's referenced location allows
// registration. Tasks carrying a region without a location reference are
// active; a lookup failure counts as inactive so a transient error never
// registers a fence the store would not.
func (s *Service) locationActive(ctx context.Context, task *model.Task) bool {
	if task.LocationID == nil {
		return true
	}
	location, err := s.locations.GetByID(ctx, *task.LocationID)
	if err != nil {
		log.Printf("geofence: look up location %d for task %d: %v", *task.LocationID, task.ID, err)
		return false
	}
	return location.Enabled
}

func requestID(taskID uint) string {
	return strconv.FormatUint(uint64(taskID), 10)
}

func parseRequestID(id string) (uint, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}

func validCoordinates(lat, lng, radius float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("coordinates out of range: %f, %f", lat, lng)
	}
	if radius <= 0 {
		return fmt.Errorf("radius must be positive, got %f", radius)
	}
	return nil
}
