package service

import (
	"context"
	"fmt"
	"strings"

	"geoplanner/internal/geofence"
	"geoplanner/internal/model"
	"geoplanner/internal/repository"
	"geoplanner/internal/worker"
)

// LocationInput carries the user-supplied fields of a location.
type LocationInput struct {
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	Enabled      bool
}

// LocationService manages locations and the geofence consequences of
// enabling, disabling or deleting them.
type LocationService struct {
	locations *repository.LocationRepository
	tasks     *repository.TaskRepository
	geofences *geofence.Service
	pool      *worker.Pool
}

func NewLocationService(
	locations *repository.LocationRepository,
	tasks *repository.TaskRepository,
	geofences *geofence.Service,
	pool *worker.Pool,
) *LocationService {
	return &LocationService{locations: locations, tasks: tasks, geofences: geofences, pool: pool}
}

func (s *LocationService) Create(ctx context.Context, input LocationInput) (*model.Location, error) {
	if err := validateLocation(input); err != nil {
		return nil, err
	}
	location := &model.Location{
		Name:         strings.TrimSpace(input.Name),
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		RadiusMeters: input.RadiusMeters,
		Enabled:      input.Enabled,
	}
	err := s.pool.Run(locationKey(0), func() error {
		return s.locations.Create(ctx, location)
	})
	if err != nil {
		return nil, err
	}
	return location, nil
}

// Update edits a location. Tasks carry a copy of their region, so the edit
// propagates to them and their geofences are re-registered (or removed when
// the location got disabled — the tasks' own flags stay untouched).
func (s *LocationService) Update(ctx context.Context, id uint, input LocationInput) (*model.Location, error) {
	if err := validateLocation(input); err != nil {
		return nil, err
	}

	var location *model.Location
	err := s.pool.Run(locationKey(id), func() error {
		var err error
		location, err = s.locations.GetByID(ctx, id)
		if err != nil {
			return err
		}
		location.Name = strings.TrimSpace(input.Name)
		location.Latitude = input.Latitude
		location.Longitude = input.Longitude
		location.RadiusMeters = input.RadiusMeters
		location.Enabled = input.Enabled
		if err := s.locations.Save(ctx, location); err != nil {
			return err
		}
		return s.propagateRegion(ctx, location)
	})
	if err != nil {
		return nil, err
	}

	if err := s.applyGeofences(ctx, location); err != nil {
		return nil, err
	}
	return location, nil
}

// SetEnabled flips only the enabled flag, with the same geofence handling as
// a full update.
func (s *LocationService) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	var location *model.Location
	err := s.pool.Run(locationKey(id), func() error {
		var err error
		location, err = s.locations.GetByID(ctx, id)
		if err != nil {
			return err
		}
		location.Enabled = enabled
		return s.locations.Save(ctx, location)
	})
	if err != nil {
		return err
	}
	return s.applyGeofences(ctx, location)
}

// Delete cascades: geofences of the location's tasks are removed, then the
// tasks, then the location itself.
func (s *LocationService) Delete(ctx context.Context, id uint) error {
	if err := s.geofences.RemoveForLocation(ctx, id); err != nil {
		return err
	}
	return s.pool.Run(locationKey(id), func() error {
		if err := s.tasks.DeleteByLocation(ctx, id); err != nil {
			return err
		}
		return s.locations.Delete(ctx, id)
	})
}

func (s *LocationService) Get(ctx context.Context, id uint) (*model.Location, error) {
	return s.locations.GetByID(ctx, id)
}

func (s *LocationService) List(ctx context.Context) ([]model.Location, error) {
	return s.locations.List(ctx)
}

// propagateRegion copies the location's current region into its tasks.
func (s *LocationService) propagateRegion(ctx context.Context, location *model.Location) error {
	tasks, err := s.tasks.ListByLocation(ctx, location.ID)
	if err != nil {
		return err
	}
	for i := range tasks {
		task := &tasks[i]
		lat, lng := location.Latitude, location.Longitude
		task.LocationName = location.Name
		task.Latitude = &lat
		task.Longitude = &lng
		task.RadiusMeters = location.RadiusMeters
		if err := s.tasks.Save(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// applyGeofences reconciles the geofences of a location's tasks with the
// location's enabled flag.
func (s *LocationService) applyGeofences(ctx context.Context, location *model.Location) error {
	if !location.Enabled {
		return s.geofences.RemoveForLocation(ctx, location.ID)
	}
	tasks, err := s.tasks.ListByLocation(ctx, location.ID)
	if err != nil {
		return err
	}
	for i := range tasks {
		s.geofences.Apply(ctx, &tasks[i])
	}
	return nil
}

func validateLocation(input LocationInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("location name is required")
	}
	if input.Latitude < -90 || input.Latitude > 90 || input.Longitude < -180 || input.Longitude > 180 {
		return fmt.Errorf("coordinates out of range: %f, %f", input.Latitude, input.Longitude)
	}
	if input.RadiusMeters <= 0 {
		return fmt.Errorf("radius must be positive")
	}
	return nil
}

func locationKey(id uint) string {
	return fmt.Sprintf("location:%d", id)
}
