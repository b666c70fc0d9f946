package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"geoplanner/internal/model"
	"geoplanner/internal/realtime"
)

var ErrLocationNotFound = errors.New("location not found")

// LocationRepository manages named regions owning location-bound tasks.
type LocationRepository struct {
	db  *gorm.DB
	hub *realtime.Hub
}

func NewLocationRepository(db *gorm.DB, hub *realtime.Hub) *LocationRepository {
	return &LocationRepository{db: db, hub: hub}
}

func (r *LocationRepository) Create(ctx context.Context, location *model.Location) error {
	if err := r.db.WithContext(ctx).Create(location).Error; err != nil {
		return fmt.Errorf("create location: %w", err)
	}
	r.hub.Publish(realtime.TopicLocations)
	return nil
}

func (r *LocationRepository) Save(ctx context.Context, location *model.Location) error {
	if err := r.db.WithContext(ctx).Save(location).Error; err != nil {
		return fmt.Errorf("save location: %w", err)
	}
	r.hub.Publish(realtime.TopicLocations)
	return nil
}

func (r *LocationRepository) GetByID(ctx context.Context, id uint) (*model.Location, error) {
	var location model.Location
	if err := r.db.WithContext(ctx).First(&location, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("find location %d: %w", id, err)
	}
	return &location, nil
}

func (r *LocationRepository) List(ctx context.Context) ([]model.Location, error) {
	var locations []model.Location
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&locations).Error; err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return locations, nil
}

func (r *LocationRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&model.Location{}, id).Error; err != nil {
		return fmt.Errorf("delete location %d: %w", id, err)
	}
	r.hub.Publish(realtime.TopicLocations)
	return nil
}
