package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"geoplanner/internal/model"
	"geoplanner/internal/realtime"
)

var ErrCategoryNotFound = errors.New("category not found")

// CategoryRepository manages task categories.
type CategoryRepository struct {
	db  *gorm.DB
	hub *realtime.Hub
}

func NewCategoryRepository(db *gorm.DB, hub *realtime.Hub) *CategoryRepository {
	return &CategoryRepository{db: db, hub: hub}
}

func (r *CategoryRepository) Create(ctx context.Context, category *model.Category) error {
	if err := r.db.WithContext(ctx).Create(category).Error; err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	r.hub.Publish(realtime.TopicCategories)
	return nil
}

func (r *CategoryRepository) Save(ctx context.Context, category *model.Category) error {
	if err := r.db.WithContext(ctx).Save(category).Error; err != nil {
		return fmt.Errorf("save category: %w", err)
	}
	r.hub.Publish(realtime.TopicCategories)
	return nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id uint) (*model.Category, error) {
	var category model.Category
	if err := r.db.WithContext(ctx).First(&category, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("find category %d: %w", id, err)
	}
	return &category, nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]model.Category, error) {
	var categories []model.Category
	if err := r.db.WithContext(ctx).
		Order("order_index ASC, name ASC").
		Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// SeedDefaults inserts the built-in categories once; reruns are no-ops.
func (r *CategoryRepository) SeedDefaults(ctx context.Context, defaults []model.Category) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Category{}).
		Where("is_default = ?", true).
		Count(&count).Error; err != nil {
		return fmt.Errorf("count default categories: %w", err)
	}
	if count > 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&defaults).Error; err != nil {
		return fmt.Errorf("seed default categories: %w", err)
	}
	r.hub.Publish(realtime.TopicCategories)
	return nil
}

func (r *CategoryRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&model.Category{}, id).Error; err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	r.hub.Publish(realtime.TopicCategories)
	return nil
}
