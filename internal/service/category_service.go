package service

import (
	"context"
	"fmt"
	"strings"

	"geoplanner/internal/model"
	"geoplanner/internal/repository"
)

// CategoryService provides helpers around categories.
type CategoryService struct {
	categories *repository.CategoryRepository
	tasks      *repository.TaskRepository
}

func NewCategoryService(categories *repository.CategoryRepository, tasks *repository.TaskRepository) *CategoryService {
	return &CategoryService{categories: categories, tasks: tasks}
}

func (s *CategoryService) List(ctx context.Context) ([]model.Category, error) {
	return s.categories.List(ctx)
}

func (s *CategoryService) Create(ctx context.Context, name, color, icon string, orderIndex int) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("category name is required")
	}
	category := &model.Category{
		Name:       name,
		Color:      color,
		Icon:       icon,
		OrderIndex: orderIndex,
	}
	if err := s.categories.Create(ctx, category); err != nil {
		return nil, err
	}
	return category, nil
}

// Delete removes a category; its tasks survive with a nulled reference.
func (s *CategoryService) Delete(ctx context.Context, id uint) error {
	if err := s.tasks.ClearCategory(ctx, id); err != nil {
		return err
	}
	return s.categories.Delete(ctx, id)
}

// SeedDefaults installs the built-in categories on first run.
func (s *CategoryService) SeedDefaults(ctx context.Context) error {
	return s.categories.SeedDefaults(ctx, []model.Category{
		{Name: "Work", Color: "#4A90D9", Icon: "briefcase", IsDefault: true, OrderIndex: 0},
		{Name: "Personal", Color: "#7ED321", Icon: "home", IsDefault: true, OrderIndex: 1},
		{Name: "Errands", Color: "#F5A623", Icon: "cart", IsDefault: true, OrderIndex: 2},
	})
}
