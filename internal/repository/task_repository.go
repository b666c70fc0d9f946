package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"geoplanner/internal/model"
	"geoplanner/internal/realtime"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskRepository handles CRUD for tasks and publishes change notifications.
type TaskRepository struct {
	db  *gorm.DB
	hub *realtime.Hub
}

func NewTaskRepository(db *gorm.DB, hub *realtime.Hub) *TaskRepository {
	return &TaskRepository{db: db, hub: hub}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	r.hub.Publish(realtime.TopicTasks)
	return nil
}

func (r *TaskRepository) Save(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	r.hub.Publish(realtime.TopicTasks)
	return nil
}

// GetByID is the synchronous variant for use inside already-backgrounded
// operations.
func (r *TaskRepository) GetByID(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("find task %d: %w", id, err)
	}
	return &task, nil
}

// ListActive returns all non-archived tasks in insertion order.
func (r *TaskRepository) ListActive(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("archived = ?", false).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	return tasks, nil
}

// ListForStats returns every task, archived included.
func (r *TaskRepository) ListForStats(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks for stats: %w", err)
	}
	return tasks, nil
}

// ListGeofenceEligible returns active tasks carrying a complete enabled
// region whose owning location is itself enabled.
func (r *TaskRepository) ListGeofenceEligible(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("archived = ? AND completed = ? AND location_enabled = ?", false, false, true).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL AND radius_meters > 0").
		Where("location_id IS NULL OR location_id IN (SELECT id FROM locations WHERE enabled = ?)", true).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list geofence-eligible tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) ListByLocation(ctx context.Context, locationID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("location_id = ?", locationID).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks for location %d: %w", locationID, err)
	}
	return tasks, nil
}

// SetCompleted flips the completion flag keeping the CompletedAt invariant:
// it is non-nil exactly when the task is completed.
func (r *TaskRepository) SetCompleted(ctx context.Context, task *model.Task, done bool, at time.Time) error {
	task.Completed = done
	if done {
		task.CompletedAt = &at
	} else {
		task.CompletedAt = nil
	}
	return r.Save(ctx, task)
}

// ArchiveOldCompleted archives every completed task whose completion predates
// todayStart. Idempotent: already-archived rows are not matched.
func (r *TaskRepository) ArchiveOldCompleted(ctx context.Context, todayStart time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("completed = ? AND archived = ? AND completed_at < ?", true, false, todayStart).
		Update("archived", true)
	if res.Error != nil {
		return 0, fmt.Errorf("archive completed tasks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		r.hub.Publish(realtime.TopicTasks)
	}
	return res.RowsAffected, nil
}

func (r *TaskRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&model.Task{}, id).Error; err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	r.hub.Publish(realtime.TopicTasks)
	return nil
}

// DeleteByLocation removes every task owned by a location (cascade step).
func (r *TaskRepository) DeleteByLocation(ctx context.Context, locationID uint) error {
	if err := r.db.WithContext(ctx).Where("location_id = ?", locationID).
		Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete tasks for location %d: %w", locationID, err)
	}
	r.hub.Publish(realtime.TopicTasks)
	return nil
}

// ClearCategory nulls the category reference of all tasks in a deleted
// category; the tasks themselves survive.
func (r *TaskRepository) ClearCategory(ctx context.Context, categoryID uint) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("category_id = ?", categoryID).
		Update("category_id", nil).Error; err != nil {
		return fmt.Errorf("clear category %d: %w", categoryID, err)
	}
	r.hub.Publish(realtime.TopicTasks)
	return nil
}

// FindByRemote looks up the local mirror of a remote project task.
func (r *TaskRepository) FindByRemote(ctx context.Context, projectID, remoteID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND remote_id = ?", projectID, remoteID).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("find mirrored task %s/%s: %w", projectID, remoteID, err)
	}
	return &task, nil
}

// ApplyMirror writes the remote snapshot of a mirrored task over the local
// row, preserving the snapshot's own timestamps instead of stamping new ones.
func (r *TaskRepository) ApplyMirror(ctx context.Context, id uint, task *model.Task) error {
	cols := map[string]interface{}{
		"title":        task.Title,
		"content":      task.Content,
		"priority":     task.Priority,
		"completed":    task.Completed,
		"completed_at": task.CompletedAt,
		"due_at":       task.DueAt,
		"project_name": task.ProjectName,
		"assigned_to":  task.AssignedTo,
		"created_by":   task.CreatedBy,
		"updated_at":   task.UpdatedAt,
		"synced_at":    task.SyncedAt,
	}
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", id).
		UpdateColumns(cols).Error; err != nil {
		return fmt.Errorf("apply mirrored task %d: %w", id, err)
	}
	r.hub.Publish(realtime.TopicTasks)
	return nil
}

// DeleteMirrorsNotIn drops local mirrors of a project's tasks that no longer
// exist remotely. An empty keep set drops them all.
func (r *TaskRepository) DeleteMirrorsNotIn(ctx context.Context, projectID string, keepRemoteIDs []string) error {
	q := r.db.WithContext(ctx).
		Where("from_collaboration = ? AND project_id = ?", true, projectID)
	if len(keepRemoteIDs) > 0 {
		q = q.Where("remote_id NOT IN ?", keepRemoteIDs)
	}
	if err := q.Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("prune mirrored tasks for project %s: %w", projectID, err)
	}
	r.hub.Publish(realtime.TopicTasks)
	return nil
}

// DeleteMirrorsByProject removes all local mirrors of a deleted project.
func (r *TaskRepository) DeleteMirrorsByProject(ctx context.Context, projectID string) error {
	return r.DeleteMirrorsNotIn(ctx, projectID, nil)
}
