package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"geoplanner/internal/model"
	"geoplanner/internal/realtime"
)

var (
	ErrProjectNotFound     = errors.New("project not found")
	ErrProjectTaskNotFound = errors.New("project task not found")
	ErrInvitationNotFound  = errors.New("invitation not found")
)

// ProjectRepository manages the local shadow tables of the remote
// collaboration store: projects, members, project tasks and invitations.
// Upserts preserve the timestamps carried by the remote snapshot instead of
// stamping local ones.
type ProjectRepository struct {
	db  *gorm.DB
	hub *realtime.Hub
}

func NewProjectRepository(db *gorm.DB, hub *realtime.Hub) *ProjectRepository {
	return &ProjectRepository{db: db, hub: hub}
}

func (r *ProjectRepository) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var project model.Project
	if err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("find project %s: %w", id, err)
	}
	return &project, nil
}

func (r *ProjectRepository) ListProjects(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

func (r *ProjectRepository) UpsertProject(ctx context.Context, project *model.Project) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(project).Error; err != nil {
		return fmt.Errorf("upsert project %s: %w", project.ID, err)
	}
	r.hub.Publish(realtime.TopicProjects)
	return nil
}

// DeleteProjectsNotIn prunes shadow projects absent from the latest remote
// snapshot. An empty keep set removes them all.
func (r *ProjectRepository) DeleteProjectsNotIn(ctx context.Context, keepIDs []string) ([]string, error) {
	var stale []model.Project
	q := r.db.WithContext(ctx)
	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN ?", keepIDs)
	}
	if err := q.Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("find stale projects: %w", err)
	}
	removed := make([]string, 0, len(stale))
	for _, p := range stale {
		if err := r.DeleteProjectCascade(ctx, p.ID); err != nil {
			return removed, err
		}
		removed = append(removed, p.ID)
	}
	return removed, nil
}

// DeleteProjectCascade removes a shadow project with its members, tasks and
// invitations in one transaction.
func (r *ProjectRepository) DeleteProjectCascade(ctx context.Context, projectID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&model.ProjectTask{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&model.ProjectMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&model.ProjectInvitation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Project{}, "id = ?", projectID).Error
	})
	if err != nil {
		return fmt.Errorf("delete project %s: %w", projectID, err)
	}
	r.hub.Publish(realtime.TopicProjects)
	return nil
}

func (r *ProjectRepository) GetProjectTask(ctx context.Context, id string) (*model.ProjectTask, error) {
	var task model.ProjectTask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectTaskNotFound
		}
		return nil, fmt.Errorf("find project task %s: %w", id, err)
	}
	return &task, nil
}

func (r *ProjectRepository) ListProjectTasks(ctx context.Context, projectID string) ([]model.ProjectTask, error) {
	var tasks []model.ProjectTask
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks for project %s: %w", projectID, err)
	}
	return tasks, nil
}

func (r *ProjectRepository) UpsertProjectTask(ctx context.Context, task *model.ProjectTask) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(task).Error; err != nil {
		return fmt.Errorf("upsert project task %s: %w", task.ID, err)
	}
	r.hub.Publish(realtime.TopicProjects)
	return nil
}

func (r *ProjectRepository) DeleteProjectTask(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&model.ProjectTask{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete project task %s: %w", id, err)
	}
	r.hub.Publish(realtime.TopicProjects)
	return nil
}

func (r *ProjectRepository) DeleteProjectTasksNotIn(ctx context.Context, projectID string, keepIDs []string) error {
	q := r.db.WithContext(ctx).Where("project_id = ?", projectID)
	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN ?", keepIDs)
	}
	if err := q.Delete(&model.ProjectTask{}).Error; err != nil {
		return fmt.Errorf("prune tasks for project %s: %w", projectID, err)
	}
	r.hub.Publish(realtime.TopicProjects)
	return nil
}

func (r *ProjectRepository) UpsertMember(ctx context.Context, member *model.ProjectMember) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(member).Error; err != nil {
		return fmt.Errorf("upsert member %s: %w", member.ID, err)
	}
	r.hub.Publish(realtime.TopicProjects)
	return nil
}

func (r *ProjectRepository) ListMembers(ctx context.Context, projectID string) ([]model.ProjectMember, error) {
	var members []model.ProjectMember
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list members for project %s: %w", projectID, err)
	}
	return members, nil
}

func (r *ProjectRepository) DeleteMembersNotIn(ctx context.Context, projectID string, keepIDs []string) error {
	q := r.db.WithContext(ctx).Where("project_id = ?", projectID)
	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN ?", keepIDs)
	}
	if err := q.Delete(&model.ProjectMember{}).Error; err != nil {
		return fmt.Errorf("prune members for project %s: %w", projectID, err)
	}
	r.hub.Publish(realtime.TopicProjects)
	return nil
}

func (r *ProjectRepository) GetInvitation(ctx context.Context, id string) (*model.ProjectInvitation, error) {
	var inv model.ProjectInvitation
	if err := r.db.WithContext(ctx).First(&inv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("find invitation %s: %w", id, err)
	}
	return &inv, nil
}

func (r *ProjectRepository) ListInvitations(ctx context.Context, inviteeEmail string) ([]model.ProjectInvitation, error) {
	var invs []model.ProjectInvitation
	if err := r.db.WithContext(ctx).
		Where("invitee_email = ?", inviteeEmail).
		Order("created_at DESC").
		Find(&invs).Error; err != nil {
		return nil, fmt.Errorf("list invitations for %s: %w", inviteeEmail, err)
	}
	return invs, nil
}

func (r *ProjectRepository) UpsertInvitation(ctx context.Context, inv *model.ProjectInvitation) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(inv).Error; err != nil {
		return fmt.Errorf("upsert invitation %s: %w", inv.ID, err)
	}
	r.hub.Publish(realtime.TopicInvitations)
	return nil
}

func (r *ProjectRepository) DeleteInvitationsNotIn(ctx context.Context, inviteeEmail string, keepIDs []string) error {
	q := r.db.WithContext(ctx).Where("invitee_email = ?", inviteeEmail)
	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN ?", keepIDs)
	}
	if err := q.Delete(&model.ProjectInvitation{}).Error; err != nil {
		return fmt.Errorf("prune invitations for %s: %w", inviteeEmail, err)
	}
	r.hub.Publish(realtime.TopicInvitations)
	return nil
}
