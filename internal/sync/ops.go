package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"geoplanner/internal/model"
	"geoplanner/internal/remote"
	"geoplanner/internal/repository"
)

// ProjectTaskInput carries the user-supplied fields of a shared task.
type ProjectTaskInput struct {
	Title      string
	Content    string
	Priority   int
	DueAt      *time.Time
	AssignedTo string
}

func (e *Engine) currentUser() (remote.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.user.ID == "" {
		return remote.User{}, ErrNotStarted
	}
	return e.user, nil
}

// CreateProject writes the project and its owner membership to the remote
// store first; the local mirror is written only after both succeed, so a
// failure leaves no partial state.
func (e *Engine) CreateProject(ctx context.Context, name, description string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	user, err := e.currentUser()
	if err != nil {
		return nil, err
	}

	var created *model.Project
	err = e.pool.Run(membershipKey(user.ID), func() error {
		now := time.Now()
		projectFields, err := remote.Fields(remote.ProjectDoc{
			Name:        name,
			Description: description,
			OwnerID:     user.ID,
			MemberCount: 1,
			CreatedAt:   now.UnixMilli(),
			UpdatedAt:   now.UnixMilli(),
		})
		if err != nil {
			return err
		}
		projectID, err := e.store.CreateDocument(ctx, remote.CollectionProjects, projectFields)
		if err != nil {
			return fmt.Errorf("create project: %w", err)
		}

		memberFields, err := remote.Fields(remote.MemberDoc{
			ProjectID:        projectID,
			UserID:           user.ID,
			Email:            user.Email,
			Role:             model.RoleOwner,
			InvitationStatus: model.StatusAccepted,
			Active:           true,
			UpdatedAt:        now.UnixMilli(),
		})
		if err != nil {
			return err
		}
		memberID, err := e.store.CreateDocument(ctx, remote.CollectionMembers, memberFields)
		if err != nil {
			// Roll the project back so the remote store holds no orphan.
			if delErr := e.store.DeleteDocument(ctx, remote.CollectionProjects, projectID); delErr != nil {
				log.Printf("sync: rollback project %s: %v", projectID, delErr)
			}
			return fmt.Errorf("create owner membership: %w", err)
		}

		created = &model.Project{
			ID:          projectID,
			Name:        name,
			Description: description,
			OwnerID:     user.ID,
			MemberCount: 1,
			CreatedAt:   now,
			UpdatedAt:   now,
			SyncedAt:    &now,
		}
		if err := e.projects.UpsertProject(ctx, created); err != nil {
			return err
		}
		return e.projects.UpsertMember(ctx, &model.ProjectMember{
			ID:               memberID,
			ProjectID:        projectID,
			UserID:           user.ID,
			Email:            user.Email,
			Role:             model.RoleOwner,
			InvitationStatus: model.StatusAccepted,
			Active:           true,
			UpdatedAt:        now,
			SyncedAt:         &now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.watchProject(created.ID)
	return created, nil
}

// DeleteProject removes the project document remotely; the backend cascades
// to its tasks and memberships, and the project listener observing the
// deletion clears the local shadows.
func (e *Engine) DeleteProject(ctx context.Context, projectID string) error {
	return e.pool.Run(projectKey(projectID), func() error {
		if err := e.store.DeleteDocument(ctx, remote.CollectionProjects, projectID); err != nil && !errors.Is(err, remote.ErrNotFound) {
			return fmt.Errorf("delete project: %w", err)
		}
		e.stopWatchingProject(projectID)
		if err := e.projects.DeleteProjectCascade(ctx, projectID); err != nil {
			return err
		}
		return e.tasks.DeleteMirrorsByProject(ctx, projectID)
	})
}

// SendInvitation creates a pending invitation for inviteeEmail.
func (e *Engine) SendInvitation(ctx context.Context, projectID, inviteeEmail string) error {
	inviteeEmail = strings.TrimSpace(inviteeEmail)
	if inviteeEmail == "" {
		return fmt.Errorf("invitee email is required")
	}
	user, err := e.currentUser()
	if err != nil {
		return err
	}

	return e.pool.Run(projectKey(projectID), func() error {
		project, err := e.projects.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		now := time.Now()
		fields, err := remote.Fields(remote.InvitationDoc{
			ProjectID:    projectID,
			ProjectName:  project.Name,
			InviterEmail: user.Email,
			InviteeEmail: inviteeEmail,
			Status:       model.StatusPending,
			CreatedAt:    now.UnixMilli(),
			UpdatedAt:    now.UnixMilli(),
		})
		if err != nil {
			return err
		}
		if _, err := e.store.CreateDocument(ctx, remote.CollectionInvitations, fields); err != nil {
			return fmt.Errorf("send invitation: %w", err)
		}
		return nil
	})
}

// RespondToInvitation accepts or rejects a pending invitation. Accepting also
// creates the member document, which makes the membership listener attach the
// project's listeners on its next snapshot.
func (e *Engine) RespondToInvitation(ctx context.Context, invitationID string, accept bool) error {
	user, err := e.currentUser()
	if err != nil {
		return err
	}

	return e.pool.Run(invitationKey(user.Email), func() error {
		inv, err := e.projects.GetInvitation(ctx, invitationID)
		if err != nil {
			return err
		}
		if inv.Status != model.StatusPending {
			return fmt.Errorf("invitation %s already %s", invitationID, inv.Status)
		}

		status := model.StatusRejected
		if accept {
			status = model.StatusAccepted
		}
		now := time.Now()
		if err := e.store.UpdateDocument(ctx, remote.CollectionInvitations, invitationID, map[string]any{
			"status":     status,
			"updated_at": now.UnixMilli(),
		}); err != nil {
			return fmt.Errorf("respond to invitation: %w", err)
		}

		if accept {
			fields, err := remote.Fields(remote.MemberDoc{
				ProjectID:        inv.ProjectID,
				UserID:           user.ID,
				Email:            user.Email,
				Role:             model.RoleMember,
				InvitationStatus: model.StatusAccepted,
				Active:           true,
				UpdatedAt:        now.UnixMilli(),
			})
			if err != nil {
				return err
			}
			if _, err := e.store.CreateDocument(ctx, remote.CollectionMembers, fields); err != nil {
				return fmt.Errorf("join project: %w", err)
			}
		}

		inv.Status = status
		inv.UpdatedAt = now
		inv.SyncedAt = &now
		return e.projects.UpsertInvitation(ctx, inv)
	})
}

// AddProjectTask creates a shared task remotely and mirrors it locally.
func (e *Engine) AddProjectTask(ctx context.Context, projectID string, in ProjectTaskInput) (*model.ProjectTask, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	user, err := e.currentUser()
	if err != nil {
		return nil, err
	}

	var created *model.ProjectTask
	err = e.pool.Run(projectKey(projectID), func() error {
		now := time.Now()
		doc := remote.TaskDoc{
			ProjectID:  projectID,
			Title:      in.Title,
			Content:    in.Content,
			Priority:   in.Priority,
			AssignedTo: in.AssignedTo,
			CreatedBy:  user.ID,
			DueAt:      remote.ToMillis(in.DueAt),
			CreatedAt:  now.UnixMilli(),
			UpdatedAt:  now.UnixMilli(),
		}
		fields, err := remote.Fields(doc)
		if err != nil {
			return err
		}
		id, err := e.store.CreateDocument(ctx, remote.CollectionTasks, fields)
		if err != nil {
			return fmt.Errorf("create project task: %w", err)
		}

		created = projectTaskFromDoc(id, doc, now)
		if err := e.projects.UpsertProjectTask(ctx, created); err != nil {
			return err
		}
		e.mirrorIntoTasks(ctx, projectID, id, doc, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateProjectTask pushes edited fields remotely, then refreshes the mirror.
func (e *Engine) UpdateProjectTask(ctx context.Context, task *model.ProjectTask) error {
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return fmt.Errorf("title is required")
	}

	return e.pool.Run(projectKey(task.ProjectID), func() error {
		now := time.Now()
		if err := e.store.UpdateDocument(ctx, remote.CollectionTasks, task.ID, map[string]any{
			"title":       task.Title,
			"content":     task.Content,
			"priority":    task.Priority,
			"assigned_to": task.AssignedTo,
			"due_at":      remote.ToMillis(task.DueAt),
			"updated_at":  now.UnixMilli(),
		}); err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				log.Printf("sync: update of missing project task %s, dropped", task.ID)
				return nil
			}
			return fmt.Errorf("update project task: %w", err)
		}

		task.UpdatedAt = now
		task.SyncedAt = &now
		if err := e.projects.UpsertProjectTask(ctx, task); err != nil {
			return err
		}
		e.mirrorIntoTasks(ctx, task.ProjectID, task.ID, remote.TaskDoc{
			ProjectID:   task.ProjectID,
			Title:       task.Title,
			Content:     task.Content,
			Priority:    task.Priority,
			Completed:   task.Completed,
			CompletedAt: remote.ToMillis(task.CompletedAt),
			CompletedBy: task.CompletedBy,
			AssignedTo:  task.AssignedTo,
			CreatedBy:   task.CreatedBy,
			DueAt:       remote.ToMillis(task.DueAt),
			CreatedAt:   task.CreatedAt.UnixMilli(),
			UpdatedAt:   now.UnixMilli(),
		}, now)
		return nil
	})
}

// DeleteProjectTask removes a shared task. A task already gone remotely is a
// benign no-op; the local mirror is dropped either way.
func (e *Engine) DeleteProjectTask(ctx context.Context, projectID, taskID string) error {
	return e.pool.Run(projectKey(projectID), func() error {
		if err := e.store.DeleteDocument(ctx, remote.CollectionTasks, taskID); err != nil {
			if !errors.Is(err, remote.ErrNotFound) {
				return fmt.Errorf("delete project task: %w", err)
			}
			log.Printf("sync: delete of missing project task %s, dropped", taskID)
		}
		if err := e.projects.DeleteProjectTask(ctx, taskID); err != nil {
			return err
		}
		if local, err := e.tasks.FindByRemote(ctx, projectID, taskID); err == nil {
			return e.tasks.Delete(ctx, local.ID)
		}
		return nil
	})
}

// ToggleTaskCompletion flips a shared task's completion remotely, then
// mirrors the new state.
func (e *Engine) ToggleTaskCompletion(ctx context.Context, projectID, taskID string, done bool) error {
	user, err := e.currentUser()
	if err != nil {
		return err
	}

	return e.pool.Run(projectKey(projectID), func() error {
		task, err := e.projects.GetProjectTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, repository.ErrProjectTaskNotFound) {
				log.Printf("sync: toggle of missing project task %s, dropped", taskID)
				return nil
			}
			return err
		}

		now := time.Now()
		var completedAt int64
		completedBy := ""
		if done {
			completedAt = now.UnixMilli()
			completedBy = user.ID
		}
		if err := e.store.UpdateDocument(ctx, remote.CollectionTasks, taskID, map[string]any{
			"completed":    done,
			"completed_at": completedAt,
			"completed_by": completedBy,
			"updated_at":   now.UnixMilli(),
		}); err != nil {
			return fmt.Errorf("toggle project task: %w", err)
		}

		task.Completed = done
		task.CompletedAt = remote.Millis(completedAt)
		task.CompletedBy = completedBy
		task.UpdatedAt = now
		task.SyncedAt = &now
		if err := e.projects.UpsertProjectTask(ctx, task); err != nil {
			return err
		}

		if local, err := e.tasks.FindByRemote(ctx, projectID, taskID); err == nil {
			mirror := *local
			mirror.Completed = done
			mirror.CompletedAt = remote.Millis(completedAt)
			mirror.UpdatedAt = now
			mirror.SyncedAt = &now
			return e.tasks.ApplyMirror(ctx, local.ID, &mirror)
		}
		return nil
	})
}
