package sync

import (
	"context"
	"errors"
	"log"
	"time"

	"geoplanner/internal/model"
	"geoplanner/internal/remote"
	"geoplanner/internal/repository"
)

// localWins reports whether a local row must survive an incoming remote
// snapshot: the row's UpdatedAt is newer than the remote one and the row was
// not itself produced by a prior sync write (an in-flight local edit).
func localWins(localUpdated time.Time, localSynced *time.Time, remoteUpdated time.Time) bool {
	if !localUpdated.After(remoteUpdated) {
		return false
	}
	return localSynced == nil || localSynced.Before(localUpdated)
}

// applyMembershipSnapshot handles the root "projects for user" listener: the
// user's memberships define which projects get per-project listeners, and
// projects the user left or lost are pruned locally.
func (e *Engine) applyMembershipSnapshot(ctx context.Context, snap remote.Snapshot) {
	active := make([]string, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		m, err := remote.Decode[remote.MemberDoc](doc)
		if err != nil {
			log.Printf("sync: bad membership document %s: %v", doc.ID, err)
			continue
		}
		if m.InvitationStatus != model.StatusAccepted || !m.Active {
			continue
		}
		active = append(active, m.ProjectID)
		e.watchProject(m.ProjectID)
	}

	removed, err := e.projects.DeleteProjectsNotIn(ctx, active)
	if err != nil {
		log.Printf("sync: prune projects: %v", err)
		return
	}
	for _, pid := range removed {
		e.stopWatchingProject(pid)
		if err := e.tasks.DeleteMirrorsByProject(ctx, pid); err != nil {
			log.Printf("sync: prune mirrors for %s: %v", pid, err)
		}
	}
}

// watchProject attaches the per-project listener set. Idempotent through the
// registry. All three listeners pump into the project's pool key so their
// applies serialize with each other and with user-initiated project writes.
func (e *Engine) watchProject(projectID string) {
	err := e.listen(projectKey(projectID), projectKey(projectID), remote.Query{
		Collection: remote.CollectionProjects,
		Field:      "id",
		Value:      projectID,
	}, func(ctx context.Context, snap remote.Snapshot) {
		e.applyProjectSnapshot(ctx, projectID, snap)
	})
	if err != nil {
		log.Printf("sync: watch project %s: %v", projectID, err)
	}

	err = e.listen(taskListKey(projectID), projectKey(projectID), remote.Query{
		Collection: remote.CollectionTasks,
		Field:      "project_id",
		Value:      projectID,
	}, func(ctx context.Context, snap remote.Snapshot) {
		e.applyTaskSnapshot(ctx, projectID, snap)
	})
	if err != nil {
		log.Printf("sync: watch tasks of %s: %v", projectID, err)
	}

	err = e.listen(memberKey(projectID), projectKey(projectID), remote.Query{
		Collection: remote.CollectionMembers,
		Field:      "project_id",
		Value:      projectID,
	}, func(ctx context.Context, snap remote.Snapshot) {
		e.applyMemberSnapshot(ctx, projectID, snap)
	})
	if err != nil {
		log.Printf("sync: watch members of %s: %v", projectID, err)
	}
}

func (e *Engine) stopWatchingProject(projectID string) {
	e.unlisten(projectKey(projectID))
	e.unlisten(taskListKey(projectID))
	e.unlisten(memberKey(projectID))
}

func (e *Engine) applyProjectSnapshot(ctx context.Context, projectID string, snap remote.Snapshot) {
	if len(snap.Docs) == 0 {
		// Deleted remotely; membership pruning handles local cleanup, but a
		// direct project deletion must not wait for it.
		e.stopWatchingProject(projectID)
		if err := e.projects.DeleteProjectCascade(ctx, projectID); err != nil {
			log.Printf("sync: delete project %s: %v", projectID, err)
		}
		if err := e.tasks.DeleteMirrorsByProject(ctx, projectID); err != nil {
			log.Printf("sync: prune mirrors for %s: %v", projectID, err)
		}
		return
	}

	doc := snap.Docs[0]
	p, err := remote.Decode[remote.ProjectDoc](doc)
	if err != nil {
		log.Printf("sync: bad project document %s: %v", doc.ID, err)
		return
	}

	now := time.Now()
	incoming := projectFromDoc(doc.ID, p, now)
	existing, err := e.projects.GetProject(ctx, doc.ID)
	if err == nil && localWins(existing.UpdatedAt, existing.SyncedAt, incoming.UpdatedAt) {
		return
	}
	if err != nil && !errors.Is(err, repository.ErrProjectNotFound) {
		log.Printf("sync: read project %s: %v", doc.ID, err)
		return
	}
	if err := e.projects.UpsertProject(ctx, incoming); err != nil {
		log.Printf("sync: mirror project %s: %v", doc.ID, err)
	}
}

func (e *Engine) applyMemberSnapshot(ctx context.Context, projectID string, snap remote.Snapshot) {
	keep := make([]string, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		m, err := remote.Decode[remote.MemberDoc](doc)
		if err != nil {
			log.Printf("sync: bad member document %s: %v", doc.ID, err)
			continue
		}
		keep = append(keep, doc.ID)
		if err := e.projects.UpsertMember(ctx, memberFromDoc(doc.ID, m, time.Now())); err != nil {
			log.Printf("sync: mirror member %s: %v", doc.ID, err)
		}
	}
	if err := e.projects.DeleteMembersNotIn(ctx, projectID, keep); err != nil {
		log.Printf("sync: prune members of %s: %v", projectID, err)
	}
}

// applyTaskSnapshot mirrors a project's remote tasks into both the shadow
// table and the local tasks table, applying per-row last-writer-wins.
func (e *Engine) applyTaskSnapshot(ctx context.Context, projectID string, snap remote.Snapshot) {
	now := time.Now()
	keep := make([]string, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		td, err := remote.Decode[remote.TaskDoc](doc)
		if err != nil {
			log.Printf("sync: bad task document %s: %v", doc.ID, err)
			continue
		}
		keep = append(keep, doc.ID)

		shadow := projectTaskFromDoc(doc.ID, td, now)
		existing, err := e.projects.GetProjectTask(ctx, doc.ID)
		if err == nil && localWins(existing.UpdatedAt, existing.SyncedAt, shadow.UpdatedAt) {
			continue
		}
		if err != nil && !errors.Is(err, repository.ErrProjectTaskNotFound) {
			log.Printf("sync: read project task %s: %v", doc.ID, err)
			continue
		}
		if err := e.projects.UpsertProjectTask(ctx, shadow); err != nil {
			log.Printf("sync: mirror project task %s: %v", doc.ID, err)
			continue
		}
		e.mirrorIntoTasks(ctx, projectID, doc.ID, td, now)
	}

	if err := e.projects.DeleteProjectTasksNotIn(ctx, projectID, keep); err != nil {
		log.Printf("sync: prune tasks of %s: %v", projectID, err)
	}
	if err := e.tasks.DeleteMirrorsNotIn(ctx, projectID, keep); err != nil {
		log.Printf("sync: prune task mirrors of %s: %v", projectID, err)
	}
}

// mirrorIntoTasks materializes a remote project task into the local tasks
// table so it shows up in the aggregate views alongside local tasks.
func (e *Engine) mirrorIntoTasks(ctx context.Context, projectID, remoteID string, td remote.TaskDoc, syncedAt time.Time) {
	projectName := ""
	if p, err := e.projects.GetProject(ctx, projectID); err == nil {
		projectName = p.Name
	}

	incoming := taskMirrorFromDoc(projectID, remoteID, projectName, td, syncedAt)
	existing, err := e.tasks.FindByRemote(ctx, projectID, remoteID)
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		if err := e.tasks.Create(ctx, incoming); err != nil {
			log.Printf("sync: create task mirror %s/%s: %v", projectID, remoteID, err)
		}
	case err != nil:
		log.Printf("sync: read task mirror %s/%s: %v", projectID, remoteID, err)
	default:
		if localWins(existing.UpdatedAt, existing.SyncedAt, incoming.UpdatedAt) {
			return
		}
		if err := e.tasks.ApplyMirror(ctx, existing.ID, incoming); err != nil {
			log.Printf("sync: update task mirror %s/%s: %v", projectID, remoteID, err)
		}
	}
}

func (e *Engine) applyInvitationSnapshot(ctx context.Context, snap remote.Snapshot) {
	e.mu.Lock()
	email := e.user.Email
	e.mu.Unlock()

	keep := make([]string, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		inv, err := remote.Decode[remote.InvitationDoc](doc)
		if err != nil {
			log.Printf("sync: bad invitation document %s: %v", doc.ID, err)
			continue
		}
		keep = append(keep, doc.ID)
		if err := e.projects.UpsertInvitation(ctx, invitationFromDoc(doc.ID, inv, time.Now())); err != nil {
			log.Printf("sync: mirror invitation %s: %v", doc.ID, err)
		}
	}
	if err := e.projects.DeleteInvitationsNotIn(ctx, email, keep); err != nil {
		log.Printf("sync: prune invitations: %v", err)
	}
}

func projectFromDoc(id string, p remote.ProjectDoc, syncedAt time.Time) *model.Project {
	return &model.Project{
		ID:          id,
		Name:        p.Name,
		Description: p.Description,
		OwnerID:     p.OwnerID,
		MemberCount: p.MemberCount,
		CreatedAt:   timeOrNow(p.CreatedAt, syncedAt),
		UpdatedAt:   timeOrNow(p.UpdatedAt, syncedAt),
		SyncedAt:    &syncedAt,
	}
}

func memberFromDoc(id string, m remote.MemberDoc, syncedAt time.Time) *model.ProjectMember {
	status := m.InvitationStatus
	if m.Role == model.RoleOwner {
		status = model.StatusAccepted
	}
	return &model.ProjectMember{
		ID:               id,
		ProjectID:        m.ProjectID,
		UserID:           m.UserID,
		Email:            m.Email,
		Role:             m.Role,
		InvitationStatus: status,
		Active:           m.Active,
		UpdatedAt:        timeOrNow(m.UpdatedAt, syncedAt),
		SyncedAt:         &syncedAt,
	}
}

func projectTaskFromDoc(id string, td remote.TaskDoc, syncedAt time.Time) *model.ProjectTask {
	return &model.ProjectTask{
		ID:          id,
		ProjectID:   td.ProjectID,
		Title:       td.Title,
		Content:     td.Content,
		Priority:    td.Priority,
		Completed:   td.Completed,
		CompletedAt: remote.Millis(td.CompletedAt),
		CompletedBy: td.CompletedBy,
		AssignedTo:  td.AssignedTo,
		CreatedBy:   td.CreatedBy,
		DueAt:       remote.Millis(td.DueAt),
		CreatedAt:   timeOrNow(td.CreatedAt, syncedAt),
		UpdatedAt:   timeOrNow(td.UpdatedAt, syncedAt),
		SyncedAt:    &syncedAt,
	}
}

func taskMirrorFromDoc(projectID, remoteID, projectName string, td remote.TaskDoc, syncedAt time.Time) *model.Task {
	return &model.Task{
		Title:             td.Title,
		Content:           td.Content,
		Priority:          td.Priority,
		Completed:         td.Completed,
		CompletedAt:       remote.Millis(td.CompletedAt),
		DueAt:             remote.Millis(td.DueAt),
		FromCollaboration: true,
		RemoteID:          remoteID,
		ProjectID:         projectID,
		ProjectName:       projectName,
		AssignedTo:        td.AssignedTo,
		CreatedBy:         td.CreatedBy,
		CreatedAt:         timeOrNow(td.CreatedAt, syncedAt),
		UpdatedAt:         timeOrNow(td.UpdatedAt, syncedAt),
		SyncedAt:          &syncedAt,
	}
}

func invitationFromDoc(id string, inv remote.InvitationDoc, syncedAt time.Time) *model.ProjectInvitation {
	return &model.ProjectInvitation{
		ID:           id,
		ProjectID:    inv.ProjectID,
		ProjectName:  inv.ProjectName,
		InviterEmail: inv.InviterEmail,
		InviteeEmail: inv.InviteeEmail,
		Status:       inv.Status,
		CreatedAt:    timeOrNow(inv.CreatedAt, syncedAt),
		UpdatedAt:    timeOrNow(inv.UpdatedAt, syncedAt),
		SyncedAt:     &syncedAt,
	}
}

func timeOrNow(ms int64, fallback time.Time) time.Time {
	if ms == 0 {
		return fallback
	}
	return time.UnixMilli(ms)
}
