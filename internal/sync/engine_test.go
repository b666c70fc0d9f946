package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"geoplanner/internal/model"
	"geoplanner/internal/realtime"
	"geoplanner/internal/remote"
	"geoplanner/internal/repository"
	"geoplanner/internal/worker"
)

type fixture struct {
	engine   *Engine
	store    *remote.MemoryStore
	projects *repository.ProjectRepository
	tasks    *repository.TaskRepository
	pool     *worker.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	hub := realtime.NewHub()
	projects := repository.NewProjectRepository(db, hub)
	tasks := repository.NewTaskRepository(db, hub)
	store := remote.NewMemoryStore()
	store.SetUser(remote.User{ID: "u1", Email: "u1@example.com"})
	pool := worker.NewPool(2)
	t.Cleanup(pool.Stop)

	return &fixture{
		engine:   NewEngine(store, projects, tasks, pool),
		store:    store,
		projects: projects,
		tasks:    tasks,
		pool:     pool,
	}
}

// login primes the engine's identity without attaching listeners, keeping
// snapshot application under test control.
func (f *fixture) login() {
	f.engine.mu.Lock()
	f.engine.user = remote.User{ID: "u1", Email: "u1@example.com"}
	f.engine.mu.Unlock()
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	first := f.engine.ActiveListeners()
	assert.Equal(t, 2, first) // memberships + invitations

	require.NoError(t, f.engine.Start(ctx))
	assert.Equal(t, first, f.engine.ActiveListeners())

	f.engine.Stop()
	assert.Equal(t, 0, f.engine.ActiveListeners())
}

func TestStopWithoutListenersIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.engine.Stop()
	f.engine.Stop()
	assert.Equal(t, 0, f.engine.ActiveListeners())
}

func TestManualSyncBeforeStartFails(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.engine.PerformManualSync(context.Background()), ErrNotStarted)
}

func TestCreateProjectMirrorsLocally(t *testing.T) {
	f := newFixture(t)
	f.login()
	ctx := context.Background()

	project, err := f.engine.CreateProject(ctx, "Groceries", "shared list")
	require.NoError(t, err)
	require.NotEmpty(t, project.ID)

	got, err := f.projects.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Name)
	assert.Equal(t, "u1", got.OwnerID)

	members, err := f.projects.ListMembers(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, model.RoleOwner, members[0].Role)
	assert.Equal(t, model.StatusAccepted, members[0].InvitationStatus)
}

type memberCreateFails struct {
	*remote.MemoryStore
}

func (s memberCreateFails) CreateDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if collection == remote.CollectionMembers {
		return "", fmt.Errorf("backend unavailable")
	}
	return s.MemoryStore.CreateDocument(ctx, collection, fields)
}

func TestCreateProjectRemoteFailureLeavesNoLocalState(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.engine.store = memberCreateFails{f.store}
	ctx := context.Background()

	_, err := f.engine.CreateProject(ctx, "Doomed", "")
	require.Error(t, err)

	projects, err := f.projects.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestCreateProjectRejectsEmptyName(t *testing.T) {
	f := newFixture(t)
	f.login()

	_, err := f.engine.CreateProject(context.Background(), "   ", "")
	require.Error(t, err)
}

func taskSnapshot(t *testing.T, projectID string, docs ...remote.TaskDoc) remote.Snapshot {
	t.Helper()
	snap := remote.Snapshot{Query: remote.Query{Collection: remote.CollectionTasks, Field: "project_id", Value: projectID}}
	for i, doc := range docs {
		fields, err := remote.Fields(doc)
		require.NoError(t, err)
		snap.Docs = append(snap.Docs, remote.Document{ID: fmt.Sprintf("r%d", i+1), Fields: fields})
	}
	return snap
}

func TestApplyTaskSnapshotMaterializesMirror(t *testing.T) {
	f := newFixture(t)
	f.login()
	ctx := context.Background()

	now := time.Now()
	f.engine.applyTaskSnapshot(ctx, "p1", taskSnapshot(t, "p1", remote.TaskDoc{
		ProjectID: "p1",
		Title:     "shared task",
		CreatedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}))

	shadow, err := f.projects.GetProjectTask(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "shared task", shadow.Title)

	mirror, err := f.tasks.FindByRemote(ctx, "p1", "r1")
	require.NoError(t, err)
	assert.True(t, mirror.FromCollaboration)
	assert.Equal(t, "shared task", mirror.Title)

	// Task disappears remotely: next snapshot prunes both tables.
	f.engine.applyTaskSnapshot(ctx, "p1", taskSnapshot(t, "p1"))

	_, err = f.projects.GetProjectTask(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrProjectTaskNotFound)
	_, err = f.tasks.FindByRemote(ctx, "p1", "r1")
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
}

func TestLastWriterWins(t *testing.T) {
	f := newFixture(t)
	f.login()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	syncedAt := base.Add(50 * time.Millisecond)
	localEdit := base.Add(100 * time.Millisecond)

	require.NoError(t, f.projects.UpsertProjectTask(ctx, &model.ProjectTask{
		ID:        "r1",
		ProjectID: "p1",
		Title:     "A",
		CreatedAt: base,
		UpdatedAt: localEdit,
		SyncedAt:  &syncedAt,
	}))
	require.NoError(t, f.tasks.Create(ctx, &model.Task{
		Title:             "A",
		FromCollaboration: true,
		ProjectID:         "p1",
		RemoteID:          "r1",
		CreatedAt:         base,
		UpdatedAt:         localEdit,
		SyncedAt:          &syncedAt,
	}))

	// Stale remote snapshot (t=90 < local edit at t=100) arrives after the
	// local write completed: the local title must survive.
	f.engine.applyTaskSnapshot(ctx, "p1", taskSnapshot(t, "p1", remote.TaskDoc{
		ProjectID: "p1",
		Title:     "B",
		CreatedAt: base.UnixMilli(),
		UpdatedAt: base.Add(90 * time.Millisecond).UnixMilli(),
	}))

	shadow, err := f.projects.GetProjectTask(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "A", shadow.Title)
	mirror, err := f.tasks.FindByRemote(ctx, "p1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "A", mirror.Title)

	// A genuinely newer remote write (t=200) wins in either arrival order.
	f.engine.applyTaskSnapshot(ctx, "p1", taskSnapshot(t, "p1", remote.TaskDoc{
		ProjectID: "p1",
		Title:     "B",
		CreatedAt: base.UnixMilli(),
		UpdatedAt: base.Add(200 * time.Millisecond).UnixMilli(),
	}))

	shadow, err = f.projects.GetProjectTask(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "B", shadow.Title)
	mirror, err = f.tasks.FindByRemote(ctx, "p1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "B", mirror.Title)
}

func TestLocalWins(t *testing.T) {
	t50 := time.UnixMilli(50)
	t90 := time.UnixMilli(90)
	t100 := time.UnixMilli(100)

	// Local edit newer than remote and not sync-produced: local wins.
	assert.True(t, localWins(t100, &t50, t90))
	// Row was itself written by sync: remote wins regardless.
	assert.False(t, localWins(t100, &t100, t90))
	// Remote newer: remote wins.
	assert.False(t, localWins(t90, &t50, t100))
	// Never-synced local row with newer edit: local wins.
	assert.True(t, localWins(t100, nil, t90))
}

func TestAddProjectTaskRejectsEmptyTitle(t *testing.T) {
	f := newFixture(t)
	f.login()

	_, err := f.engine.AddProjectTask(context.Background(), "p1", ProjectTaskInput{Title: "  "})
	require.Error(t, err)
}

func TestToggleTaskCompletionRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.login()
	ctx := context.Background()

	// Seed a shared task through the normal creation path.
	require.NoError(t, f.projects.UpsertProject(ctx, &model.Project{ID: "p1", Name: "List"}))
	created, err := f.engine.AddProjectTask(ctx, "p1", ProjectTaskInput{Title: "shared"})
	require.NoError(t, err)

	require.NoError(t, f.engine.ToggleTaskCompletion(ctx, "p1", created.ID, true))

	shadow, err := f.projects.GetProjectTask(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, shadow.Completed)
	require.NotNil(t, shadow.CompletedAt)
	assert.Equal(t, "u1", shadow.CompletedBy)

	mirror, err := f.tasks.FindByRemote(ctx, "p1", created.ID)
	require.NoError(t, err)
	assert.True(t, mirror.Completed)

	require.NoError(t, f.engine.ToggleTaskCompletion(ctx, "p1", created.ID, false))
	shadow, err = f.projects.GetProjectTask(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, shadow.Completed)
	assert.Nil(t, shadow.CompletedAt)
}

// seedRemoteProject creates a project document with a task in the store and
// returns both ids.
func seedRemoteProject(t *testing.T, ctx context.Context, store *remote.MemoryStore) (projectID, taskID string) {
	t.Helper()
	now := time.Now()

	fields, err := remote.Fields(remote.ProjectDoc{
		Name:      "List",
		OwnerID:   "u1",
		CreatedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	})
	require.NoError(t, err)
	projectID, err = store.CreateDocument(ctx, remote.CollectionProjects, fields)
	require.NoError(t, err)

	fields, err = remote.Fields(remote.TaskDoc{
		ProjectID: projectID,
		Title:     "shared task",
		CreatedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	})
	require.NoError(t, err)
	taskID, err = store.CreateDocument(ctx, remote.CollectionTasks, fields)
	require.NoError(t, err)
	return projectID, taskID
}

// Every listener of a project pumps its applies into the project's pool key.
// A job blocking that key must therefore hold back the task snapshot apply;
// if the apply ran under a different key it would land concurrently and could
// interleave with a local edit to the same rows.
func TestSnapshotAppliesShareProjectWriteKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Start(ctx))
	defer f.engine.Stop()

	projectID, taskID := seedRemoteProject(t, ctx, f.store)

	gate := make(chan struct{})
	released := false
	release := func() {
		if !released {
			released = true
			close(gate)
		}
	}
	defer release()
	require.NoError(t, f.pool.Submit(projectKey(projectID), func() { <-gate }))

	f.engine.watchProject(projectID)

	assert.Never(t, func() bool {
		_, err := f.tasks.FindByRemote(ctx, projectID, taskID)
		return err == nil
	}, 200*time.Millisecond, 20*time.Millisecond)

	release()
	require.Eventually(t, func() bool {
		_, err := f.tasks.FindByRemote(ctx, projectID, taskID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

// Applies still queued when the engine stops must land in full: a snapshot
// write dying halfway would leave the shadow tables torn.
func TestQueuedApplyCompletesAfterStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Start(ctx))

	projectID, taskID := seedRemoteProject(t, ctx, f.store)

	gate := make(chan struct{})
	require.NoError(t, f.pool.Submit(projectKey(projectID), func() { <-gate }))

	f.engine.watchProject(projectID)

	// Let the pumps enqueue the seeded snapshots behind the gate, then stop
	// the engine with the applies still queued.
	time.Sleep(100 * time.Millisecond)
	f.engine.Stop()

	close(gate)
	require.Eventually(t, func() bool {
		_, err := f.tasks.FindByRemote(ctx, projectID, taskID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRespondToInvitationAcceptJoinsProject(t *testing.T) {
	f := newFixture(t)
	f.login()
	ctx := context.Background()

	now := time.Now()
	fields, err := remote.Fields(remote.InvitationDoc{
		ProjectID:    "p1",
		ProjectName:  "List",
		InviterEmail: "owner@example.com",
		InviteeEmail: "u1@example.com",
		Status:       model.StatusPending,
		CreatedAt:    now.UnixMilli(),
		UpdatedAt:    now.UnixMilli(),
	})
	require.NoError(t, err)
	invID, err := f.store.CreateDocument(ctx, remote.CollectionInvitations, fields)
	require.NoError(t, err)
	require.NoError(t, f.projects.UpsertInvitation(ctx, &model.ProjectInvitation{
		ID:           invID,
		ProjectID:    "p1",
		ProjectName:  "List",
		InviteeEmail: "u1@example.com",
		Status:       model.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	require.NoError(t, f.engine.RespondToInvitation(ctx, invID, true))

	inv, err := f.projects.GetInvitation(ctx, invID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, inv.Status)

	// Responding twice is rejected: the invitation is no longer pending.
	assert.Error(t, f.engine.RespondToInvitation(ctx, invID, false))
}
