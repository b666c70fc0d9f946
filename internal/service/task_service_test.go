package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoplanner/internal/model"
	"geoplanner/internal/service"
	"geoplanner/internal/worker"
)

func TestCreateTaskValidatesInput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tasks.Create(ctx, service.TaskInput{Title: "   "})
	require.Error(t, err)

	_, err = e.tasks.Create(ctx, service.TaskInput{Title: "x", EstimatedMinutes: -1})
	require.Error(t, err)

	missing := uint(4242)
	_, err = e.tasks.Create(ctx, service.TaskInput{Title: "x", LocationID: &missing})
	require.Error(t, err)
}

// Edits to a collaboration mirror row serialize on the project's pool key,
// shared with the snapshot applies of the sync engine. If the edit took a
// per-task key instead, an apply to the same row could run concurrently and
// overwrite it.
func TestMirrorEditSerializesOnProjectKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	mirror := &model.Task{
		Title:             "shared",
		FromCollaboration: true,
		ProjectID:         "p1",
		RemoteID:          "r1",
	}
	require.NoError(t, e.taskRepo.Create(ctx, mirror))

	gate := make(chan struct{})
	released := false
	release := func() {
		if !released {
			released = true
			close(gate)
		}
	}
	defer release()
	require.NoError(t, e.pool.Submit(worker.ProjectKey("p1"), func() { <-gate }))

	done := make(chan error, 1)
	go func() {
		_, err := e.tasks.SetCompleted(context.Background(), mirror.ID, true, time.Now())
		done <- err
	}()

	assert.Never(t, func() bool {
		got, err := e.taskRepo.GetByID(ctx, mirror.ID)
		return err == nil && got.Completed
	}, 200*time.Millisecond, 20*time.Millisecond)

	release()
	require.NoError(t, <-done)
	got, err := e.taskRepo.GetByID(ctx, mirror.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
}
