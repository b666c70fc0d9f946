// Package sync keeps the local collaboration shadow tables consistent with
// the remote store and propagates local collaboration writes outward.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"geoplanner/internal/remote"
	"geoplanner/internal/repository"
	"geoplanner/internal/worker"
)

var ErrNotStarted = errors.New("sync engine not started")

// Engine mirrors the remote collaboration store into the local shadow tables.
// One listener pair (tasks + members) is held per project, plus root listeners
// for the user's memberships and invitations; the registry guarantees at most
// one listener per key.
type Engine struct {
	store    remote.Store
	projects *repository.ProjectRepository
	tasks    *repository.TaskRepository
	pool     *worker.Pool

	mu        sync.Mutex
	user      remote.User
	listeners map[string]*remote.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewEngine(store remote.Store, projects *repository.ProjectRepository, tasks *repository.TaskRepository, pool *worker.Pool) *Engine {
	return &Engine{
		store:     store,
		projects:  projects,
		tasks:     tasks,
		pool:      pool,
		listeners: make(map[string]*remote.Subscription),
	}
}

// Start resolves the current user and attaches the root listeners. Calling
// Start while already active is a no-op: the registry rejects duplicate keys.
func (e *Engine) Start(ctx context.Context) error {
	user, err := e.store.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	e.mu.Lock()
	if e.cancel == nil {
		e.ctx, e.cancel = context.WithCancel(context.Background())
	}
	e.user = user
	e.mu.Unlock()

	if err := e.listen(membershipKey(user.ID), membershipKey(user.ID), remote.Query{
		Collection: remote.CollectionMembers,
		Field:      "user_id",
		Value:      user.ID,
	}, e.applyMembershipSnapshot); err != nil {
		return err
	}

	return e.listen(invitationKey(user.Email), invitationKey(user.Email), remote.Query{
		Collection: remote.CollectionInvitations,
		Field:      "invitee_email",
		Value:      user.Email,
	}, e.applyInvitationSnapshot)
}

// Stop detaches every active listener and waits for their pumps to exit.
// Safe to call with nothing active. Queued store writes complete normally.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	subs := e.listeners
	e.listeners = make(map[string]*remote.Subscription)
	e.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	e.wg.Wait()
}

// PerformManualSync tears down all listeners and re-attaches them, forcing a
// fresh fetch of every query. Recovery path after a dropped connection.
func (e *Engine) PerformManualSync(ctx context.Context) error {
	e.mu.Lock()
	started := e.user.ID != ""
	e.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	e.Stop()
	return e.Start(ctx)
}

// ActiveListeners reports the current registry size.
func (e *Engine) ActiveListeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// listen attaches a listener unless one is already registered under key, then
// pumps its snapshots into the worker pool under poolKey. The registry key is
// unique per listener; poolKey is shared with every user-initiated operation
// that writes the same rows, so applies and local edits never interleave.
func (e *Engine) listen(key, poolKey string, query remote.Query, apply func(context.Context, remote.Snapshot)) error {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if _, dup := e.listeners[key]; dup {
		e.mu.Unlock()
		return nil
	}
	ctx := e.ctx
	e.mu.Unlock()

	sub, err := e.store.Subscribe(ctx, query)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", query, err)
	}

	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		sub.Close()
		return nil
	}
	if _, dup := e.listeners[key]; dup {
		e.mu.Unlock()
		sub.Close()
		return nil
	}
	e.listeners[key] = sub
	e.mu.Unlock()

	// Applies already queued when Stop runs must still land in full: a snapshot
	// write that dies halfway leaves the shadow tables torn. Detach the job
	// context from engine shutdown; Stop closes sub.C, which ends the pump.
	jobCtx := context.WithoutCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for snap := range sub.C {
			snap := snap
			if err := e.pool.Submit(poolKey, func() { apply(jobCtx, snap) }); err != nil {
				log.Printf("sync: drop snapshot %s: %v", snap.Query, err)
				return
			}
		}
	}()
	return nil
}

// unlisten closes and removes one listener; no-op when absent.
func (e *Engine) unlisten(key string) {
	e.mu.Lock()
	sub, ok := e.listeners[key]
	if ok {
		delete(e.listeners, key)
	}
	e.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// projectKey doubles as both the registry key for the project listener and the
// pool key for every write touching that project's rows; the tasks and members
// listeners keep their own registry keys but pump into projectKey.
func membershipKey(userID string) string  { return "memberships:" + userID }
func invitationKey(email string) string   { return "invitations:" + email }
func projectKey(projectID string) string  { return worker.ProjectKey(projectID) }
func taskListKey(projectID string) string { return "tasks:" + projectID }
func memberKey(projectID string) string   { return "members:" + projectID }
