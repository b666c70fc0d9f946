// Package remote defines the collaboration store contract: document CRUD plus
// subscription-style listeners delivering full result-set snapshots.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Collections of the collaboration store.
const (
	CollectionProjects    = "projects"
	CollectionMembers     = "project_members"
	CollectionTasks       = "project_tasks"
	CollectionInvitations = "project_invitations"
)

var (
	ErrNotFound  = errors.New("remote: document not found")
	ErrNoUser    = errors.New("remote: no authenticated user")
	ErrSubClosed = errors.New("remote: subscription closed")
)

// Document is one record of a collection. Fields hold the raw document body;
// Decode converts it into a typed view.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Query selects the documents of a collection matching one equality filter.
// A zero Field matches the whole collection; the special field "id" addresses
// a single document by its id.
type Query struct {
	Collection string
	Field      string
	Value      string
}

func (q Query) String() string {
	if q.Field == "" {
		return q.Collection
	}
	return fmt.Sprintf("%s[%s=%s]", q.Collection, q.Field, q.Value)
}

// Snapshot is the full result set of a query at one point in time. Listeners
// receive snapshots in delivery order per subscription; no ordering holds
// across subscriptions.
type Snapshot struct {
	Query Query
	Docs  []Document
}

// Subscription is a long-lived listener. Snapshots arrives on C until Close.
type Subscription struct {
	C      <-chan Snapshot
	cancel func()
}

func NewSubscription(c <-chan Snapshot, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Close detaches the listener. Safe to call more than once.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// User is the authenticated identity of the collaboration store.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Store is the remote collaboration store contract.
type Store interface {
	CreateDocument(ctx context.Context, collection string, fields map[string]any) (string, error)
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error
	DeleteDocument(ctx context.Context, collection, id string) error
	Subscribe(ctx context.Context, query Query) (*Subscription, error)
	CurrentUser(ctx context.Context) (User, error)
}

// Wire views of the collaboration documents.

type ProjectDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
	MemberCount int    `json:"member_count"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type MemberDoc struct {
	ProjectID        string `json:"project_id"`
	UserID           string `json:"user_id"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	InvitationStatus string `json:"invitation_status"`
	Active           bool   `json:"active"`
	UpdatedAt        int64  `json:"updated_at"`
}

type TaskDoc struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Priority    int    `json:"priority"`
	Completed   bool   `json:"completed"`
	CompletedAt int64  `json:"completed_at"`
	CompletedBy string `json:"completed_by"`
	AssignedTo  string `json:"assigned_to"`
	CreatedBy   string `json:"created_by"`
	DueAt       int64  `json:"due_at"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type InvitationDoc struct {
	ProjectID    string `json:"project_id"`
	ProjectName  string `json:"project_name"`
	InviterEmail string `json:"inviter_email"`
	InviteeEmail string `json:"invitee_email"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Decode converts a document body into a typed wire view.
func Decode[T any](doc Document) (T, error) {
	var v T
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return v, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	return v, nil
}

// Fields converts a typed wire view into a document body.
func Fields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

// Millis converts a wire timestamp to time.Time; zero maps to nil.
func Millis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

// ToMillis is the inverse of Millis.
func ToMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
