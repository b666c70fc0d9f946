package model

import "time"

// Invitation / membership statuses as stored by the remote collaboration store.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
	StatusRejected = "rejected"

	RoleOwner  = "owner"
	RoleMember = "member"
)

// Project is the local shadow of a remote shared project.
type Project struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	Description string
	OwnerID     string `gorm:"index"`
	MemberCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SyncedAt    *time.Time
}

// ProjectMember binds a project to a user. A member with RoleOwner always has
// InvitationStatus StatusAccepted.
type ProjectMember struct {
	ID               string `gorm:"primaryKey"`
	ProjectID        string `gorm:"index"`
	UserID           string `gorm:"index"`
	Email            string
	Role             string
	InvitationStatus string
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SyncedAt         *time.Time
}

// ProjectTask is the local shadow of a task inside a shared project.
type ProjectTask struct {
	ID          string `gorm:"primaryKey"`
	ProjectID   string `gorm:"index"`
	Title       string
	Content     string
	Priority    int
	Completed   bool `gorm:"default:false"`
	CompletedAt *time.Time
	CompletedBy string
	AssignedTo  string
	CreatedBy   string
	DueAt       *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SyncedAt    *time.Time
}

// ProjectInvitation links a project to an invitee email.
type ProjectInvitation struct {
	ID           string `gorm:"primaryKey"`
	ProjectID    string `gorm:"index"`
	ProjectName  string
	InviterEmail string
	InviteeEmail string `gorm:"index"`
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SyncedAt     *time.Time
}
