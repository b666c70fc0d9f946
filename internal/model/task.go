package model

import "time"

// Task represents a single to-do item, local or mirrored from a shared project.
type Task struct {
	ID         uint  `gorm:"primaryKey"`
	CategoryID *uint `gorm:"index"`
	Title      string
	Content    string
	Priority   int

	Completed   bool `gorm:"default:false"`
	CompletedAt *time.Time
	Archived    bool `gorm:"index;default:false"`

	EstimatedMinutes int
	ActualMinutes    int
	DueAt            *time.Time `gorm:"index"`

	// Location fields; a task carries a copy of its location so geofence
	// registration does not need a join.
	LocationID      *uint `gorm:"index"`
	LocationName    string
	Latitude        *float64
	Longitude       *float64
	RadiusMeters    float64
	LocationEnabled bool `gorm:"default:false"`

	// Collaboration mirror fields. FromCollaboration implies RemoteID and
	// ProjectID are set.
	FromCollaboration bool   `gorm:"default:false"`
	RemoteID          string `gorm:"index"`
	ProjectID         string `gorm:"index"`
	ProjectName       string
	AssignedTo        string
	CreatedBy         string

	// SyncedAt marks rows last written by the sync engine; rows whose
	// UpdatedAt is newer than SyncedAt carry a local edit that must not be
	// overwritten by a stale remote snapshot.
	SyncedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRegion reports whether the task describes a complete circular region
// eligible for geofence registration.
func (t *Task) HasRegion() bool {
	return t.LocationEnabled && t.Latitude != nil && t.Longitude != nil && t.RadiusMeters > 0
}
