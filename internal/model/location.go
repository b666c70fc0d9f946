package model

import "time"

// Location is a named circular region owning zero or more tasks.
type Location struct {
	ID           uint `gorm:"primaryKey"`
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	// No default tag: GORM omits zero values for columns carrying one, which
	// would turn an explicit Enabled=false into true on insert.
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Tasks     []Task `gorm:"foreignKey:LocationID"`
}
