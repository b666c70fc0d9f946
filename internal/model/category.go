package model

import "time"

// Category groups tasks by area (work, health, study, etc.).
type Category struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"uniqueIndex"`
	Color      string
	Icon       string
	IsDefault  bool `gorm:"default:false"`
	OrderIndex int
	CreatedAt  time.Time
	Tasks      []Task `gorm:"foreignKey:CategoryID"`
}
