package db

import (
	"time"
)

// Manager is a reviewer who can approve or reject reports and read the
// dashboard endpoints. The bootstrap manager (from env) is created as a row
// in this table on startup.
type Manager struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	// IsAdmin marks managers that can create other managers and source
	// keys. The bootstrap manager will have IsAdmin=true.
	IsAdmin bool `gorm:"default:false"`
}
