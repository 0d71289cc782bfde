package db

import (
	"time"
)

// SourceKey is a bearer token for an ingestion channel. Reports posted
// with a key are tagged with the key's Name as their source channel.
type SourceKey struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// ManagerID links this key to the manager who created it.
	ManagerID uint `gorm:"index;not null"`

	// Name is the source channel tag (e.g. "web", "telegram", "crm").
	Name string `gorm:"size:64;not null"`

	// Key is the actual bearer token value (stored as-is, should be unique).
	Key string `gorm:"uniqueIndex;size:255;not null"`

	// Active indicates whether this key is currently enabled.
	Active bool `gorm:"default:true"`

	Manager Manager `gorm:"foreignKey:ManagerID"`
}
