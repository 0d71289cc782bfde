// Package store is the persistence side of the report engine: the report
// ledger, member profiles and the per-author rolling aggregates. Every
// mutation of UserMetrics and ActivityHeatCell goes through this package.
package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Store struct {
	db      *gorm.DB
	loc     *time.Location
	authors *keyedMutex
}

// New wraps db. loc is the single zone used to derive heatmap buckets and
// calendar days.
func New(db *gorm.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc, authors: newKeyedMutex()}
}

func (s *Store) Location() *time.Location { return s.loc }

// LockAuthor serializes all aggregate updates for one author. Different
// authors never contend. The returned func releases the lock.
func (s *Store) LockAuthor(authorID string) func() {
	return s.authors.Lock(authorID)
}

// Transaction runs fn in one database transaction; all of its writes
// become visible together or not at all.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// Day formats t as the YYYY-MM-DD calendar day in the store's zone.
func (s *Store) Day(t time.Time) string {
	return t.In(s.loc).Format(dayLayout)
}

const dayLayout = "2006-01-02"
