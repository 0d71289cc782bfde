package db

import (
	"time"

	"gorm.io/gorm"

	"reportinsight/internal/logger"
)

const archiveBatchSize = 500

// runArchiveOnce moves reviewed reports submitted before cutoff into the
// archived_reports table, one transaction per batch. Pending reports are
// never archived. Returns the number of reports moved.
func runArchiveOnce(db *gorm.DB, cutoff time.Time) (int, error) {
	moved := 0
	for {
		var batch []Report
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("state <> ? AND submitted_at <= ?", StatePending, cutoff).
				Order("submitted_at").
				Limit(archiveBatchSize).
				Find(&batch).Error; err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}

			now := time.Now().UTC()
			archived := make([]ArchivedReport, 0, len(batch))
			ids := make([]string, 0, len(batch))
			for _, r := range batch {
				archived = append(archived, ArchivedReport{Report: r, ArchivedAt: now})
				ids = append(ids, r.ID)
			}
			if err := tx.Create(&archived).Error; err != nil {
				return err
			}
			return tx.Where("id IN ?", ids).Delete(&Report{}).Error
		})
		if err != nil {
			return moved, err
		}
		moved += len(batch)
		if len(batch) < archiveBatchSize {
			return moved, nil
		}
	}
}

// StartArchiveWorker launches a background goroutine that runs the archive
// pass once at startup and then once per day. Zero days disables it.
func StartArchiveWorker(db *gorm.DB, days int, log *logger.Logger) {
	if days <= 0 {
		return
	}
	run := func() {
		cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
		n, err := runArchiveOnce(db, cutoff)
		if err != nil {
			log.Error("archive pass failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("archived reports", "count", n, "cutoff", cutoff.Format(time.RFC3339))
		}
	}

	go func() {
		run()

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			run()
		}
	}()
}
