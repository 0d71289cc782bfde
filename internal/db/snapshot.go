package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"reportinsight/internal/logger"
)

// SnapshotFunc computes the KPI snapshot rows for one day (YYYY-MM-DD).
type SnapshotFunc func(day string) ([]KPISnapshot, error)

// UpsertKPISnapshots writes rows keyed by (author, day), replacing values
// of rows that already exist.
func UpsertKPISnapshots(db *gorm.DB, rows []KPISnapshot) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			var existing KPISnapshot
			err := tx.Where("author_id = ? AND day = ?", row.AuthorID, row.Day).First(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				err = tx.Create(&row).Error
			} else if err == nil {
				err = tx.Model(&existing).Updates(map[string]interface{}{
					"kpi":            row.KPI,
					"total_reports":  row.TotalReports,
					"approved_count": row.ApprovedCount,
					"rejected_count": row.RejectedCount,
					"duplicates":     row.Duplicates,
					"type_diversity": row.TypeDiversity,
				}).Error
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// StartSnapshotWorker snapshots the current day at startup and then every
// hour, so the row for a day converges to its end-of-day value. Days are in
// loc.
func StartSnapshotWorker(db *gorm.DB, loc *time.Location, compute SnapshotFunc, log *logger.Logger) {
	run := func(t time.Time) {
		day := t.In(loc).Format("2006-01-02")
		rows, err := compute(day)
		if err == nil {
			err = UpsertKPISnapshots(db, rows)
		}
		if err != nil {
			log.Error("kpi snapshot failed", "day", day, "error", err)
			return
		}
		log.Debug("kpi snapshot written", "day", day, "authors", len(rows))
	}

	go func() {
		run(time.Now())

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for t := range ticker.C {
			run(t)
		}
	}()
}
