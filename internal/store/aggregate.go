package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"reportinsight/internal/db"
)

// SubmissionDelta is everything RecordSubmission folds into the author's
// aggregates for one accepted report.
type SubmissionDelta struct {
	AuthorID   string
	Length     int
	TaskType   string
	Suspicious bool
	Duplicate  bool
	At         time.Time
}

// submissionColumns excludes role and the approval-scoped counters so a
// submission never overwrites them.
var submissionColumns = []string{
	"total_reports", "avg_length", "task_counts", "suspicious_count",
	"duplicate_count", "first_report_at", "last_report_at", "updated_at",
}

// RecordSubmission applies one report to the author's UserMetrics and
// ActivityHeatCell. The caller must hold the author lock and pass the
// transaction the report row is written in.
func (s *Store) RecordSubmission(ctx context.Context, tx *gorm.DB, d SubmissionDelta) error {
	conn := s.conn(ctx, tx)

	m, created, err := s.loadOrInitMetrics(conn, d.AuthorID, d.At)
	if err != nil {
		return err
	}

	m.TotalReports++
	m.AvgLength += (float64(d.Length) - m.AvgLength) / float64(m.TotalReports)

	counts := copyCounts(m.TaskCounts.Data())
	counts[d.TaskType]++
	m.TaskCounts = datatypes.NewJSONType(counts)

	if d.Suspicious {
		m.SuspiciousCount++
	}
	if d.Duplicate {
		m.DuplicateCount++
	}
	// Deliveries can arrive out of order; keep the true extremes.
	if d.At.After(m.LastReportAt) {
		m.LastReportAt = d.At
	}
	if d.At.Before(m.FirstReportAt) {
		m.FirstReportAt = d.At
	}

	if created {
		err = conn.Create(m).Error
	} else {
		err = conn.Model(m).Select(submissionColumns).Updates(m).Error
	}
	if err != nil {
		return err
	}

	return s.bumpHeatCell(conn, d.AuthorID, d.At)
}

func (s *Store) bumpHeatCell(conn *gorm.DB, authorID string, at time.Time) error {
	local := at.In(s.loc)
	day, hour := int(local.Weekday()), local.Hour()

	res := conn.Model(&db.ActivityHeatCell{}).
		Where("author_id = ? AND day = ? AND hour = ?", authorID, day, hour).
		UpdateColumn("count", gorm.Expr("count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return conn.Create(&db.ActivityHeatCell{AuthorID: authorID, Day: day, Hour: hour, Count: 1}).Error
}

// RecordApproval advances the approval-scoped counters. conversions are
// added to the author's approved sums; the task-type histogram is not
// touched.
func (s *Store) RecordApproval(ctx context.Context, tx *gorm.DB, authorID string, conversions db.Counts) error {
	conn := s.conn(ctx, tx)

	m, err := s.metricsFor(conn, authorID)
	if err != nil {
		return err
	}

	sums := copyCounts(m.ApprovedConversions.Data())
	for k, v := range conversions {
		sums[k] += v
	}

	return conn.Model(m).Updates(map[string]interface{}{
		"approved_count":       m.ApprovedCount + 1,
		"approved_conversions": datatypes.NewJSONType(sums),
	}).Error
}

// RecordRejection advances the rejected counter.
func (s *Store) RecordRejection(ctx context.Context, tx *gorm.DB, authorID string) error {
	conn := s.conn(ctx, tx)

	m, err := s.metricsFor(conn, authorID)
	if err != nil {
		return err
	}
	return conn.Model(m).Update("rejected_count", m.RejectedCount+1).Error
}

// GetMetrics returns the author's aggregates or gorm.ErrRecordNotFound.
func (s *Store) GetMetrics(ctx context.Context, authorID string) (*db.UserMetrics, error) {
	return s.metricsFor(s.conn(ctx, nil), authorID)
}

// ListMetrics returns every author's aggregates ordered by author id.
func (s *Store) ListMetrics(ctx context.Context) ([]db.UserMetrics, error) {
	var rows []db.UserMetrics
	if err := s.conn(ctx, nil).Order("author_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MetricsFor returns aggregates for the given authors keyed by author id.
// Unknown ids are absent from the map.
func (s *Store) MetricsFor(ctx context.Context, authorIDs []string) (map[string]db.UserMetrics, error) {
	out := make(map[string]db.UserMetrics, len(authorIDs))
	if len(authorIDs) == 0 {
		return out, nil
	}
	var rows []db.UserMetrics
	if err := s.conn(ctx, nil).Where("author_id IN ?", authorIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.AuthorID] = r
	}
	return out, nil
}

// SetRole updates the author's role tag under the author lock.
func (s *Store) SetRole(ctx context.Context, authorID, role string) error {
	unlock := s.LockAuthor(authorID)
	defer unlock()

	res := s.conn(ctx, nil).Model(&db.UserMetrics{}).
		Where("author_id = ?", authorID).
		Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetHeatmap returns heat cells for one author, or for everyone when
// authorID is empty, ordered by author, day and hour.
func (s *Store) GetHeatmap(ctx context.Context, authorID string) ([]db.ActivityHeatCell, error) {
	q := s.conn(ctx, nil).Model(&db.ActivityHeatCell{})
	if authorID != "" {
		q = q.Where("author_id = ?", authorID)
	}
	var cells []db.ActivityHeatCell
	if err := q.Order("author_id, day, hour").Find(&cells).Error; err != nil {
		return nil, err
	}
	return cells, nil
}

func (s *Store) metricsFor(conn *gorm.DB, authorID string) (*db.UserMetrics, error) {
	var m db.UserMetrics
	if err := conn.Where("author_id = ?", authorID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) loadOrInitMetrics(conn *gorm.DB, authorID string, at time.Time) (*db.UserMetrics, bool, error) {
	m, err := s.metricsFor(conn, authorID)
	if err == nil {
		return m, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return &db.UserMetrics{
		AuthorID:            authorID,
		TaskCounts:          datatypes.NewJSONType(db.Counts{}),
		ApprovedConversions: datatypes.NewJSONType(db.Counts{}),
		FirstReportAt:       at,
		LastReportAt:        at,
	}, true, nil
}

func copyCounts(in db.Counts) db.Counts {
	out := make(db.Counts, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
