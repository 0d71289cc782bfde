package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"reportinsight/internal/db"
)

// MemberProfile carries the optional profile fields that arrive with a
// report. Empty fields never overwrite stored values.
type MemberProfile struct {
	ID          string
	Username    string
	DisplayName string
	ChatID      string
}

// InsertReport writes a new report row. A reused idempotency key fails
// with gorm.ErrDuplicatedKey.
func (s *Store) InsertReport(ctx context.Context, tx *gorm.DB, r *db.Report) error {
	return s.conn(ctx, tx).Create(r).Error
}

// FindByIdempotencyKey returns the live report carrying key, or nil.
func (s *Store) FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*db.Report, error) {
	var r db.Report
	if err := s.conn(ctx, tx).Where("idempotency_key = ?", key).Limit(1).Find(&r).Error; err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, nil
	}
	return &r, nil
}

// RecentTexts returns up to limit of the author's report texts, live and
// archived, most recent submission first.
func (s *Store) RecentTexts(ctx context.Context, tx *gorm.DB, authorID string, limit int) ([]string, error) {
	reports, err := s.latestReports(s.conn(ctx, tx), authorID, limit, "text", "submitted_at", "created_at")
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(reports))
	for i := range reports {
		texts[i] = reports[i].Text
	}
	return texts, nil
}

// latestReports merges the author's newest rows from the live ledger and
// the archive, ordered by submitted_at then created_at, newest first.
// Archived rows are usually older, but out-of-order delivery can leave an
// older pending report live, so both tables are read up to limit.
func (s *Store) latestReports(conn *gorm.DB, authorID string, limit int, columns ...string) ([]db.Report, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := func(model interface{}) *gorm.DB {
		q := conn.Model(model).
			Where("author_id = ?", authorID).
			Order("submitted_at DESC, created_at DESC").
			Limit(limit)
		if len(columns) > 0 {
			q = q.Select(columns)
		}
		return q
	}

	var live []db.Report
	if err := query(&db.Report{}).Find(&live).Error; err != nil {
		return nil, err
	}
	var cold []db.ArchivedReport
	if err := query(&db.ArchivedReport{}).Find(&cold).Error; err != nil {
		return nil, err
	}

	out := make([]db.Report, 0, len(live)+len(cold))
	out = append(out, live...)
	for i := range cold {
		out = append(out, cold[i].Report)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindReport looks a report up in the live ledger and then in the
// archive. archived reports whether it came from the archive.
func (s *Store) FindReport(ctx context.Context, id string) (r *db.Report, archived bool, err error) {
	var live db.Report
	err = s.conn(ctx, nil).Where("id = ?", id).First(&live).Error
	if err == nil {
		return &live, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	var cold db.ArchivedReport
	if err := s.conn(ctx, nil).Where("id = ?", id).First(&cold).Error; err != nil {
		return nil, false, err
	}
	return &cold.Report, true, nil
}

// ReviewUpdate is the set of fields a review writes onto a pending report.
type ReviewUpdate struct {
	State        string
	Corrections  db.Counts
	EffectiveDay string
	ReviewedAt   time.Time
	ReviewedBy   string
}

// TransitionReport moves a pending report to a terminal state. It reports
// false, without error, when the report is no longer pending.
func (s *Store) TransitionReport(ctx context.Context, tx *gorm.DB, id string, u ReviewUpdate) (bool, error) {
	updates := map[string]interface{}{
		"state":       u.State,
		"reviewed_at": u.ReviewedAt,
		"reviewed_by": u.ReviewedBy,
	}
	if u.State == db.StateApproved {
		corrections := u.Corrections
		if corrections == nil {
			corrections = db.Counts{}
		}
		updates["corrections"] = datatypes.NewJSONType(corrections)
		updates["effective_day"] = u.EffectiveDay
	}

	res := s.conn(ctx, tx).Model(&db.Report{}).
		Where("id = ? AND state = ?", id, db.StatePending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PendingReports lists the review queue oldest first, optionally limited to
// one source channel.
func (s *Store) PendingReports(ctx context.Context, source string, limit int) ([]db.Report, error) {
	q := s.conn(ctx, nil).Where("state = ?", db.StatePending)
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var out []db.Report
	if err := q.Order("submitted_at, id").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RecentReports returns the author's latest n reports, live and archived.
func (s *Store) RecentReports(ctx context.Context, authorID string, n int) ([]db.Report, error) {
	return s.latestReports(s.conn(ctx, nil), authorID, n)
}

// Approval is the slice of an approved report the ranking queries need.
type Approval struct {
	AuthorID     string
	EffectiveDay string
	Conversions  db.Counts
}

// ApprovedInRange returns approved reports, live and archived, whose
// effective day lies in [startDay, endDay].
func (s *Store) ApprovedInRange(ctx context.Context, startDay, endDay string) ([]Approval, error) {
	return s.approvals(ctx, "", startDay, endDay)
}

// AuthorApprovedInRange is ApprovedInRange for a single author.
func (s *Store) AuthorApprovedInRange(ctx context.Context, authorID, startDay, endDay string) ([]Approval, error) {
	return s.approvals(ctx, authorID, startDay, endDay)
}

func (s *Store) approvals(ctx context.Context, authorID, startDay, endDay string) ([]Approval, error) {
	var out []Approval
	for _, model := range []interface{}{&db.Report{}, &db.ArchivedReport{}} {
		q := s.conn(ctx, nil).Model(model).
			Select("author_id", "effective_day", "corrections").
			Where("state = ? AND effective_day >= ? AND effective_day <= ?", db.StateApproved, startDay, endDay)
		if authorID != "" {
			q = q.Where("author_id = ?", authorID)
		}
		var rows []db.Report
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		for i := range rows {
			out = append(out, Approval{
				AuthorID:     rows[i].AuthorID,
				EffectiveDay: rows[i].EffectiveDay,
				Conversions:  rows[i].ConversionCounts(),
			})
		}
	}
	return out, nil
}

// SubmissionTimes returns submission timestamps in [from, to), live and
// archived.
func (s *Store) SubmissionTimes(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, model := range []interface{}{&db.Report{}, &db.ArchivedReport{}} {
		var ts []time.Time
		err := s.conn(ctx, nil).Model(model).
			Where("submitted_at >= ? AND submitted_at < ?", from, to).
			Pluck("submitted_at", &ts).Error
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

// EnsureMember creates the member on first sight and fills in profile
// fields that arrive later. joined_at follows the earliest report seen, so
// an out-of-order delivery moves it back.
func (s *Store) EnsureMember(ctx context.Context, tx *gorm.DB, p MemberProfile, joinedAt time.Time) error {
	conn := s.conn(ctx, tx)

	var m db.Member
	err := conn.Where("id = ?", p.ID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return conn.Create(&db.Member{
			ID:          p.ID,
			Username:    p.Username,
			DisplayName: p.DisplayName,
			ChatID:      p.ChatID,
			JoinedAt:    joinedAt,
		}).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if p.Username != "" && p.Username != m.Username {
		updates["username"] = p.Username
	}
	if p.DisplayName != "" && p.DisplayName != m.DisplayName {
		updates["display_name"] = p.DisplayName
	}
	if p.ChatID != "" && p.ChatID != m.ChatID {
		updates["chat_id"] = p.ChatID
	}
	if joinedAt.Before(m.JoinedAt) {
		updates["joined_at"] = joinedAt
	}
	if len(updates) == 0 {
		return nil
	}
	return conn.Model(&m).Updates(updates).Error
}

// GetMember returns the member or gorm.ErrRecordNotFound.
func (s *Store) GetMember(ctx context.Context, id string) (*db.Member, error) {
	var m db.Member
	if err := s.conn(ctx, nil).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MembersByID loads the given members keyed by id.
func (s *Store) MembersByID(ctx context.Context, ids []string) (map[string]db.Member, error) {
	out := make(map[string]db.Member, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []db.Member
	if err := s.conn(ctx, nil).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.ID] = m
	}
	return out, nil
}

// MemberJoinTimes returns join timestamps in [from, to).
func (s *Store) MemberJoinTimes(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	var ts []time.Time
	err := s.conn(ctx, nil).Model(&db.Member{}).
		Where("joined_at >= ? AND joined_at < ?", from, to).
		Pluck("joined_at", &ts).Error
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// CreateFeedback stores a manager message for a member.
func (s *Store) CreateFeedback(ctx context.Context, f *db.Feedback) error {
	return s.conn(ctx, nil).Create(f).Error
}

// MarkFeedbackDelivered flags a feedback row once the notifier accepted it.
func (s *Store) MarkFeedbackDelivered(ctx context.Context, id uint) error {
	return s.conn(ctx, nil).Model(&db.Feedback{}).Where("id = ?", id).Update("delivered", true).Error
}

// ListFeedback returns feedback newest first, optionally for one member.
func (s *Store) ListFeedback(ctx context.Context, authorID string, limit int) ([]db.Feedback, error) {
	q := s.conn(ctx, nil)
	if authorID != "" {
		q = q.Where("author_id = ?", authorID)
	}
	var out []db.Feedback
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListSnapshots returns KPI snapshots for day ordered by KPI descending,
// then author id.
func (s *Store) ListSnapshots(ctx context.Context, day string) ([]db.KPISnapshot, error) {
	var out []db.KPISnapshot
	if err := s.conn(ctx, nil).Where("day = ?", day).Order("kpi DESC, author_id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
