package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"reportinsight/internal/db"
	"reportinsight/internal/metrics"
	"reportinsight/internal/store"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Corrections are the reviewer's figures for an approved report.
// EffectiveDate is YYYY-MM-DD in the configured zone; empty means the
// submission day.
type Corrections struct {
	Conversions   db.Counts `json:"conversions"`
	EffectiveDate string    `json:"effective_date,omitempty"`
}

// Review moves a pending report to approved or rejected and advances the
// author's approval-scoped counters in the same transaction. Reviewing a
// report that already left pending is a conflict and changes nothing.
func (m *Manager) Review(ctx context.Context, reportID string, action Action, c *Corrections, reviewer string) (*db.Report, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return nil, validationError("report id is required")
	}
	if action != ActionApprove && action != ActionReject {
		return nil, validationError("unknown review action %q", action)
	}

	report, archived, err := m.store.FindReport(ctx, reportID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &Error{Kind: KindNotFound, Msg: "report not found", ReportID: reportID}
	}
	if err != nil {
		return nil, storeError("could not load report", err)
	}
	if archived || report.State != db.StatePending {
		return nil, &Error{Kind: KindConflict, Msg: MsgAlreadyReviewed, ReportID: reportID}
	}

	update := store.ReviewUpdate{
		ReviewedAt: m.opts.Now().UTC(),
		ReviewedBy: reviewer,
	}
	switch action {
	case ActionApprove:
		conversions, day, err := m.resolveCorrections(report, c)
		if err != nil {
			return nil, err
		}
		update.State = db.StateApproved
		update.Corrections = conversions
		update.EffectiveDay = day
	case ActionReject:
		update.State = db.StateRejected
	}

	unlock := m.store.LockAuthor(report.AuthorID)
	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		ok, err := m.store.TransitionReport(ctx, tx, report.ID, update)
		if err != nil {
			return err
		}
		if !ok {
			return &Error{Kind: KindConflict, Msg: MsgAlreadyReviewed, ReportID: reportID}
		}
		if update.State == db.StateApproved {
			return m.store.RecordApproval(ctx, tx, report.AuthorID, update.Corrections)
		}
		return m.store.RecordRejection(ctx, tx, report.AuthorID)
	})
	unlock()

	if err != nil {
		if errors.Is(err, ErrConflict) {
			m.log.Info("review conflict", "report", reportID, "reviewer", reviewer)
			return nil, err
		}
		m.log.Error("review failed", "report", reportID, "reviewer", reviewer, "error", err)
		return nil, storeError("could not record review", err)
	}

	report.State = update.State
	report.ReviewedAt = &update.ReviewedAt
	report.ReviewedBy = update.ReviewedBy
	if update.State == db.StateApproved {
		report.EffectiveDay = update.EffectiveDay
		corrections := datatypes.NewJSONType(update.Corrections)
		report.Corrections = &corrections
	}

	metrics.ReportsReviewed.WithLabelValues(report.Source, report.State).Inc()
	m.log.Info("report reviewed", "report", report.ID, "author", report.AuthorID, "outcome", report.State, "reviewer", reviewer)

	m.dispatch(Event{
		Type:         EventReportReviewed,
		ReportID:     report.ID,
		AuthorID:     report.AuthorID,
		Source:       report.Source,
		TaskType:     report.TaskType,
		Outcome:      report.State,
		Conversions:  update.Corrections,
		EffectiveDay: update.EffectiveDay,
		Manager:      reviewer,
		At:           update.ReviewedAt,
	}, nil)

	return report, nil
}

// resolveCorrections validates reviewer input and fills every configured
// conversion type, so an approved report always carries a full set of counts.
func (m *Manager) resolveCorrections(r *db.Report, c *Corrections) (db.Counts, string, error) {
	out := make(db.Counts, len(m.opts.ConversionTypes))
	for _, t := range m.opts.ConversionTypes {
		out[t] = 0
	}

	day := m.store.Day(r.SubmittedAt)
	if c == nil {
		return out, day, nil
	}

	keys := make([]string, 0, len(c.Conversions))
	for k := range c.Conversions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := c.Conversions[k]
		name := strings.ToLower(strings.TrimSpace(k))
		if !m.conversions[name] {
			return nil, "", validationError("unknown conversion type %q", k)
		}
		if v < 0 {
			return nil, "", validationError("conversion count for %q must not be negative", k)
		}
		out[name] += v
	}

	if d := strings.TrimSpace(c.EffectiveDate); d != "" {
		t, err := time.ParseInLocation(dayLayout, d, m.store.Location())
		if err != nil {
			return nil, "", validationError("effective date %q is not YYYY-MM-DD", d)
		}
		day = t.Format(dayLayout)
	}
	return out, day, nil
}

const dayLayout = "2006-01-02"
