// Package engine runs the report lifecycle: it turns inbound report events
// into classified, scored ledger rows and applies manager review actions,
// keeping the per-author aggregates in step with both.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"reportinsight/internal/classify"
	"reportinsight/internal/db"
	"reportinsight/internal/logger"
	"reportinsight/internal/metrics"
	"reportinsight/internal/store"
)

const (
	DefaultIdempotencyWindow = 5 * time.Second
	maxAuthorIDLen           = 64
	notifyTimeout            = 10 * time.Second
)

type Options struct {
	// MinReportLength is the suspicion threshold in characters.
	MinReportLength   int
	IdempotencyWindow time.Duration
	// ConversionTypes are the counters accepted on approval.
	ConversionTypes []string
	HistoryDepth    int
	Now             func() time.Time
}

// Manager owns the pending/approved/rejected state machine.
type Manager struct {
	store    *store.Store
	scorer   *RepeatScorer
	notifier Notifier
	log      *logger.Logger
	opts     Options

	conversions map[string]bool
	wg          sync.WaitGroup
}

func NewManager(st *store.Store, notifier Notifier, log *logger.Logger, opts Options) *Manager {
	if opts.MinReportLength <= 0 {
		opts.MinReportLength = classify.DefaultMinLength
	}
	if opts.IdempotencyWindow <= 0 {
		opts.IdempotencyWindow = DefaultIdempotencyWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	conv := make(map[string]bool, len(opts.ConversionTypes))
	for _, c := range opts.ConversionTypes {
		conv[c] = true
	}
	return &Manager{
		store:       st,
		scorer:      NewRepeatScorer(st, opts.HistoryDepth),
		notifier:    notifier,
		log:         log,
		opts:        opts,
		conversions: conv,
	}
}

// ConversionTypes lists the counters a reviewer may set on approval.
func (m *Manager) ConversionTypes() []string {
	return append([]string(nil), m.opts.ConversionTypes...)
}

// Submission is one inbound report event. Profile fields are optional and
// only refresh the member record.
type Submission struct {
	AuthorID  string
	Text      string
	Timestamp time.Time
	Source    string

	Username    string
	DisplayName string
	ChatID      string
}

// IdempotencyKey derives the deduplication key for a delivery: the same
// author and text with timestamps in the same window share a key.
func IdempotencyKey(authorID, text string, ts time.Time, window time.Duration) string {
	bucket := ts.UTC().Truncate(window).Unix()
	h := sha256.New()
	h.Write([]byte(authorID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Submit records a new report. The report row, member profile and every
// aggregate delta commit together or not at all. A repeated delivery fails
// with a conflict carrying the original report id.
func (m *Manager) Submit(ctx context.Context, sub Submission) (*db.Report, error) {
	start := time.Now()

	authorID := strings.TrimSpace(sub.AuthorID)
	if authorID == "" {
		return nil, validationError("author id is required")
	}
	if len(authorID) > maxAuthorIDLen {
		return nil, validationError("author id exceeds %d bytes", maxAuthorIDLen)
	}

	ts := sub.Timestamp
	if ts.IsZero() {
		ts = m.opts.Now()
	}
	ts = ts.UTC()

	report := &db.Report{
		ID:             uuid.NewString(),
		AuthorID:       authorID,
		Text:           sub.Text,
		Length:         classify.Length(sub.Text),
		SubmittedAt:    ts,
		TaskType:       string(classify.Classify(sub.Text)),
		Suspicious:     classify.Suspicious(sub.Text, m.opts.MinReportLength),
		State:          db.StatePending,
		Source:         sub.Source,
		IdempotencyKey: IdempotencyKey(authorID, sub.Text, ts, m.opts.IdempotencyWindow),
	}

	unlock := m.store.LockAuthor(authorID)
	err := m.store.Transaction(ctx, func(tx *gorm.DB) error {
		existing, err := m.store.FindByIdempotencyKey(ctx, tx, report.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return duplicateError(existing.ID)
		}

		score, err := m.scorer.Score(ctx, tx, authorID, sub.Text)
		if err != nil {
			return err
		}
		report.RepeatScore = score

		if err := m.store.InsertReport(ctx, tx, report); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return duplicateError("")
			}
			return err
		}

		profile := store.MemberProfile{
			ID:          authorID,
			Username:    sub.Username,
			DisplayName: sub.DisplayName,
			ChatID:      sub.ChatID,
		}
		if err := m.store.EnsureMember(ctx, tx, profile, ts); err != nil {
			return err
		}

		return m.store.RecordSubmission(ctx, tx, store.SubmissionDelta{
			AuthorID:   authorID,
			Length:     report.Length,
			TaskType:   report.TaskType,
			Suspicious: report.Suspicious,
			Duplicate:  score > 0,
			At:         ts,
		})
	})
	unlock()

	if err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.DuplicateDeliveries.WithLabelValues(sub.Source).Inc()
			m.log.Info("duplicate delivery", "author", authorID, "source", sub.Source, "error", err)
			return nil, err
		}
		m.log.Error("submit failed", "author", authorID, "source", sub.Source, "error", err)
		return nil, storeError(MsgSubmitFailed, err)
	}

	metrics.ReportsSubmitted.WithLabelValues(report.Source, report.TaskType, strconv.FormatBool(report.Suspicious)).Inc()
	metrics.SubmitDuration.WithLabelValues(report.Source).Observe(time.Since(start).Seconds())
	m.log.Debug("report recorded",
		"report", report.ID,
		"author", authorID,
		"task_type", report.TaskType,
		"suspicious", report.Suspicious,
		"repeat_score", report.RepeatScore,
	)

	m.dispatch(Event{
		Type:        EventReportClassified,
		ReportID:    report.ID,
		AuthorID:    authorID,
		ChatID:      sub.ChatID,
		Source:      report.Source,
		TaskType:    report.TaskType,
		Suspicious:  report.Suspicious,
		RepeatScore: report.RepeatScore,
		At:          ts,
	}, nil)

	return report, nil
}

func duplicateError(reportID string) *Error {
	return &Error{Kind: KindConflict, Msg: "report already recorded", ReportID: reportID}
}

// Wait blocks until every in-flight notification has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) dispatch(ev Event, onSent func(ctx context.Context)) {
	if m.notifier == nil {
		return
	}
	if ev.ChatID == "" {
		if member, err := m.store.GetMember(context.Background(), ev.AuthorID); err == nil {
			ev.ChatID = member.ChatID
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := m.notifier.Notify(ctx, ev); err != nil {
			m.log.Warn("notification failed", "type", ev.Type, "report", ev.ReportID, "author", ev.AuthorID, "error", err)
			return
		}
		if onSent != nil {
			onSent(ctx)
		}
	}()
}
