package db

import (
	"time"

	"gorm.io/datatypes"
)

// Counts maps a label (task type or conversion type) to a counter.
type Counts map[string]int64

// Report states. A report leaves StatePending exactly once.
const (
	StatePending  = "pending"
	StateApproved = "approved"
	StateRejected = "rejected"
)

// Report is one submitted unit of work text together with everything
// derived from it at submission time and the manager's review outcome.
type Report struct {
	// ID is a UUID assigned before the row is written and never changed.
	ID string `gorm:"primaryKey;size:36"`

	AuthorID string `gorm:"index;size:64;not null"`
	Text     string `gorm:"type:text;not null"`
	Length   int    `gorm:"not null"`

	SubmittedAt time.Time `gorm:"index;not null"`

	// TaskType, Suspicious and RepeatScore are computed once, from the text
	// and the author's history at submission time.
	TaskType    string  `gorm:"size:32;index;not null"`
	Suspicious  bool    `gorm:"not null;default:false"`
	RepeatScore float64 `gorm:"not null;default:0"`

	State string `gorm:"size:16;index;not null;default:pending"`

	// Corrections holds the manager-supplied conversion counts. NULL while
	// pending or rejected.
	Corrections *datatypes.JSONType[Counts] `gorm:"type:json"`

	// EffectiveDay (YYYY-MM-DD) is the corrected report date, or the
	// submission day when the manager supplied none. Set on approval.
	EffectiveDay string `gorm:"size:10;index"`

	ReviewedAt *time.Time
	ReviewedBy string `gorm:"size:64"`

	// Source is the channel the report arrived through (telegram, web, ...).
	Source string `gorm:"size:64;index"`

	// IdempotencyKey deduplicates retried deliveries of the same event.
	IdempotencyKey string `gorm:"size:64;uniqueIndex;not null"`

	CreatedAt time.Time
}

// ConversionCounts returns the approved conversion counts, or nil.
func (r *Report) ConversionCounts() Counts {
	if r.Corrections == nil {
		return nil
	}
	return r.Corrections.Data()
}

// ArchivedReport is the cold copy of a reviewed report past the archive
// window. Every Report field is preserved.
type ArchivedReport struct {
	Report
	ArchivedAt time.Time `gorm:"index"`
}

func (ArchivedReport) TableName() string { return "archived_reports" }

// UserMetrics is the rolling aggregate for one author. Submission-scoped
// counters advance on every report; approval-scoped counters only on review.
type UserMetrics struct {
	AuthorID string `gorm:"primaryKey;size:64"`

	// Role drives read-time quota checks only.
	Role string `gorm:"size:32"`

	TotalReports    int64                      `gorm:"not null;default:0"`
	AvgLength       float64                    `gorm:"not null;default:0"`
	TaskCounts      datatypes.JSONType[Counts] `gorm:"type:json"`
	SuspiciousCount int64                      `gorm:"not null;default:0"`
	DuplicateCount  int64                      `gorm:"not null;default:0"`

	ApprovedCount       int64                      `gorm:"not null;default:0"`
	RejectedCount       int64                      `gorm:"not null;default:0"`
	ApprovedConversions datatypes.JSONType[Counts] `gorm:"type:json"`

	FirstReportAt time.Time
	LastReportAt  time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

// TypeDiversity is the number of task types seen at least once.
func (m *UserMetrics) TypeDiversity() int {
	n := 0
	for _, c := range m.TaskCounts.Data() {
		if c > 0 {
			n++
		}
	}
	return n
}

// ActivityHeatCell counts one author's submissions in a (weekday, hour)
// bucket. Day follows time.Weekday, 0 = Sunday.
type ActivityHeatCell struct {
	ID uint `gorm:"primaryKey"`

	AuthorID string `gorm:"uniqueIndex:idx_heat_cell_unique,priority:1;size:64;not null"`
	Day      int    `gorm:"uniqueIndex:idx_heat_cell_unique,priority:2;not null"`
	Hour     int    `gorm:"uniqueIndex:idx_heat_cell_unique,priority:3;not null"`

	Count int64 `gorm:"not null;default:0"`
}

// Member is the profile of a report author, created on the first report.
type Member struct {
	ID string `gorm:"primaryKey;size:64"`

	Username    string `gorm:"size:64;index"`
	DisplayName string `gorm:"size:128"`

	// ChatID is where notifications for this member are delivered.
	ChatID string `gorm:"size:64"`

	JoinedAt  time.Time `gorm:"index;not null"`
	UpdatedAt time.Time
}

// Feedback is a message from a manager to a member.
type Feedback struct {
	ID uint `gorm:"primaryKey"`

	AuthorID string `gorm:"index;size:64;not null"`
	Manager  string `gorm:"size:64"`
	Message  string `gorm:"type:text;not null"`

	Delivered bool `gorm:"not null;default:false"`
	CreatedAt time.Time
}

// KPISnapshot stores one author's KPI as of the end of Day, written by the
// snapshot worker for trend views.
type KPISnapshot struct {
	ID uint `gorm:"primaryKey"`

	AuthorID string `gorm:"uniqueIndex:idx_kpi_snapshot_unique,priority:1;size:64;not null"`
	Day      string `gorm:"uniqueIndex:idx_kpi_snapshot_unique,priority:2;size:10;not null"`

	KPI           float64 `gorm:"not null"`
	TotalReports  int64   `gorm:"not null"`
	ApprovedCount int64   `gorm:"not null"`
	RejectedCount int64   `gorm:"not null"`
	Duplicates    int64   `gorm:"not null"`
	TypeDiversity int     `gorm:"not null"`
}
