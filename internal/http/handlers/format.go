package handlers

import (
	"strconv"
	"time"

	dbpkg "reportinsight/internal/db"
)

// reportView is the wire shape of a report. Timestamps are rendered in the
// configured zone.
type reportView struct {
	ID           string       `json:"id"`
	AuthorID     string       `json:"author_id"`
	Text         string       `json:"text"`
	Length       int          `json:"length"`
	SubmittedAt  string       `json:"submitted_at"`
	TaskType     string       `json:"task_type"`
	Suspicious   bool         `json:"suspicious"`
	RepeatScore  float64      `json:"repeat_score"`
	State        string       `json:"state"`
	Corrections  dbpkg.Counts `json:"corrections,omitempty"`
	EffectiveDay string       `json:"effective_day,omitempty"`
	ReviewedAt   string       `json:"reviewed_at,omitempty"`
	ReviewedBy   string       `json:"reviewed_by,omitempty"`
	Source       string       `json:"source,omitempty"`
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}

func newReportView(r *dbpkg.Report, loc *time.Location) reportView {
	v := reportView{
		ID:           r.ID,
		AuthorID:     r.AuthorID,
		Text:         r.Text,
		Length:       r.Length,
		SubmittedAt:  formatTime(r.SubmittedAt, loc),
		TaskType:     r.TaskType,
		Suspicious:   r.Suspicious,
		RepeatScore:  r.RepeatScore,
		State:        r.State,
		Corrections:  r.ConversionCounts(),
		EffectiveDay: r.EffectiveDay,
		ReviewedBy:   r.ReviewedBy,
		Source:       r.Source,
	}
	if r.ReviewedAt != nil {
		v.ReviewedAt = formatTime(*r.ReviewedAt, loc)
	}
	return v
}

func newReportViews(rs []dbpkg.Report, loc *time.Location) []reportView {
	out := make([]reportView, 0, len(rs))
	for i := range rs {
		out = append(out, newReportView(&rs[i], loc))
	}
	return out
}

// parseTimestamp accepts RFC 3339 or Unix seconds. Empty input yields the
// zero time, which the engine replaces with the receive time.
func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}
