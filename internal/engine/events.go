package engine

import (
	"context"
	"time"

	"reportinsight/internal/db"
)

type EventType string

const (
	EventReportClassified EventType = "report.classified"
	EventReportReviewed   EventType = "report.reviewed"
	EventFeedbackSent     EventType = "feedback.sent"
)

// Event is the payload handed to the notifier after a commit. It is
// serialized as-is by the message bus sinks.
type Event struct {
	Type EventType `json:"type"`

	ReportID string `json:"report_id,omitempty"`
	AuthorID string `json:"author_id"`
	// ChatID is the member's delivery address, empty when unknown.
	ChatID string `json:"chat_id,omitempty"`
	Source string `json:"source,omitempty"`

	TaskType    string  `json:"task_type,omitempty"`
	Suspicious  bool    `json:"suspicious"`
	RepeatScore float64 `json:"repeat_score"`

	Outcome      string    `json:"outcome,omitempty"`
	Conversions  db.Counts `json:"conversions,omitempty"`
	EffectiveDay string    `json:"effective_day,omitempty"`

	Manager string `json:"manager,omitempty"`
	Message string `json:"message,omitempty"`

	At time.Time `json:"at"`
}

// Notifier delivers events to submitters, managers and downstream
// consumers. Delivery is best effort; the engine only logs failures.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }
