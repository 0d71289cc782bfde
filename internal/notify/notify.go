// Package notify delivers engine events to Telegram, RabbitMQ and Redis.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"reportinsight/internal/db"
	"reportinsight/internal/engine"
	"reportinsight/internal/logger"
	"reportinsight/internal/metrics"
)

// Sink is a named notifier.
type Sink interface {
	engine.Notifier
	Name() string
}

// Multi fans an event out to every sink. A failing sink does not stop the
// others; their errors are joined.
type Multi struct {
	sinks []Sink
	log   *logger.Logger
}

func NewMulti(log *logger.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, log: log}
}

// Len is the number of configured sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Notify(ctx context.Context, ev engine.Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			metrics.NotificationFailures.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Log writes every event to the structured log. It is the sink used when
// nothing else is configured.
type Log struct {
	log *logger.Logger
}

func NewLog(log *logger.Logger) *Log { return &Log{log: log} }

func (l *Log) Name() string { return "log" }

func (l *Log) Notify(_ context.Context, ev engine.Event) error {
	l.log.Info("event",
		"type", ev.Type,
		"report", ev.ReportID,
		"author", ev.AuthorID,
		"task_type", ev.TaskType,
		"outcome", ev.Outcome,
	)
	return nil
}

func sortedKeys(c db.Counts) []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
