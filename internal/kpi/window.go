package kpi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// MaxWindowDays caps custom ranges.
const MaxWindowDays = 366

var (
	ErrInvalidWindow = errors.New("invalid window")
	ErrUnknownPeriod = errors.New("unknown period")
	ErrUnknownMetric = errors.New("unknown metric")
)

// Window is an inclusive range of calendar days, YYYY-MM-DD.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// NewWindow validates start and end and returns the window between them.
func NewWindow(start, end string) (Window, error) {
	s, err := time.Parse(dayLayout, strings.TrimSpace(start))
	if err != nil {
		return Window{}, fmt.Errorf("%w: start %q is not YYYY-MM-DD", ErrInvalidWindow, start)
	}
	e, err := time.Parse(dayLayout, strings.TrimSpace(end))
	if err != nil {
		return Window{}, fmt.Errorf("%w: end %q is not YYYY-MM-DD", ErrInvalidWindow, end)
	}
	if e.Before(s) {
		return Window{}, fmt.Errorf("%w: end before start", ErrInvalidWindow)
	}
	if int(e.Sub(s).Hours()/24)+1 > MaxWindowDays {
		return Window{}, fmt.Errorf("%w: longer than %d days", ErrInvalidWindow, MaxWindowDays)
	}
	return Window{Start: s.Format(dayLayout), End: e.Format(dayLayout)}, nil
}

// ResolvePeriod maps a named period to a window ending on the day of now in
// loc. "week" and "month" are the trailing 7 and 30 days including today.
// "custom" takes start and end as given.
func ResolvePeriod(period string, now time.Time, loc *time.Location, start, end string) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	trailing := func(days int) Window {
		return Window{Start: today.AddDate(0, 0, -(days - 1)).Format(dayLayout), End: today.Format(dayLayout)}
	}

	switch strings.ToLower(strings.TrimSpace(period)) {
	case "", "today":
		return trailing(1), nil
	case "yesterday":
		day := today.AddDate(0, 0, -1).Format(dayLayout)
		return Window{Start: day, End: day}, nil
	case "week", "7d":
		return trailing(7), nil
	case "month", "30d":
		return trailing(30), nil
	case "custom":
		return NewWindow(start, end)
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
}

// Days lists every day of the window in order.
func (w Window) Days() []string {
	s, err1 := time.Parse(dayLayout, w.Start)
	e, err2 := time.Parse(dayLayout, w.End)
	if err1 != nil || err2 != nil || e.Before(s) {
		return nil
	}
	var out []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(dayLayout))
	}
	return out
}

// Bounds returns [from, to) covering the window's days in loc.
func (w Window) Bounds(loc *time.Location) (from, to time.Time, err error) {
	if loc == nil {
		loc = time.UTC
	}
	from, err = time.ParseInLocation(dayLayout, w.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	last, err := time.ParseInLocation(dayLayout, w.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	return from, last.AddDate(0, 0, 1), nil
}

// Len is the number of days in the window.
func (w Window) Len() int { return len(w.Days()) }
