// Package kpi computes read-only projections over the aggregate store and
// the report ledger: per-author KPI, period leaderboards, growth series and
// role quota checks.
package kpi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"reportinsight/internal/db"
	"reportinsight/internal/store"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
	DefaultRecentReports    = 10

	MetricNewUsers    = "new_users"
	MetricSubmissions = "submissions"
)

type Options struct {
	Weights         Weights
	Policy          Policy
	ConversionTypes []string
	Now             func() time.Time
}

type Engine struct {
	store   *store.Store
	weights Weights
	policy  Policy
	convs   map[string]bool
	now     func() time.Time
}

func New(st *store.Store, opts Options) *Engine {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	convs := make(map[string]bool, len(opts.ConversionTypes))
	for _, c := range opts.ConversionTypes {
		convs[c] = true
	}
	return &Engine{store: st, weights: opts.Weights, policy: opts.Policy, convs: convs, now: opts.Now}
}

// Location is the zone every window is resolved in.
func (e *Engine) Location() *time.Location { return e.store.Location() }

// ResolvePeriod resolves a named period against the engine clock.
func (e *Engine) ResolvePeriod(period, start, end string) (Window, error) {
	return ResolvePeriod(period, e.now(), e.store.Location(), start, end)
}

// Summary is the dashboard view of one author.
type Summary struct {
	Metrics       *db.UserMetrics `json:"metrics"`
	Member        *db.Member      `json:"member,omitempty"`
	KPI           float64         `json:"kpi"`
	Quota         QuotaStatus     `json:"quota"`
	RecentReports []db.Report     `json:"recent_reports"`
}

// UserSummary returns metrics, KPI, the trailing-week quota check and the
// latest reports for an author. Unknown authors yield gorm.ErrRecordNotFound.
func (e *Engine) UserSummary(ctx context.Context, authorID string, recent int) (*Summary, error) {
	if recent <= 0 {
		recent = DefaultRecentReports
	}
	m, err := e.store.GetMetrics(ctx, authorID)
	if err != nil {
		return nil, err
	}

	member, err := e.store.GetMember(ctx, authorID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	reports, err := e.store.RecentReports(ctx, authorID, recent)
	if err != nil {
		return nil, err
	}

	w, _ := e.ResolvePeriod("week", "", "")
	quota, err := e.CheckQuota(ctx, authorID, m.Role, w)
	if err != nil {
		return nil, err
	}

	return &Summary{
		Metrics:       m,
		Member:        member,
		KPI:           Score(m, e.weights),
		Quota:         quota,
		RecentReports: reports,
	}, nil
}

// CheckQuota sums the author's approved conversions over w and checks them
// against the role's quota.
func (e *Engine) CheckQuota(ctx context.Context, authorID, role string, w Window) (QuotaStatus, error) {
	if _, ok := e.policy[role]; !ok {
		return e.policy.Check(role, w, nil), nil
	}
	approvals, err := e.store.AuthorApprovedInRange(ctx, authorID, w.Start, w.End)
	if err != nil {
		return QuotaStatus{}, err
	}
	sums := db.Counts{}
	for _, a := range approvals {
		for k, v := range a.Conversions {
			sums[k] += v
		}
	}
	return e.policy.Check(role, w, sums), nil
}

// Entry is one leaderboard row.
type Entry struct {
	Rank        int       `json:"rank"`
	AuthorID    string    `json:"author_id"`
	Username    string    `json:"username,omitempty"`
	Total       int64     `json:"total"`
	Conversions db.Counts `json:"conversions"`
	KPI         float64   `json:"kpi"`
}

// Leaderboard ranks authors by approved conversions whose effective day
// lies in w. Ties are broken by author id so the order is stable.
func (e *Engine) Leaderboard(ctx context.Context, w Window, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	approvals, err := e.store.ApprovedInRange(ctx, w.Start, w.End)
	if err != nil {
		return nil, err
	}

	byAuthor := make(map[string]*Entry)
	for _, a := range approvals {
		entry, ok := byAuthor[a.AuthorID]
		if !ok {
			entry = &Entry{AuthorID: a.AuthorID, Conversions: db.Counts{}}
			byAuthor[a.AuthorID] = entry
		}
		for k, v := range a.Conversions {
			entry.Conversions[k] += v
			entry.Total += v
		}
	}

	entries := make([]Entry, 0, len(byAuthor))
	for _, entry := range byAuthor {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Total != entries[j].Total {
			return entries[i].Total > entries[j].Total
		}
		return entries[i].AuthorID < entries[j].AuthorID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	ids := make([]string, len(entries))
	for i := range entries {
		ids[i] = entries[i].AuthorID
	}
	members, err := e.store.MembersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	metrics, err := e.store.MetricsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Username = members[entries[i].AuthorID].Username
		if m, ok := metrics[entries[i].AuthorID]; ok {
			entries[i].KPI = Score(&m, e.weights)
		}
	}
	return entries, nil
}

// Point is one day of a growth series.
type Point struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// Growth returns a per-day series of metric over w with every day present.
// metric is new_users, submissions or a configured conversion type.
func (e *Engine) Growth(ctx context.Context, metric string, w Window) ([]Point, error) {
	days := w.Days()
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: %s..%s", ErrInvalidWindow, w.Start, w.End)
	}
	perDay := make(map[string]int64, len(days))

	switch {
	case metric == MetricNewUsers || metric == MetricSubmissions:
		from, to, err := w.Bounds(e.store.Location())
		if err != nil {
			return nil, err
		}
		var ts []time.Time
		if metric == MetricNewUsers {
			ts, err = e.store.MemberJoinTimes(ctx, from.UTC(), to.UTC())
		} else {
			ts, err = e.store.SubmissionTimes(ctx, from.UTC(), to.UTC())
		}
		if err != nil {
			return nil, err
		}
		for _, t := range ts {
			perDay[e.store.Day(t)]++
		}
	case e.convs[metric]:
		approvals, err := e.store.ApprovedInRange(ctx, w.Start, w.End)
		if err != nil {
			return nil, err
		}
		for _, a := range approvals {
			perDay[a.EffectiveDay] += a.Conversions[metric]
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}

	out := make([]Point, len(days))
	for i, d := range days {
		out[i] = Point{Date: d, Value: perDay[d]}
	}
	return out, nil
}

// SnapshotDay returns the current KPI of every author stamped with day.
// It matches db.SnapshotFunc.
func (e *Engine) SnapshotDay(day string) ([]db.KPISnapshot, error) {
	all, err := e.store.ListMetrics(context.Background())
	if err != nil {
		return nil, err
	}
	rows := make([]db.KPISnapshot, 0, len(all))
	for i := range all {
		m := &all[i]
		rows = append(rows, db.KPISnapshot{
			AuthorID:      m.AuthorID,
			Day:           day,
			KPI:           Score(m, e.weights),
			TotalReports:  m.TotalReports,
			ApprovedCount: m.ApprovedCount,
			RejectedCount: m.RejectedCount,
			Duplicates:    m.DuplicateCount,
			TypeDiversity: m.TypeDiversity(),
		})
	}
	return rows, nil
}

// Snapshots lists the stored snapshots of day, best KPI first.
func (e *Engine) Snapshots(ctx context.Context, day string) ([]db.KPISnapshot, error) {
	if _, err := time.Parse(dayLayout, day); err != nil {
		return nil, fmt.Errorf("%w: day %q is not YYYY-MM-DD", ErrInvalidWindow, day)
	}
	return e.store.ListSnapshots(ctx, day)
}
