package kpi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"reportinsight/internal/db"
	"reportinsight/internal/engine"
	"reportinsight/internal/store"
)

var now = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	st  *store.Store
	mgr *engine.Manager
	kpi *Engine
	gdb *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	st := store.New(gdb, time.UTC)
	convs := []string{"accounts", "leads"}
	return &fixture{
		st:  st,
		gdb: gdb,
		mgr: engine.NewManager(st, nil, nil, engine.Options{ConversionTypes: convs, Now: func() time.Time { return now }}),
		kpi: New(st, Options{ConversionTypes: convs, Now: func() time.Time { return now }}),
	}
}

// approve submits a report for author at and approves it with counts on day.
func (f *fixture) approve(t *testing.T, author string, at time.Time, day string, counts db.Counts) {
	t.Helper()
	ctx := context.Background()
	r, err := f.mgr.Submit(ctx, engine.Submission{AuthorID: author, Text: "Создавал аккаунты " + at.String(), Timestamp: at})
	require.NoError(t, err)
	_, err = f.mgr.Review(ctx, r.ID, engine.ActionApprove, &engine.Corrections{Conversions: counts, EffectiveDate: day}, "boss")
	require.NoError(t, err)
}

func TestScore(t *testing.T) {
	m := &db.UserMetrics{
		TotalReports:   10,
		ApprovedCount:  6,
		RejectedCount:  2,
		DuplicateCount: 1,
		TaskCounts:     datatypes.NewJSONType(db.Counts{"accounts": 5, "chat": 4, "other": 1, "skip": 0}),
	}
	// 0.6*10*3 - 1 - 0.2*10
	assert.InDelta(t, 15.0, Score(m, DefaultWeights()), 1e-9)
	assert.InDelta(t, 33.0, Score(m, Weights{Approved: 2, Duplicate: 1, Rejected: 1}), 1e-9)
	assert.Zero(t, Score(&db.UserMetrics{}, DefaultWeights()))
	assert.Zero(t, Score(nil, DefaultWeights()))

	penalized := &db.UserMetrics{TotalReports: 4, RejectedCount: 4, DuplicateCount: 3, TaskCounts: datatypes.NewJSONType(db.Counts{"other": 4})}
	assert.InDelta(t, -7.0, Score(penalized, DefaultWeights()), 1e-9)
}

func TestResolvePeriod(t *testing.T) {
	cases := []struct {
		period     string
		start, end string
		want       Window
	}{
		{"today", "", "", Window{"2024-03-10", "2024-03-10"}},
		{"", "", "", Window{"2024-03-10", "2024-03-10"}},
		{"yesterday", "", "", Window{"2024-03-09", "2024-03-09"}},
		{"week", "", "", Window{"2024-03-04", "2024-03-10"}},
		{"month", "", "", Window{"2024-02-10", "2024-03-10"}},
		{"custom", "2024-01-01", "2024-01-31", Window{"2024-01-01", "2024-01-31"}},
	}
	for _, tc := range cases {
		t.Run(tc.period, func(t *testing.T) {
			got, err := ResolvePeriod(tc.period, now, time.UTC, tc.start, tc.end)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	// 23:30 UTC on the 10th is already the 11th at UTC+3.
	late := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)
	got, err := ResolvePeriod("today", late, time.FixedZone("UTC+3", 3*3600), "", "")
	require.NoError(t, err)
	assert.Equal(t, Window{"2024-03-11", "2024-03-11"}, got)

	_, err = ResolvePeriod("fortnight", now, time.UTC, "", "")
	assert.ErrorIs(t, err, ErrUnknownPeriod)
	_, err = ResolvePeriod("custom", now, time.UTC, "2024-02-01", "2024-01-01")
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = ResolvePeriod("custom", now, time.UTC, "2020-01-01", "2024-01-01")
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = ResolvePeriod("custom", now, time.UTC, "yesterday", "2024-01-01")
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestWindowDays(t *testing.T) {
	w := Window{"2024-02-27", "2024-03-02"}
	assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}, w.Days())
	assert.Equal(t, 5, w.Len())
	assert.Nil(t, Window{"2024-03-02", "2024-03-01"}.Days())
}

func TestLeaderboard_OrderAndTies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := now.Add(-24 * time.Hour)

	f.approve(t, "carol", day, "", db.Counts{"accounts": 3})
	f.approve(t, "alice", day.Add(time.Minute), "", db.Counts{"accounts": 2, "leads": 1})
	f.approve(t, "bob", day.Add(2*time.Minute), "", db.Counts{"leads": 5})
	f.approve(t, "dave", day.Add(3*time.Minute), "", db.Counts{"accounts": 1})
	// Effective day outside the window.
	f.approve(t, "dave", day.Add(4*time.Minute), "2024-01-01", db.Counts{"accounts": 50})

	w, err := f.kpi.ResolvePeriod("week", "", "")
	require.NoError(t, err)

	board, err := f.kpi.Leaderboard(ctx, w, 10)
	require.NoError(t, err)
	require.Len(t, board, 4)

	var order []string
	for _, e := range board {
		order = append(order, e.AuthorID)
	}
	assert.Equal(t, []string{"bob", "alice", "carol", "dave"}, order)
	assert.Equal(t, 1, board[0].Rank)
	assert.EqualValues(t, 5, board[0].Total)
	assert.EqualValues(t, 3, board[1].Total)
	assert.EqualValues(t, 3, board[2].Total)
	assert.Equal(t, db.Counts{"accounts": 2, "leads": 1}, board[1].Conversions)

	again, err := f.kpi.Leaderboard(ctx, w, 10)
	require.NoError(t, err)
	assert.Equal(t, board, again)

	top2, err := f.kpi.Leaderboard(ctx, w, 2)
	require.NoError(t, err)
	assert.Len(t, top2, 2)

	jan, err := NewWindow("2024-01-01", "2024-01-01")
	require.NoError(t, err)
	old, err := f.kpi.Leaderboard(ctx, jan, 10)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "dave", old[0].AuthorID)
	assert.EqualValues(t, 50, old[0].Total)
}

func TestLeaderboard_IncludesArchived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approve(t, "alice", now.Add(-time.Hour), "", db.Counts{"leads": 2})

	// Move the approved report to the archive table.
	var r db.Report
	require.NoError(t, f.gdb.First(&r).Error)
	require.NoError(t, f.gdb.Create(&db.ArchivedReport{Report: r, ArchivedAt: now}).Error)
	require.NoError(t, f.gdb.Delete(&db.Report{}, "id = ?", r.ID).Error)

	w, _ := f.kpi.ResolvePeriod("today", "", "")
	board, err := f.kpi.Leaderboard(ctx, w, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.EqualValues(t, 2, board[0].Total)

	_, err = f.mgr.Review(ctx, r.ID, engine.ActionReject, nil, "boss")
	assert.True(t, errors.Is(err, engine.ErrConflict))
}

func TestGrowth_ZeroFilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, err := NewWindow("2024-03-04", "2024-03-10")
	require.NoError(t, err)

	mar := func(d int) time.Time { return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC) }
	f.approve(t, "alice", mar(4), "", db.Counts{"accounts": 2})
	f.approve(t, "alice", mar(5), "", db.Counts{"accounts": 1})
	f.approve(t, "bob", mar(5), "", db.Counts{"accounts": 4, "leads": 1})
	f.approve(t, "carol", mar(7), "", db.Counts{"leads": 3})

	accounts, err := f.kpi.Growth(ctx, "accounts", w)
	require.NoError(t, err)
	require.Len(t, accounts, 7)
	assert.Equal(t, Point{"2024-03-04", 2}, accounts[0])
	assert.Equal(t, Point{"2024-03-05", 5}, accounts[1])
	assert.Equal(t, Point{"2024-03-06", 0}, accounts[2])
	assert.Equal(t, Point{"2024-03-07", 0}, accounts[3])

	users, err := f.kpi.Growth(ctx, MetricNewUsers, w)
	require.NoError(t, err)
	require.Len(t, users, 7)
	assert.EqualValues(t, 1, users[0].Value)
	assert.EqualValues(t, 1, users[1].Value)
	assert.EqualValues(t, 0, users[2].Value)
	assert.EqualValues(t, 1, users[3].Value)

	subs, err := f.kpi.Growth(ctx, MetricSubmissions, w)
	require.NoError(t, err)
	assert.EqualValues(t, 2, subs[1].Value)
	assert.EqualValues(t, 0, subs[6].Value)

	_, err = f.kpi.Growth(ctx, "calls", w)
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestQuotaPolicy(t *testing.T) {
	p := DefaultPolicy()
	week := Window{"2024-03-04", "2024-03-10"}

	trafer := p.Check(RoleTrafer, week, db.Counts{"leads": 10})
	assert.True(t, trafer.Met)
	assert.False(t, p.Check(RoleTrafer, week, db.Counts{"leads": 9}).Met)

	novice := p.Check(RoleNovice, week, db.Counts{"accounts": 35})
	assert.InDelta(t, 5.0, novice.Actual, 1e-9)
	assert.True(t, novice.Met)
	assert.False(t, p.Check(RoleNovice, week, db.Counts{"accounts": 34}).Met)

	for _, role := range []string{RoleLead, RoleStar, ""} {
		st := p.Check(role, week, nil)
		assert.True(t, st.Exempt, role)
		assert.True(t, st.Met, role)
	}
}

func TestCheckQuota_CountsOnlyTheAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	week := Window{"2024-03-04", "2024-03-10"}
	f.approve(t, "alice", now.Add(-time.Hour), "", db.Counts{"leads": 4})
	f.approve(t, "bob", now.Add(-2*time.Hour), "", db.Counts{"leads": 20})
	f.approve(t, "alice", now.Add(-3*time.Hour), "2024-03-01", db.Counts{"leads": 9})

	alice, err := f.kpi.CheckQuota(ctx, "alice", RoleTrafer, week)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, alice.Actual, 1e-9)
	assert.False(t, alice.Met)

	bob, err := f.kpi.CheckQuota(ctx, "bob", RoleTrafer, week)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, bob.Actual, 1e-9)
	assert.True(t, bob.Met)
}

func TestUserSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approve(t, "alice", now.Add(-time.Hour), "", db.Counts{"leads": 4})
	require.NoError(t, f.st.SetRole(ctx, "alice", RoleTrafer))

	before, err := f.st.GetMetrics(ctx, "alice")
	require.NoError(t, err)

	sum, err := f.kpi.UserSummary(ctx, "alice", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.Metrics.TotalReports)
	assert.Len(t, sum.RecentReports, 1)
	assert.Equal(t, RoleTrafer, sum.Quota.Role)
	assert.InDelta(t, 4.0, sum.Quota.Actual, 1e-9)
	assert.False(t, sum.Quota.Met)
	// 1/1 approved, one task type.
	assert.InDelta(t, 1.0, sum.KPI, 1e-9)

	after, err := f.st.GetMetrics(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.ApprovedConversions.Data(), after.ApprovedConversions.Data())

	_, err = f.kpi.UserSummary(ctx, "ghost", 5)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approve(t, "alice", now.Add(-time.Hour), "", db.Counts{"leads": 1})
	_, err := f.mgr.Submit(ctx, engine.Submission{AuthorID: "bob", Text: "нет", Timestamp: now})
	require.NoError(t, err)

	rows, err := f.kpi.SnapshotDay("2024-03-10")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NoError(t, db.UpsertKPISnapshots(f.gdb, rows))
	// A second pass replaces rather than duplicates.
	require.NoError(t, db.UpsertKPISnapshots(f.gdb, rows))

	got, err := f.kpi.Snapshots(ctx, "2024-03-10")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].AuthorID)
	assert.InDelta(t, 1.0, got[0].KPI, 1e-9)

	_, err = f.kpi.Snapshots(ctx, "10.03.2024")
	assert.ErrorIs(t, err, ErrInvalidWindow)
}
