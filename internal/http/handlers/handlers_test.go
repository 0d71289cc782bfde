package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "reportinsight/internal/db"
	"reportinsight/internal/engine"
	httpctx "reportinsight/internal/http/ctx"
	"reportinsight/internal/kpi"
	"reportinsight/internal/logger"
	"reportinsight/internal/store"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db      *gorm.DB
	store   *store.Store
	mgr     *engine.Manager
	kpi     *kpi.Engine
	manager *dbpkg.Manager
	key     *dbpkg.SourceKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := dbpkg.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	manager := &dbpkg.Manager{Username: "olga", PasswordHash: "x", IsAdmin: true}
	require.NoError(t, gdb.Create(manager).Error)
	key := &dbpkg.SourceKey{ManagerID: manager.ID, Name: "web", Key: "ri_test", Active: true}
	require.NoError(t, gdb.Create(key).Error)

	st := store.New(gdb, time.UTC)
	clock := func() time.Time { return now }
	mgr := engine.NewManager(st, engine.NotifierFunc(func(context.Context, engine.Event) error { return nil }), logger.Nop(), engine.Options{
		ConversionTypes: []string{"accounts", "leads"},
		Now:             clock,
	})
	t.Cleanup(mgr.Wait)
	k := kpi.New(st, kpi.Options{ConversionTypes: []string{"accounts", "leads"}, Now: clock})
	return &fixture{db: gdb, store: st, mgr: mgr, kpi: k, manager: manager, key: key}
}

func newCtx(method, uri string, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.SetBodyString(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func newFormCtx(uri, form string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(uri)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.SetBodyString(form)
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func decode(t *testing.T, ctx *fasthttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out), string(ctx.Response.Body()))
	return out
}

func (f *fixture) submit(t *testing.T, body string) *fasthttp.RequestCtx {
	t.Helper()
	ctx := newCtx(fasthttp.MethodPost, "/v1/reports", body)
	httpctx.SetSourceKey(ctx, f.key)
	SubmitReport(f.mgr, f.store)(ctx)
	return ctx
}

func TestSubmitReport(t *testing.T) {
	f := newFixture(t)

	ctx := f.submit(t, `{"author_id":"alice","text":"Создавал аккаунты весь день","timestamp":"2024-03-10T09:00:00Z","username":"al"}`)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	report := decode(t, ctx)["report"].(map[string]any)
	assert.Equal(t, "alice", report["author_id"])
	assert.Equal(t, "accounts", report["task_type"])
	assert.Equal(t, "pending", report["state"])
	assert.Equal(t, "web", report["source"])
	assert.Equal(t, false, report["suspicious"])

	dup := f.submit(t, `{"author_id":"alice","text":"Создавал аккаунты весь день","timestamp":"2024-03-10T09:00:00Z"}`)
	assert.Equal(t, fasthttp.StatusConflict, dup.Response.StatusCode())
	assert.Equal(t, report["id"], decode(t, dup)["report_id"])
}

func TestSubmitReport_BadInput(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"not json":      `{`,
		"bad timestamp": `{"author_id":"a","text":"hello","timestamp":"yesterday"}`,
		"no author":     `{"author_id":"  ","text":"hello"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := f.submit(t, body)
			assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
			assert.NotEmpty(t, decode(t, ctx)["error"])
		})
	}
}

func TestReviewReport(t *testing.T) {
	f := newFixture(t)
	created := decode(t, f.submit(t, `{"author_id":"bob","text":"Приводил лидов из чата","timestamp":"2024-03-10T09:00:00Z"}`))
	id := created["report"].(map[string]any)["id"].(string)

	review := func(action engine.Action, body string) *fasthttp.RequestCtx {
		ctx := newCtx(fasthttp.MethodPost, "/v1/reports/"+id+"/"+string(action), body)
		ctx.SetUserValue("id", id)
		httpctx.SetManager(ctx, f.manager)
		ReviewReport(f.mgr, f.store, action)(ctx)
		return ctx
	}

	ctx := review(engine.ActionApprove, `{"conversions":{"leads":4},"effective_date":"2024-03-09"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	report := decode(t, ctx)["report"].(map[string]any)
	assert.Equal(t, "approved", report["state"])
	assert.Equal(t, "2024-03-09", report["effective_day"])
	assert.Equal(t, "olga", report["reviewed_by"])
	assert.Equal(t, map[string]any{"accounts": float64(0), "leads": float64(4)}, report["corrections"])

	again := review(engine.ActionReject, "")
	assert.Equal(t, fasthttp.StatusConflict, again.Response.StatusCode())

	missing := newCtx(fasthttp.MethodPost, "/v1/reports/nope/approve", "")
	missing.SetUserValue("id", "nope")
	httpctx.SetManager(missing, f.manager)
	ReviewReport(f.mgr, f.store, engine.ActionApprove)(missing)
	assert.Equal(t, fasthttp.StatusNotFound, missing.Response.StatusCode())

	anon := newCtx(fasthttp.MethodPost, "/v1/reports/"+id+"/approve", "")
	anon.SetUserValue("id", id)
	ReviewReport(f.mgr, f.store, engine.ActionApprove)(anon)
	assert.Equal(t, fasthttp.StatusUnauthorized, anon.Response.StatusCode())
}

func TestPendingReports(t *testing.T) {
	f := newFixture(t)
	f.submit(t, `{"author_id":"a","text":"первый отчёт за день","timestamp":"2024-03-10T08:00:00Z"}`)
	f.submit(t, `{"author_id":"b","text":"второй отчёт за день","timestamp":"2024-03-10T09:00:00Z"}`)

	ctx := newCtx(fasthttp.MethodGet, "/v1/reports/pending?source=web&limit=1", "")
	PendingReports(f.store)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	reports := decode(t, ctx)["reports"].([]any)
	require.Len(t, reports, 1)
	assert.Equal(t, "a", reports[0].(map[string]any)["author_id"])

	other := newCtx(fasthttp.MethodGet, "/v1/reports/pending?source=crm", "")
	PendingReports(f.store)(other)
	assert.Empty(t, decode(t, other)["reports"])
}

func TestConversionTypes(t *testing.T) {
	f := newFixture(t)
	ctx := newCtx(fasthttp.MethodGet, "/v1/conversion-types", "")
	ConversionTypes(f.mgr)(ctx)
	assert.Equal(t, []any{"accounts", "leads"}, decode(t, ctx)["conversion_types"])
}

func TestSetRole(t *testing.T) {
	f := newFixture(t)
	f.submit(t, `{"author_id":"alice","text":"Создавал аккаунты весь день"}`)

	put := func(id, body string) *fasthttp.RequestCtx {
		ctx := newCtx(fasthttp.MethodPut, "/v1/users/"+id+"/role", body)
		ctx.SetUserValue("id", id)
		SetRole(f.store)(ctx)
		return ctx
	}

	assert.Equal(t, fasthttp.StatusOK, put("alice", `{"role":"Trafer"}`).Response.StatusCode())
	m, err := f.store.GetMetrics(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, kpi.RoleTrafer, m.Role)

	assert.Equal(t, fasthttp.StatusBadRequest, put("alice", `{"role":"boss"}`).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, put("ghost", `{"role":"lead"}`).Response.StatusCode())
}

func TestUserSummary(t *testing.T) {
	f := newFixture(t)
	f.submit(t, `{"author_id":"alice","text":"Создавал аккаунты весь день","username":"al","timestamp":"2024-03-10T09:00:00Z"}`)

	ctx := newCtx(fasthttp.MethodGet, "/v1/users/alice", "")
	ctx.SetUserValue("id", "alice")
	UserSummary(f.kpi)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	body := decode(t, ctx)
	metrics := body["metrics"].(map[string]any)
	assert.Equal(t, float64(1), metrics["total_reports"])
	assert.Equal(t, "al", body["member"].(map[string]any)["username"])
	assert.Len(t, body["recent_reports"], 1)

	missing := newCtx(fasthttp.MethodGet, "/v1/users/ghost", "")
	missing.SetUserValue("id", "ghost")
	UserSummary(f.kpi)(missing)
	assert.Equal(t, fasthttp.StatusNotFound, missing.Response.StatusCode())
}

func TestLeaderboardAndGrowth_Errors(t *testing.T) {
	f := newFixture(t)

	lb := newCtx(fasthttp.MethodGet, "/v1/leaderboard?period=fortnight", "")
	Leaderboard(f.kpi)(lb)
	assert.Equal(t, fasthttp.StatusBadRequest, lb.Response.StatusCode())

	custom := newCtx(fasthttp.MethodGet, "/v1/leaderboard?period=custom&start=2024-03-05&end=2024-03-01", "")
	Leaderboard(f.kpi)(custom)
	assert.Equal(t, fasthttp.StatusBadRequest, custom.Response.StatusCode())

	g := newCtx(fasthttp.MethodGet, "/v1/growth/revenue?period=week", "")
	g.SetUserValue("metric", "revenue")
	Growth(f.kpi)(g)
	assert.Equal(t, fasthttp.StatusBadRequest, g.Response.StatusCode())
}

func TestGrowth_Submissions(t *testing.T) {
	f := newFixture(t)
	f.submit(t, `{"author_id":"a","text":"отчёт номер один","timestamp":"2024-03-09T10:00:00Z"}`)
	f.submit(t, `{"author_id":"a","text":"отчёт номер два","timestamp":"2024-03-10T10:00:00Z"}`)
	f.submit(t, `{"author_id":"b","text":"отчёт номер три","timestamp":"2024-03-10T11:00:00Z"}`)

	ctx := newCtx(fasthttp.MethodGet, "/v1/growth/submissions?period=custom&start=2024-03-08&end=2024-03-10", "")
	ctx.SetUserValue("metric", kpi.MetricSubmissions)
	Growth(f.kpi)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	points := decode(t, ctx)["points"].([]any)
	require.Len(t, points, 3)
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.(map[string]any)["value"].(float64)
	}
	assert.Equal(t, []float64{0, 1, 2}, values)
}

func TestFeedback(t *testing.T) {
	f := newFixture(t)
	f.submit(t, `{"author_id":"alice","text":"Создавал аккаунты весь день"}`)

	send := newCtx(fasthttp.MethodPost, "/v1/feedback", `{"author_id":"alice","message":"Хорошая работа"}`)
	httpctx.SetManager(send, f.manager)
	SendFeedback(f.mgr, f.store)(send)
	require.Equal(t, fasthttp.StatusAccepted, send.Response.StatusCode(), string(send.Response.Body()))
	f.mgr.Wait()

	list := newCtx(fasthttp.MethodGet, "/v1/feedback?author=alice", "")
	ListFeedback(f.store)(list)
	rows := decode(t, list)["feedback"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "olga", rows[0].(map[string]any)["manager"])
	assert.Equal(t, true, rows[0].(map[string]any)["delivered"])

	unknown := newCtx(fasthttp.MethodPost, "/v1/feedback", `{"author_id":"ghost","message":"hi"}`)
	httpctx.SetManager(unknown, f.manager)
	SendFeedback(f.mgr, f.store)(unknown)
	assert.Equal(t, fasthttp.StatusNotFound, unknown.Response.StatusCode())
}

func TestSourceKeys(t *testing.T) {
	f := newFixture(t)

	create := newFormCtx("/v1/source-keys", "name=CRM")
	httpctx.SetManager(create, f.manager)
	CreateSourceKey(f.db)(create)
	require.Equal(t, fasthttp.StatusCreated, create.Response.StatusCode(), string(create.Response.Body()))
	created := decode(t, create)
	assert.Equal(t, "crm", created["name"])
	assert.True(t, strings.HasPrefix(created["key"].(string), "ri_"))

	id := created["id"].(float64)
	toggle := newFormCtx("/v1/source-keys/x/active", "active=false")
	toggle.SetUserValue("id", strconv.FormatFloat(id, 'f', 0, 64))
	httpctx.SetManager(toggle, f.manager)
	SetSourceKeyActive(f.db)(toggle)
	require.Equal(t, fasthttp.StatusOK, toggle.Response.StatusCode(), string(toggle.Response.Body()))
	assert.Equal(t, false, decode(t, toggle)["active"])

	list := newCtx(fasthttp.MethodGet, "/v1/source-keys", "")
	ListSourceKeys(f.db)(list)
	for _, k := range decode(t, list)["keys"].([]any) {
		assert.NotContains(t, k.(map[string]any), "key")
	}
}

func TestSourceMetricsHandler_FiltersBySource(t *testing.T) {
	f := newFixture(t)

	reg := prometheus.NewRegistry()
	perSource := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_reports_total", Help: "h"}, []string{"source"})
	global := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_global_total", Help: "h"})
	reg.MustRegister(perSource, global)
	perSource.WithLabelValues("web").Add(3)
	perSource.WithLabelValues("crm").Add(5)
	global.Inc()

	ctx := newCtx(fasthttp.MethodGet, "/v1/metrics?source-key=ri_test", "")
	SourceMetricsHandler(f.db, reg)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	body := string(ctx.Response.Body())
	assert.Contains(t, body, `test_reports_total{source="web"} 3`)
	assert.NotContains(t, body, `source="crm"`)
	assert.Contains(t, body, "test_global_total 1")

	bad := newCtx(fasthttp.MethodGet, "/v1/metrics?source-key=nope", "")
	SourceMetricsHandler(f.db, reg)(bad)
	assert.Equal(t, fasthttp.StatusUnauthorized, bad.Response.StatusCode())
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (s *fakeSender) SendMessage(_ context.Context, chatID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = map[string][]string{}
	}
	s.sent[chatID] = append(s.sent[chatID], text)
	return nil
}

func TestTelegramWebhook(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{}
	h := TelegramWebhook("s3cret", f.mgr, sender, logger.Nop())

	call := func(secret, body string) *fasthttp.RequestCtx {
		ctx := newCtx(fasthttp.MethodPost, "/tg/"+secret, body)
		ctx.SetUserValue("secret", secret)
		h(ctx)
		return ctx
	}

	assert.Equal(t, fasthttp.StatusNotFound, call("wrong", `{}`).Response.StatusCode())

	start := call("s3cret", `{"update_id":1,"message":{"message_id":1,"date":1710061200,"text":"/start","from":{"id":42,"first_name":"Анна"},"chat":{"id":42}}}`)
	assert.Equal(t, fasthttp.StatusOK, start.Response.StatusCode())
	require.Len(t, sender.sent["42"], 1)
	assert.Contains(t, sender.sent["42"][0], "Анна")

	msg := `{"update_id":2,"message":{"message_id":2,"date":1710061200,"text":"Создавал аккаунты весь день","from":{"id":42,"username":"anna"},"chat":{"id":42}}}`
	assert.Equal(t, fasthttp.StatusOK, call("s3cret", msg).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, call("s3cret", msg).Response.StatusCode())

	reports, err := f.store.RecentReports(context.Background(), "42", 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "telegram", reports[0].Source)

	member, err := f.store.GetMember(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", member.ChatID)
	assert.Equal(t, "anna", member.Username)

	// Duplicate deliveries are not answered with an error.
	assert.Len(t, sender.sent["42"], 1)
}
