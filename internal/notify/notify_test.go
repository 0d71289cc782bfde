package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"reportinsight/internal/db"
	"reportinsight/internal/engine"
	"reportinsight/internal/logger"
)

type fakeBot struct {
	mu    sync.Mutex
	paths []string
	sent  []sendMessageRequest
	fail  bool
}

func (b *fakeBot) handler(ctx *fasthttp.RequestCtx) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = append(b.paths, string(ctx.Path()))
	var req sendMessageRequest
	_ = json.Unmarshal(ctx.PostBody(), &req)
	b.sent = append(b.sent, req)
	ctx.SetContentType("application/json")
	if b.fail {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(`{"ok":false,"description":"Bad Request: chat not found"}`)
		return
	}
	ctx.SetBodyString(`{"ok":true}`)
}

func newTestTelegram(t *testing.T, admin string) (*Telegram, *fakeBot) {
	t.Helper()
	bot := &fakeBot{}
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, bot.handler) }()
	t.Cleanup(func() { _ = ln.Close() })

	tg := NewTelegram("TOKEN", admin, logger.Nop())
	tg.baseURL = "http://telegram.test"
	tg.client = &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	return tg, bot
}

func TestTelegram_ClassifiedGoesToMemberAndAdmin(t *testing.T) {
	tg, bot := newTestTelegram(t, "999")

	err := tg.Notify(context.Background(), engine.Event{
		Type:       engine.EventReportClassified,
		AuthorID:   "42",
		ChatID:     "42",
		TaskType:   "accounts",
		Suspicious: false,
	})
	require.NoError(t, err)

	require.Len(t, bot.sent, 2)
	assert.Equal(t, "/botTOKEN/sendMessage", bot.paths[0])
	assert.Equal(t, "42", bot.sent[0].ChatID)
	assert.Contains(t, bot.sent[0].Text, "accounts")
	assert.Equal(t, "999", bot.sent[1].ChatID)
	assert.Contains(t, bot.sent[1].Text, "New report from 42")
}

func TestTelegram_NoChatNoMessage(t *testing.T) {
	tg, bot := newTestTelegram(t, "")
	require.NoError(t, tg.Notify(context.Background(), engine.Event{Type: engine.EventReportReviewed, Outcome: "rejected"}))
	assert.Empty(t, bot.sent)
}

func TestTelegram_APIError(t *testing.T) {
	tg, bot := newTestTelegram(t, "")
	bot.fail = true
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := tg.SendMessage(ctx, "1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestFormatMessage(t *testing.T) {
	approved := FormatMessage(engine.Event{Type: engine.EventReportReviewed, Outcome: "approved", Conversions: db.Counts{"leads": 1, "accounts": 3}})
	assert.Equal(t, "Отчёт принят. accounts: 3, leads: 1.", approved)
	assert.Equal(t, "Отчёт отклонён.", FormatMessage(engine.Event{Type: engine.EventReportReviewed, Outcome: "rejected"}))
	assert.True(t, strings.HasSuffix(FormatMessage(engine.Event{Type: engine.EventFeedbackSent, Message: "молодец"}), "молодец"))
	assert.Contains(t, FormatMessage(engine.Event{Type: engine.EventReportClassified, TaskType: "chat", RepeatScore: 0.5}), "0.50")
	assert.Empty(t, FormatMessage(engine.Event{Type: "unknown"}))
}

type stubSink struct {
	name  string
	err   error
	calls int
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Notify(context.Context, engine.Event) error {
	s.calls++
	return s.err
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	bad := &stubSink{name: "bad", err: errors.New("down")}
	good := &stubSink{name: "good"}
	m := NewMulti(logger.Nop(), bad, good, NewLog(logger.Nop()))

	err := m.Notify(context.Background(), engine.Event{Type: engine.EventReportClassified})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
	assert.Equal(t, 3, m.Len())

	assert.NoError(t, NewMulti(logger.Nop(), good).Notify(context.Background(), engine.Event{}))
}
