package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"reportinsight/internal/engine"
	"reportinsight/internal/logger"
)

const (
	telegramAPI     = "https://api.telegram.org"
	telegramTimeout = 10 * time.Second
)

// Telegram delivers events as Bot API messages: acknowledgements and
// review outcomes to the member's chat, and a copy of every new report to
// the admin chat when one is configured.
type Telegram struct {
	client      *fasthttp.Client
	baseURL     string
	token       string
	adminChatID string
	log         *logger.Logger
}

func NewTelegram(token, adminChatID string, log *logger.Logger) *Telegram {
	return &Telegram{
		client:      &fasthttp.Client{Name: "reportinsight"},
		baseURL:     telegramAPI,
		token:       token,
		adminChatID: adminChatID,
		log:         log.With("sink", "telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Notify(ctx context.Context, ev engine.Event) error {
	text := FormatMessage(ev)
	if ev.ChatID != "" && text != "" {
		if err := t.SendMessage(ctx, ev.ChatID, text); err != nil {
			return err
		}
	}
	if ev.Type == engine.EventReportClassified && t.adminChatID != "" {
		admin := fmt.Sprintf("New report from %s: %s, suspicious: %s", ev.AuthorID, ev.TaskType, yesNo(ev.Suspicious))
		if err := t.SendMessage(ctx, t.adminChatID, admin); err != nil {
			return err
		}
	}
	return nil
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage posts text to chatID through sendMessage.
func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := telegramTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if err := t.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}

	var out botResponse
	_ = json.Unmarshal(resp.Body(), &out)
	if resp.StatusCode() != fasthttp.StatusOK || !out.OK {
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode(), out.Description)
	}
	t.log.Debug("telegram message sent", "chat", chatID)
	return nil
}

// FormatMessage renders the member-facing text for ev. It returns "" for
// events that carry nothing for the member.
func FormatMessage(ev engine.Event) string {
	switch ev.Type {
	case engine.EventReportClassified:
		return fmt.Sprintf("Отчёт получен. Тип: %s. Подозрительный: %s. Повторы: %s.",
			ev.TaskType, yesNo(ev.Suspicious), strconv.FormatFloat(ev.RepeatScore, 'f', 2, 64))
	case engine.EventReportReviewed:
		if ev.Outcome == "approved" {
			var parts []string
			for _, k := range sortedKeys(ev.Conversions) {
				parts = append(parts, fmt.Sprintf("%s: %d", k, ev.Conversions[k]))
			}
			msg := "Отчёт принят."
			if len(parts) > 0 {
				msg += " " + strings.Join(parts, ", ") + "."
			}
			return msg
		}
		return "Отчёт отклонён."
	case engine.EventFeedbackSent:
		return "Сообщение от менеджера: " + ev.Message
	}
	return ""
}

func yesNo(b bool) string {
	if b {
		return "да"
	}
	return "нет"
}
