package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"reportinsight/internal/engine"
	"reportinsight/internal/logger"
)

// MessageSender posts a plain text message to a Telegram chat.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID int64   `json:"message_id"`
	Date      int64   `json:"date"`
	Text      string  `json:"text"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u *tgUser) displayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// TelegramWebhook turns bot updates into report submissions. Plain text
// messages become reports from the sender; /start registers nothing but
// greets the member. The acknowledgement for a report is sent by the
// notifier once it is recorded. Telegram always gets 200 so it does not
// redeliver updates the engine already rejected.
func TelegramWebhook(secret string, mgr *engine.Manager, sender MessageSender, log *logger.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if secret == "" || subtle.ConstantTimeCompare([]byte(pathParam(ctx, "secret")), []byte(secret)) != 1 {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}

		var upd tgUpdate
		if err := json.Unmarshal(ctx.PostBody(), &upd); err != nil {
			log.Warn("bad telegram update", "error", err)
			ctx.SetStatusCode(fasthttp.StatusOK)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)

		msg := upd.Message
		if msg == nil || msg.From == nil || msg.Text == "" {
			return
		}
		chatID := strconv.FormatInt(msg.Chat.ID, 10)

		if strings.HasPrefix(msg.Text, "/start") {
			name := msg.From.displayName()
			if name == "" {
				name = msg.From.Username
			}
			if name == "" {
				name = "User"
			}
			reply(ctx, sender, log, chatID, "Привет, "+name+"! Присылай отчёты сюда.")
			return
		}
		if strings.HasPrefix(msg.Text, "/") {
			return
		}

		_, err := mgr.Submit(ctx, engine.Submission{
			AuthorID:    strconv.FormatInt(msg.From.ID, 10),
			Text:        msg.Text,
			Timestamp:   time.Unix(msg.Date, 0).UTC(),
			Source:      "telegram",
			Username:    msg.From.Username,
			DisplayName: msg.From.displayName(),
			ChatID:      chatID,
		})
		// A conflict is a redelivered update; the original was already acknowledged.
		if err != nil && !errors.Is(err, engine.ErrConflict) {
			log.Warn("telegram report rejected", "chat", chatID, "error", err)
			reply(ctx, sender, log, chatID, engine.MsgSubmitFailed)
		}
	}
}

func reply(ctx context.Context, sender MessageSender, log *logger.Logger, chatID, text string) {
	if sender == nil {
		return
	}
	if err := sender.SendMessage(ctx, chatID, text); err != nil {
		log.Warn("telegram reply failed", "chat", chatID, "error", err)
	}
}
