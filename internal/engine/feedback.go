package engine

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"reportinsight/internal/db"
)

const maxFeedbackLen = 4000

// SendFeedback stores a manager message for a member and hands it to the
// notifier. The row is flagged delivered once the notifier accepts it.
func (m *Manager) SendFeedback(ctx context.Context, authorID, manager, message string) (*db.Feedback, error) {
	authorID = strings.TrimSpace(authorID)
	message = strings.TrimSpace(message)
	if authorID == "" {
		return nil, validationError("author id is required")
	}
	if message == "" {
		return nil, validationError("message is required")
	}
	if utf8.RuneCountInString(message) > maxFeedbackLen {
		return nil, validationError("message exceeds %d characters", maxFeedbackLen)
	}

	member, err := m.store.GetMember(ctx, authorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &Error{Kind: KindNotFound, Msg: "member not found"}
	}
	if err != nil {
		return nil, storeError("could not load member", err)
	}

	fb := &db.Feedback{AuthorID: authorID, Manager: manager, Message: message}
	if err := m.store.CreateFeedback(ctx, fb); err != nil {
		return nil, storeError("could not store feedback", err)
	}

	id := fb.ID
	m.dispatch(Event{
		Type:     EventFeedbackSent,
		AuthorID: authorID,
		ChatID:   member.ChatID,
		Manager:  manager,
		Message:  message,
		At:       fb.CreatedAt,
	}, func(ctx context.Context) {
		if err := m.store.MarkFeedbackDelivered(ctx, id); err != nil {
			m.log.Warn("mark feedback delivered", "feedback", id, "error", err)
		}
	})

	return fb, nil
}
