package service

import (
	"context"
	"time"

	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/push"
	"github.com/samber/lo"
)

// ActionPayload names a message and the user who acted on it.
type ActionPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji,omitempty"`
}

// ReadPayload is the message_read event body. MessageID is empty for a whole-conversation read.
type ReadPayload struct {
	MessageID  string    `json:"message_id,omitempty"`
	UserID     string    `json:"user_id"`
	ReadAt     time.Time `json:"read_at"`
	LastReadAt time.Time `json:"last_read_at"`
}

type UserPayload struct {
	UserID string `json:"user_id"`
}

func userIDs(ps []model.Participant) []string {
	return lo.Map(ps, func(p model.Participant, _ int) string { return p.UserID })
}

func emit(typ dispatch.EventType, entityID string, at time.Time, payload any, to []string) dispatch.Emission {
	return dispatch.Emission{
		Event:      dispatch.Event{Type: typ, EntityID: entityID, At: at, Payload: payload},
		Recipients: to,
	}
}

func messageEmission(typ dispatch.EventType, m *model.Message, at time.Time, members []model.Participant) dispatch.Emission {
	return emit(typ, m.ID, at, m.Redacted(), userIDs(members))
}

// notifyMessage triggers notifications for everyone but the author, skipping muted and blocked participants.
func (s *Service) notifyMessage(ctx context.Context, m *model.Message, members []model.Participant) {
	targets := lo.Filter(members, func(p model.Participant, _ int) bool {
		return p.UserID != m.UserID && !p.IsMuted && !p.IsBlocked
	})
	for _, p := range targets {
		s.notifier.Notify(ctx, push.Notification{
			UserID:         p.UserID,
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			Title:          "New message",
			Body:           preview(m),
			Data:           map[string]string{"type": string(m.Type), "author_id": m.UserID},
		})
	}
}

func preview(m *model.Message) string {
	if m.Type != model.MessageTypeText {
		return "[" + string(m.Type) + "]"
	}
	r := []rune(m.Content)
	if len(r) > 100 {
		return string(r[:100]) + "…"
	}
	return m.Content
}
