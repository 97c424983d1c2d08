package service

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

// AddReaction is idempotent: an existing (user, emoji) pair is a successful no-op
// and publishes nothing.
func (s *Service) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	const op = "service.AddReaction"
	defer logger.DeferLogDuration(op, time.Now())()
	if err := s.check(op, reactionInput{Emoji: emoji}); err != nil {
		return err
	}
	m, err := s.publishedMessage(ctx, op, messageID, userID, CapPost)
	if err != nil {
		return err
	}
	r := &model.Reaction{MessageID: m.ID, UserID: userID, Emoji: emoji, CreatedAt: s.clock()}
	return s.hub.Commit(ctx, m.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		added, err := s.store.AddReaction(ctx, r)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		if !added {
			return nil, nil
		}
		members, err := s.store.ListParticipants(ctx, m.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		payload := ActionPayload{MessageID: m.ID, UserID: userID, Emoji: emoji}
		return []dispatch.Emission{emit(dispatch.EventReactionAdded, m.ID, r.CreatedAt, payload, userIDs(members))}, nil
	})
}

// RemoveReaction is idempotent: removing an absent reaction succeeds silently.
func (s *Service) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	const op = "service.RemoveReaction"
	if err := s.check(op, reactionInput{Emoji: emoji}); err != nil {
		return err
	}
	m, _, err := s.loadMessage(ctx, op, messageID, userID, CapRead)
	if err != nil {
		return err
	}
	at := s.clock()
	return s.hub.Commit(ctx, m.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		removed, err := s.store.RemoveReaction(ctx, m.ID, userID, emoji)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		if !removed {
			return nil, nil
		}
		members, err := s.store.ListParticipants(ctx, m.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		payload := ActionPayload{MessageID: m.ID, UserID: userID, Emoji: emoji}
		return []dispatch.Emission{emit(dispatch.EventReactionRemoved, m.ID, at, payload, userIDs(members))}, nil
	})
}

func (s *Service) ListReactions(ctx context.Context, messageID, viewerID string) ([]model.Reaction, error) {
	const op = "service.ListReactions"
	if _, _, err := s.loadMessage(ctx, op, messageID, viewerID, CapRead); err != nil {
		return nil, err
	}
	rs, err := s.store.ListReactions(ctx, messageID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return rs, nil
}

// MarkRead stores the receipt and moves last_read_at forward to the message's
// timestamp. An older message never moves it back.
func (s *Service) MarkRead(ctx context.Context, messageID, userID string) (*ReadPayload, error) {
	const op = "service.MarkRead"
	defer logger.DeferLogDuration(op, time.Now())()
	m, err := s.publishedMessage(ctx, op, messageID, userID, CapRead)
	if err != nil {
		return nil, err
	}
	rc := &model.ReadReceipt{MessageID: m.ID, UserID: userID, ReadAt: s.clock()}
	out := &ReadPayload{MessageID: m.ID, UserID: userID, ReadAt: rc.ReadAt}
	err = s.hub.Commit(ctx, m.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		last, err := s.store.MarkRead(ctx, rc, m.ConversationID, m.CreatedAt)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		out.LastReadAt = last
		members, err := s.store.ListParticipants(ctx, m.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{emit(dispatch.EventMessageRead, m.ID, rc.ReadAt, *out, userIDs(members))}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkConversationRead marks everything up to the newest message as read.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string) (*ReadPayload, error) {
	const op = "service.MarkConversationRead"
	if _, err := s.Authorize(ctx, conversationID, userID, CapRead); err != nil {
		return nil, err
	}
	at := s.clock()
	out := &ReadPayload{UserID: userID, ReadAt: at}
	err := s.hub.Commit(ctx, conversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		last, err := s.store.MarkConversationRead(ctx, conversationID, userID, at)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		out.LastReadAt = last
		members, err := s.store.ListParticipants(ctx, conversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{emit(dispatch.EventMessageRead, conversationID, at, *out, userIDs(members))}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListReadReceipts returns who has seen a message. Receipts are advisory and may
// disagree with the timestamp-based unread counter.
func (s *Service) ListReadReceipts(ctx context.Context, messageID, viewerID string) ([]model.ReadReceipt, error) {
	const op = "service.ListReadReceipts"
	if _, _, err := s.loadMessage(ctx, op, messageID, viewerID, CapRead); err != nil {
		return nil, err
	}
	rcs, err := s.store.ListReadReceipts(ctx, messageID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return rcs, nil
}

func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	const op = "service.UnreadCount"
	if _, err := s.Authorize(ctx, conversationID, userID, CapRead); err != nil {
		return 0, err
	}
	n, err := s.store.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return n, nil
}

// publishedMessage is loadMessage restricted to live, non-deleted timeline messages.
func (s *Service) publishedMessage(ctx context.Context, op, messageID, userID string, c Capability) (*model.Message, error) {
	m, _, err := s.loadMessage(ctx, op, messageID, userID, c)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, apperr.E(apperr.NotFound, op, "message not found")
	}
	if m.Pending() {
		return nil, apperr.E(apperr.Validation, op, "message is not published yet")
	}
	return m, nil
}
