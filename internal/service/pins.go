package service

import (
	"context"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/model"
)

// PinMessage fails with AlreadyPinned when the message is pinned already;
// callers wanting idempotency can treat that kind as success.
func (s *Service) PinMessage(ctx context.Context, messageID, actorID, note string) (*model.PinnedMessage, error) {
	const op = "service.PinMessage"
	if err := s.check(op, pinInput{Note: note}); err != nil {
		return nil, err
	}
	m, err := s.publishedMessage(ctx, op, messageID, actorID, CapModerate)
	if err != nil {
		return nil, err
	}
	r := m.Redacted()
	pin := &model.PinnedMessage{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		PinnedBy:       actorID,
		Note:           note,
		PinnedAt:       s.clock(),
		Message:        &r,
	}
	err = s.hub.Commit(ctx, m.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		if err := s.store.Pin(ctx, pin); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		members, err := s.store.ListParticipants(ctx, m.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{emit(dispatch.EventMessagePinned, m.ID, pin.PinnedAt, pin, userIDs(members))}, nil
	})
	if err != nil {
		return nil, err
	}
	return pin, nil
}

// UnpinMessage removes the pin. NotFound when the message was not pinned.
func (s *Service) UnpinMessage(ctx context.Context, messageID, actorID string) error {
	const op = "service.UnpinMessage"
	m, _, err := s.loadMessage(ctx, op, messageID, actorID, CapModerate)
	if err != nil {
		return err
	}
	at := s.clock()
	return s.hub.Commit(ctx, m.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		if err := s.store.Unpin(ctx, m.ConversationID, m.ID); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		members, err := s.store.ListParticipants(ctx, m.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		payload := ActionPayload{MessageID: m.ID, UserID: actorID}
		return []dispatch.Emission{emit(dispatch.EventMessageUnpinned, m.ID, at, payload, userIDs(members))}, nil
	})
}

func (s *Service) ListPinned(ctx context.Context, conversationID, viewerID string) ([]model.PinnedMessage, error) {
	const op = "service.ListPinned"
	if _, err := s.Authorize(ctx, conversationID, viewerID, CapRead); err != nil {
		return nil, err
	}
	pins, err := s.store.ListPinned(ctx, conversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	for i := range pins {
		if pins[i].Message != nil {
			r := pins[i].Message.Redacted()
			pins[i].Message = &r
		}
	}
	return pins, nil
}
