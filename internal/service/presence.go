package service

import (
	"context"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/logger"
	"github.com/samber/lo"
)

// contactsScan: сколько бесед пользователя просматривается при рассылке статуса.
const contactsScan = 500

// Connect opens a live session. The first session of a user announces user_online
// to everyone sharing a conversation with them.
func (s *Service) Connect(ctx context.Context, userID string) (*dispatch.Session, error) {
	const op = "service.Connect"
	sess, first, err := s.hub.Open(userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Conflict, op, err)
	}
	if first {
		s.announcePresence(ctx, userID, dispatch.EventUserOnline)
	}
	return sess, nil
}

// Disconnect closes the session; closing the last one announces user_offline.
func (s *Service) Disconnect(ctx context.Context, sess *dispatch.Session) {
	if s.hub.Close(sess) {
		s.announcePresence(ctx, sess.UserID, dispatch.EventUserOffline)
	}
}

// OnlineParticipants returns the participants of the conversation with a live session.
func (s *Service) OnlineParticipants(ctx context.Context, conversationID, viewerID string) ([]string, error) {
	const op = "service.OnlineParticipants"
	if _, err := s.Authorize(ctx, conversationID, viewerID, CapRead); err != nil {
		return nil, err
	}
	members, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return s.hub.Online(userIDs(members)), nil
}

func (s *Service) announcePresence(ctx context.Context, userID string, typ dispatch.EventType) {
	convs, err := s.store.ListConversations(ctx, userID, contactsScan, 0)
	if err != nil {
		logger.Errorf("presence: user=%s: %v", userID, err)
		return
	}
	var contacts []string
	for _, c := range convs {
		members, err := s.store.ListParticipants(ctx, c.ID)
		if err != nil {
			logger.Errorf("presence: conversation=%s: %v", c.ID, err)
			continue
		}
		contacts = append(contacts, userIDs(members)...)
	}
	contacts = lo.Without(lo.Uniq(contacts), userID)
	if len(contacts) == 0 {
		return
	}
	s.hub.Send(contacts, dispatch.Event{Type: typ, EntityID: userID, At: s.clock(), Payload: UserPayload{UserID: userID}})
}
