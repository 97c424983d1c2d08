package service

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/metrics"
	"github.com/chatcore/internal/storage"
	"github.com/samber/lo"
)

// StartTyping refreshes the indicator and publishes typing_started only when it
// was not already live. The store transition and the event share the conversation's
// commit lock, so peers see typing events in the order the store applied them.
func (s *Service) StartTyping(ctx context.Context, conversationID, userID string) error {
	const op = "service.StartTyping"
	if _, err := s.Authorize(ctx, conversationID, userID, CapPost); err != nil {
		return err
	}
	key := storage.TypingKey{ConversationID: conversationID, UserID: userID}
	return s.hub.Commit(ctx, conversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		to, err := s.typingAudience(ctx, op, key)
		if err != nil {
			return nil, err
		}
		started, err := s.typing.Start(ctx, key, s.opts.TypingTTL)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		if !started {
			return nil, nil
		}
		return []dispatch.Emission{s.typingEmission(dispatch.EventTypingStarted, key, to)}, nil
	})
}

// StopTyping always publishes typing_stopped.
func (s *Service) StopTyping(ctx context.Context, conversationID, userID string) error {
	const op = "service.StopTyping"
	if _, err := s.Authorize(ctx, conversationID, userID, CapRead); err != nil {
		return err
	}
	key := storage.TypingKey{ConversationID: conversationID, UserID: userID}
	return s.hub.Commit(ctx, conversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		to, err := s.typingAudience(ctx, op, key)
		if err != nil {
			return nil, err
		}
		if _, err := s.typing.Stop(ctx, key); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{s.typingEmission(dispatch.EventTypingStopped, key, to)}, nil
	})
}

func (s *Service) ActiveTypers(ctx context.Context, conversationID, viewerID string) ([]string, error) {
	const op = "service.ActiveTypers"
	if _, err := s.Authorize(ctx, conversationID, viewerID, CapRead); err != nil {
		return nil, err
	}
	users, err := s.typing.Active(ctx, conversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return users, nil
}

// SweepTyping publishes typing_stopped for every indicator whose TTL passed. Each
// candidate is claimed under its conversation's commit lock, so a Start that refreshed
// it in between wins and no stop is sent.
func (s *Service) SweepTyping(ctx context.Context) (int, error) {
	const op = "service.SweepTyping"
	now := s.now()
	keys, err := s.typing.Expired(ctx, now)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	n := 0
	for _, k := range keys {
		err := s.hub.Commit(ctx, k.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
			expired, err := s.typing.Expire(ctx, k, now)
			if err != nil {
				return nil, apperr.Wrap(apperr.StorageFailure, op, err)
			}
			if !expired {
				return nil, nil
			}
			n++
			to, err := s.typingAudience(ctx, op, k)
			if err != nil {
				// запись уже снята; беседу могли удалить
				logger.Errorf("%s: conversation=%s: %v", op, k.ConversationID, err)
				return nil, nil
			}
			return []dispatch.Emission{s.typingEmission(dispatch.EventTypingStopped, k, to)}, nil
		})
		if err != nil {
			logger.Errorf("%s: %s/%s: %v", op, k.ConversationID, k.UserID, err)
		}
	}
	metrics.TypingExpired.Add(float64(n))
	return n, nil
}

func (s *Service) RunTypingSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.opts.TypingSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepTyping(ctx); err != nil {
				logger.Errorf("typing sweeper: %v", err)
			}
		}
	}
}

// typingAudience: every participant except the typist.
func (s *Service) typingAudience(ctx context.Context, op string, key storage.TypingKey) ([]string, error) {
	members, err := s.store.ListParticipants(ctx, key.ConversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return lo.Without(userIDs(members), key.UserID), nil
}

func (s *Service) typingEmission(typ dispatch.EventType, key storage.TypingKey, to []string) dispatch.Emission {
	return emit(typ, key.UserID, s.clock(), UserPayload{UserID: key.UserID}, to)
}
