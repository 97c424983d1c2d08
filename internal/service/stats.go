package service

import (
	"context"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
)

func (s *Service) ConversationStats(ctx context.Context) (*model.ConversationStats, error) {
	st, err := s.store.ConversationStats(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "service.ConversationStats", err)
	}
	return st, nil
}

func (s *Service) UserActivity(ctx context.Context, userID string) (*model.UserActivity, error) {
	st, err := s.store.UserActivity(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "service.UserActivity", err)
	}
	return st, nil
}
