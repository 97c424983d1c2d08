package repository

import (
	"context"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

func (s *Store) ConversationStats(ctx context.Context) (*model.ConversationStats, error) {
	defer logger.DeferLogDuration("stats.Conversations", time.Now())()
	st := &model.ConversationStats{}
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM conversations),
		        (SELECT COUNT(*) FROM messages WHERE NOT is_deleted AND `+timeline+`),
		        (SELECT COUNT(*) FROM participants)`,
	).Scan(&st.TotalConversations, &st.TotalMessages, &st.TotalParticipants)
	if err != nil {
		return nil, classify("statsRepo.Conversations", err)
	}
	return st, nil
}

func (s *Store) UserActivity(ctx context.Context, userID string) (*model.UserActivity, error) {
	defer logger.DeferLogDuration("stats.UserActivity", time.Now())()
	act := &model.UserActivity{}
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM participants p JOIN conversations c ON c.id = p.conversation_id
		          WHERE p.user_id = $1 AND c.is_active AND c.deleted_at IS NULL),
		        COUNT(m.id), MAX(m.created_at)
		 FROM messages m
		 WHERE m.user_id = $1 AND NOT m.is_deleted AND m.`+timeline, userID,
	).Scan(&act.ConversationsCount, &act.MessagesCount, &act.LastActivity)
	if err != nil {
		return nil, classify("statsRepo.UserActivity", err)
	}
	return act, nil
}
