package repository

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/jackc/pgx/v5"
)

// AddReaction идемпотентна: повтор возвращает added=false.
func (s *Store) AddReaction(ctx context.Context, r *model.Reaction) (bool, error) {
	defer logger.DeferLogDuration("reaction.Add", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		r.MessageID, r.UserID, r.Emoji, r.CreatedAt,
	)
	if err != nil {
		return false, classify("reactionRepo.Add", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, classify("reactionRepo.Remove", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListReactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.List", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at FROM reactions
		 WHERE message_id = $1 ORDER BY created_at, user_id, emoji`, messageID,
	)
	if err != nil {
		return nil, classify("reactionRepo.List query", err)
	}
	defer rows.Close()
	out := make([]model.Reaction, 0, 4)
	for rows.Next() {
		var r model.Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, classify("reactionRepo.List scan", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("reactionRepo.List rows", err)
	}
	return out, nil
}

// ReactionGroups агрегирует реакции по эмодзи для набора сообщений (проекция для отображения).
func (s *Store) ReactionGroups(ctx context.Context, messageIDs []string) (map[string][]model.ReactionGroup, error) {
	defer logger.DeferLogDuration("reaction.Groups", time.Now())()
	out := make(map[string][]model.ReactionGroup, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, emoji, COUNT(*), array_agg(user_id ORDER BY created_at, user_id)
		 FROM reactions WHERE message_id = ANY($1::uuid[])
		 GROUP BY message_id, emoji
		 ORDER BY message_id, MIN(created_at), emoji`, messageIDs,
	)
	if err != nil {
		return nil, classify("reactionRepo.Groups query", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var g model.ReactionGroup
		if err := rows.Scan(&id, &g.Emoji, &g.Count, &g.Users); err != nil {
			return nil, classify("reactionRepo.Groups scan", err)
		}
		out[id] = append(out[id], g)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("reactionRepo.Groups rows", err)
	}
	return out, nil
}

// MarkRead: квитанция last-write-wins, last_read_at участника только растёт (GREATEST игнорирует NULL).
func (s *Store) MarkRead(ctx context.Context, rc *model.ReadReceipt, conversationID string, messageCreatedAt time.Time) (time.Time, error) {
	defer logger.DeferLogDuration("receipt.MarkRead", time.Now())()
	var lastRead time.Time
	err := s.inTx(ctx, "receiptRepo.MarkRead", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO read_receipts (message_id, user_id, read_at) VALUES ($1, $2, $3)
			 ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = EXCLUDED.read_at`,
			rc.MessageID, rc.UserID, rc.ReadAt,
		)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx,
			`UPDATE participants SET last_read_at = GREATEST(last_read_at, $3)
			 WHERE conversation_id = $1 AND user_id = $2
			 RETURNING last_read_at`,
			conversationID, rc.UserID, messageCreatedAt,
		).Scan(&lastRead)
		if err != nil {
			return apperr.Wrap(apperr.NotFound, "receiptRepo.MarkRead", classify("participant", err))
		}
		return nil
	})
	return lastRead, err
}

func (s *Store) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (time.Time, error) {
	defer logger.DeferLogDuration("receipt.MarkConversationRead", time.Now())()
	var lastRead time.Time
	err := s.pool.QueryRow(ctx,
		`UPDATE participants p SET last_read_at = GREATEST(p.last_read_at, $3, c.last_message_at)
		 FROM conversations c
		 WHERE c.id = p.conversation_id AND p.conversation_id = $1 AND p.user_id = $2
		 RETURNING p.last_read_at`,
		conversationID, userID, at,
	).Scan(&lastRead)
	if err != nil {
		return time.Time{}, classify("receiptRepo.MarkConversationRead", err)
	}
	return lastRead, nil
}

func (s *Store) ListReadReceipts(ctx context.Context, messageID string) ([]model.ReadReceipt, error) {
	defer logger.DeferLogDuration("receipt.List", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, user_id, read_at FROM read_receipts WHERE message_id = $1 ORDER BY read_at, user_id`,
		messageID,
	)
	if err != nil {
		return nil, classify("receiptRepo.List query", err)
	}
	defer rows.Close()
	out := make([]model.ReadReceipt, 0, 4)
	for rows.Next() {
		var rc model.ReadReceipt
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.ReadAt); err != nil {
			return nil, classify("receiptRepo.List scan", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("receiptRepo.List rows", err)
	}
	return out, nil
}

// UnreadCount: видимые неудалённые сообщения новее last_read_at (все, если не читал).
// Свои сообщения сюда не попадают: коммит сообщения двигает last_read_at автора.
func (s *Store) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	defer logger.DeferLogDuration("receipt.UnreadCount", time.Now())()
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = $2
		 WHERE m.conversation_id = $1 AND NOT m.is_deleted
		   AND m.`+timeline+`
		   AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)`,
		conversationID, userID,
	).Scan(&n)
	if err != nil {
		return 0, classify("receiptRepo.UnreadCount", err)
	}
	return n, nil
}
