package repository

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/jackc/pgx/v5"
)

const conversationCols = `c.id, c.type, c.name, c.description, c.created_by, c.is_active, c.settings,
		c.last_message_at, c.deleted_at, c.created_at`

const participantCols = `conversation_id, user_id, role, permissions, joined_at, last_read_at, is_muted, is_blocked`

func scanConversation(row rowScanner, c *model.Conversation) error {
	return row.Scan(&c.ID, &c.Type, &c.Name, &c.Description, &c.CreatedBy, &c.IsActive, &c.Settings,
		&c.LastMessageAt, &c.DeletedAt, &c.CreatedAt)
}

func scanParticipant(row rowScanner, p *model.Participant) error {
	return row.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.Permissions, &p.JoinedAt, &p.LastReadAt, &p.IsMuted, &p.IsBlocked)
}

func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation, members []model.Participant) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	return s.inTx(ctx, "convRepo.Create", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO conversations (id, type, name, description, created_by, is_active, settings, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, '{}'::jsonb), $8)`,
			c.ID, c.Type, c.Name, c.Description, c.CreatedBy, c.IsActive, c.Settings, c.CreatedAt,
		)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, p := range members {
			batch.Queue(
				`INSERT INTO participants (conversation_id, user_id, role, permissions, joined_at, is_muted, is_blocked)
				 VALUES ($1, $2, $3, COALESCE($4, '{}'::text[]), $5, $6, $7)`,
				c.ID, p.UserID, p.Role, p.Permissions, p.JoinedAt, p.IsMuted, p.IsBlocked,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.Get", time.Now())()
	c := &model.Conversation{}
	err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations c WHERE c.id = $1`, id), c)
	if err != nil {
		return nil, classify("convRepo.Get", err)
	}
	return c, nil
}

// ListConversations возвращает активные беседы пользователя, свежие сверху.
func (s *Store) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.List", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationCols+`
		 FROM conversations c
		 JOIN participants p ON p.conversation_id = c.id AND p.user_id = $1
		 WHERE c.is_active AND c.deleted_at IS NULL
		 ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset,
	)
	if err != nil {
		return nil, classify("convRepo.List query", err)
	}
	defer rows.Close()

	out := make([]model.Conversation, 0, limit)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, classify("convRepo.List scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("convRepo.List rows", err)
	}
	return out, nil
}

func (s *Store) GetParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	defer logger.DeferLogDuration("conv.GetParticipant", time.Now())()
	p := &model.Participant{}
	err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantCols+` FROM participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID), p)
	if err != nil {
		return nil, classify("convRepo.GetParticipant", err)
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	defer logger.DeferLogDuration("conv.ListParticipants", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantCols+` FROM participants WHERE conversation_id = $1 ORDER BY joined_at, user_id`,
		conversationID,
	)
	if err != nil {
		return nil, classify("convRepo.ListParticipants query", err)
	}
	defer rows.Close()

	out := make([]model.Participant, 0, 8)
	for rows.Next() {
		var p model.Participant
		if err := scanParticipant(rows, &p); err != nil {
			return nil, classify("convRepo.ListParticipants scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("convRepo.ListParticipants rows", err)
	}
	return out, nil
}

func (s *Store) AddParticipant(ctx context.Context, p *model.Participant) error {
	defer logger.DeferLogDuration("conv.AddParticipant", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (conversation_id, user_id, role, permissions, joined_at, is_muted, is_blocked)
		 VALUES ($1, $2, $3, COALESCE($4, '{}'::text[]), $5, $6, $7)`,
		p.ConversationID, p.UserID, p.Role, p.Permissions, p.JoinedAt, p.IsMuted, p.IsBlocked,
	)
	return classify("convRepo.AddParticipant", err)
}

func (s *Store) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	defer logger.DeferLogDuration("conv.RemoveParticipant", time.Now())()
	return s.inTx(ctx, "convRepo.RemoveParticipant", func(tx pgx.Tx) error {
		cur, err := lockParticipant(ctx, tx, conversationID, userID)
		if err != nil {
			return err
		}
		if cur.Role == model.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, tx, conversationID, "convRepo.RemoveParticipant"); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `DELETE FROM participants WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
		return err
	})
}

func (s *Store) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	defer logger.DeferLogDuration("conv.UpdateParticipant", time.Now())()
	return s.inTx(ctx, "convRepo.UpdateParticipant", func(tx pgx.Tx) error {
		cur, err := lockParticipant(ctx, tx, p.ConversationID, p.UserID)
		if err != nil {
			return err
		}
		if cur.Role == model.RoleAdmin && p.Role != model.RoleAdmin {
			if err := ensureAnotherAdmin(ctx, tx, p.ConversationID, "convRepo.UpdateParticipant"); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx,
			`UPDATE participants SET role = $3, permissions = COALESCE($4, '{}'::text[]), is_muted = $5, is_blocked = $6
			 WHERE conversation_id = $1 AND user_id = $2`,
			p.ConversationID, p.UserID, p.Role, p.Permissions, p.IsMuted, p.IsBlocked,
		)
		return err
	})
}

// lockParticipant блокирует строку беседы (порядок блокировок как у вставки сообщений), затем читает участника.
func lockParticipant(ctx context.Context, tx pgx.Tx, conversationID, userID string) (*model.Participant, error) {
	if _, err := tx.Exec(ctx, `SELECT 1 FROM conversations WHERE id = $1 FOR UPDATE`, conversationID); err != nil {
		return nil, err
	}
	p := &model.Participant{}
	err := scanParticipant(tx.QueryRow(ctx,
		`SELECT `+participantCols+` FROM participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID), p)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func ensureAnotherAdmin(ctx context.Context, tx pgx.Tx, conversationID, op string) error {
	var group bool
	var admins int
	err := tx.QueryRow(ctx,
		`SELECT c.type = 'group' AND c.is_active AND c.deleted_at IS NULL,
		        (SELECT COUNT(*) FROM participants p WHERE p.conversation_id = c.id AND p.role = 'admin')
		 FROM conversations c WHERE c.id = $1`, conversationID,
	).Scan(&group, &admins)
	if err != nil {
		return err
	}
	if group && admins <= 1 {
		return apperr.E(apperr.Conflict, op, "group must keep at least one admin")
	}
	return nil
}
