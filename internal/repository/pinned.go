package repository

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
)

func (s *Store) Pin(ctx context.Context, p *model.PinnedMessage) error {
	defer logger.DeferLogDuration("pinned.Pin", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pinned_messages (conversation_id, message_id, pinned_by, note, pinned_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ConversationID, p.MessageID, p.PinnedBy, p.Note, p.PinnedAt,
	)
	if isUniqueViolation(err) {
		return &apperr.Error{Kind: apperr.AlreadyPinned, Op: "pinnedRepo.Pin", Message: "message already pinned", Err: err}
	}
	return classify("pinnedRepo.Pin", err)
}

func (s *Store) Unpin(ctx context.Context, conversationID, messageID string) error {
	defer logger.DeferLogDuration("pinned.Unpin", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pinned_messages WHERE conversation_id = $1 AND message_id = $2`,
		conversationID, messageID,
	)
	if err != nil {
		return classify("pinnedRepo.Unpin", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.NotFound, "pinnedRepo.Unpin", "message is not pinned")
	}
	return nil
}

func (s *Store) ListPinned(ctx context.Context, conversationID string) ([]model.PinnedMessage, error) {
	defer logger.DeferLogDuration("pinned.List", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT pm.conversation_id, pm.message_id, pm.pinned_by, pm.note, pm.pinned_at,
		        m.id, m.conversation_id, m.user_id, m.parent_id, m.content, m.type, m.metadata, m.is_edited, m.edited_at,
		        m.is_deleted, m.deleted_at, m.scheduled_at, m.schedule_state, m.created_at
		 FROM pinned_messages pm
		 JOIN messages m ON m.id = pm.message_id
		 WHERE pm.conversation_id = $1
		 ORDER BY pm.pinned_at DESC`, conversationID,
	)
	if err != nil {
		return nil, classify("pinnedRepo.List query", err)
	}
	defer rows.Close()

	out := make([]model.PinnedMessage, 0, 4)
	for rows.Next() {
		var p model.PinnedMessage
		m := &model.Message{}
		if err := rows.Scan(&p.ConversationID, &p.MessageID, &p.PinnedBy, &p.Note, &p.PinnedAt,
			&m.ID, &m.ConversationID, &m.UserID, &m.ParentID, &m.Content, &m.Type, &m.Metadata, &m.IsEdited, &m.EditedAt,
			&m.IsDeleted, &m.DeletedAt, &m.ScheduledAt, &m.ScheduleState, &m.CreatedAt); err != nil {
			return nil, classify("pinnedRepo.List scan", err)
		}
		p.Message = m
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("pinnedRepo.List rows", err)
	}
	return out, nil
}
