package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
	"github.com/jackc/pgx/v5"
)

const messageCols = `id, conversation_id, user_id, parent_id, content, type, metadata, is_edited, edited_at,
		is_deleted, deleted_at, scheduled_at, schedule_state, created_at`

func scanMessage(row rowScanner, m *model.Message) error {
	return row.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.ParentID, &m.Content, &m.Type, &m.Metadata,
		&m.IsEdited, &m.EditedAt, &m.IsDeleted, &m.DeletedAt, &m.ScheduledAt, &m.ScheduleState, &m.CreatedAt)
}

func collectMessages(rows pgx.Rows, op string, capacity int) ([]model.Message, error) {
	defer rows.Close()
	out := make([]model.Message, 0, capacity)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, classify(op+" scan", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op+" rows", err)
	}
	return out, nil
}

// lockConversation берёт строку беседы FOR UPDATE: вставки в одну беседу идут строго по очереди.
func lockConversation(ctx context.Context, tx pgx.Tx, conversationID string) (*time.Time, error) {
	var last *time.Time
	err := tx.QueryRow(ctx,
		`SELECT last_message_at FROM conversations
		 WHERE id = $1 AND is_active AND deleted_at IS NULL
		 FOR UPDATE`, conversationID,
	).Scan(&last)
	if err != nil {
		return nil, err
	}
	return last, nil
}

// commitAt возвращает момент коммита, строго больший last_message_at.
func commitAt(want time.Time, last *time.Time) time.Time {
	if last != nil && !want.After(*last) {
		return last.Add(time.Microsecond)
	}
	return want
}

// advanceTimeline двигает last_message_at беседы и last_read_at автора: своё сообщение прочитано.
func advanceTimeline(ctx context.Context, tx pgx.Tx, conversationID, authorID string, at time.Time) error {
	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2) WHERE id = $1`,
		conversationID, at,
	); err != nil {
		return err
	}
	_, err := tx.Exec(ctx,
		`UPDATE participants SET last_read_at = GREATEST(last_read_at, $3)
		 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, authorID, at,
	)
	return err
}

func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Insert", time.Now())()
	if m.ScheduleState == "" {
		m.ScheduleState = model.ScheduleNone
	}
	return s.inTx(ctx, "msgRepo.Insert", func(tx pgx.Tx) error {
		last, err := lockConversation(ctx, tx, m.ConversationID)
		if err != nil {
			return err
		}
		if m.ParentID != nil {
			var parentConv string
			err := tx.QueryRow(ctx, `SELECT conversation_id FROM messages WHERE id = $1`, *m.ParentID).Scan(&parentConv)
			if err != nil || parentConv != m.ConversationID {
				return apperr.E(apperr.NotFound, "msgRepo.Insert", "parent message not found")
			}
		}
		committed := m.ScheduleState != model.ScheduleScheduled
		if committed {
			m.CreatedAt = commitAt(m.CreatedAt, last)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, user_id, parent_id, content, type, metadata, scheduled_at, schedule_state, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			m.ID, m.ConversationID, m.UserID, m.ParentID, m.Content, m.Type, m.Metadata, m.ScheduledAt, m.ScheduleState, m.CreatedAt,
		)
		if err != nil {
			return err
		}
		if !committed {
			return nil
		}
		return advanceTimeline(ctx, tx, m.ConversationID, m.UserID, m.CreatedAt)
	})
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Get", time.Now())()
	m := &model.Message{}
	if err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id), m); err != nil {
		return nil, classify("msgRepo.Get", err)
	}
	return m, nil
}

func (s *Store) EditMessage(ctx context.Context, id, content string, at time.Time) error {
	defer logger.DeferLogDuration("msg.Edit", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $2, is_edited = TRUE, edited_at = $3 WHERE id = $1 AND NOT is_deleted`,
		id, content, at,
	)
	if err != nil {
		return classify("msgRepo.Edit", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.NotFound, "msgRepo.Edit", "message not found")
	}
	return nil
}

// SoftDeleteMessage помечает сообщение удалённым, содержимое остаётся в БД. Повторный вызов: no-op.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	var deleted bool
	err := s.pool.QueryRow(ctx,
		`UPDATE messages SET is_deleted = TRUE, deleted_at = COALESCE(deleted_at, $2) WHERE id = $1 RETURNING is_deleted`,
		id, at,
	).Scan(&deleted)
	return classify("msgRepo.SoftDelete", err)
}

func (s *Store) ListMessages(ctx context.Context, q storage.MessageQuery) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	args := []any{q.ConversationID}
	where := `conversation_id = $1 AND ` + timeline
	order := `DESC`
	if q.Before != nil {
		args = append(args, q.Before.CreatedAt, q.Before.ID)
		where += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	if q.After != nil {
		args = append(args, q.After.CreatedAt, q.After.ID)
		where += fmt.Sprintf(` AND (created_at, id) > ($%d, $%d)`, len(args)-1, len(args))
		order = `ASC`
	}
	args = append(args, q.Limit)
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE `+where+
			` ORDER BY created_at `+order+`, id `+order+fmt.Sprintf(` LIMIT $%d`, len(args)),
		args...,
	)
	if err != nil {
		return nil, classify("msgRepo.List query", err)
	}
	return collectMessages(rows, "msgRepo.List", q.Limit)
}

func (s *Store) ListReplies(ctx context.Context, parentID, viewerID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListReplies", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE parent_id = $1 AND `+timeline+`
		 ORDER BY created_at, id`, parentID,
	)
	if err != nil {
		return nil, classify("msgRepo.ListReplies query", err)
	}
	return collectMessages(rows, "msgRepo.ListReplies", 8)
}

func (s *Store) LatestMessage(ctx context.Context, conversationID, viewerID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Latest", time.Now())()
	m := &model.Message{}
	err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = $1 AND NOT is_deleted AND `+timeline+`
		 ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("msgRepo.Latest", err)
	}
	return m, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages ищет подстроку без учёта регистра в беседах пользователя.
func (s *Store) SearchMessages(ctx context.Context, userID, query, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Search", time.Now())()
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages m
		 WHERE m.conversation_id IN (SELECT conversation_id FROM participants WHERE user_id = $1)
		   AND ($3 = '' OR m.conversation_id::text = $3)
		   AND NOT m.is_deleted AND m.`+timeline+`
		   AND m.content ILIKE $2
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $4`, userID, pattern, conversationID, limit,
	)
	if err != nil {
		return nil, classify("msgRepo.Search query", err)
	}
	return collectMessages(rows, "msgRepo.Search", limit)
}

func (s *Store) DueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error) {
	defer logger.DeferLogDuration("msg.DueScheduled", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM messages
		 WHERE schedule_state = 'scheduled' AND scheduled_at <= $1
		 ORDER BY scheduled_at LIMIT $2`, now, limit,
	)
	if err != nil {
		return nil, classify("msgRepo.DueScheduled query", err)
	}
	defer rows.Close()
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("msgRepo.DueScheduled scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("msgRepo.DueScheduled rows", err)
	}
	return ids, nil
}

// PromoteScheduled: CAS scheduled -> promoted в одной транзакции с блокировкой беседы.
// Проигравший конкурент получает Conflict.
func (s *Store) PromoteScheduled(ctx context.Context, id string, now time.Time) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Promote", time.Now())()
	const op = "msgRepo.Promote"
	m := &model.Message{}
	err := s.inTx(ctx, op, func(tx pgx.Tx) error {
		var conversationID string
		if err := tx.QueryRow(ctx, `SELECT conversation_id FROM messages WHERE id = $1`, id).Scan(&conversationID); err != nil {
			return err
		}
		last, err := lockConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		at := commitAt(now, last)
		err = scanMessage(tx.QueryRow(ctx,
			`UPDATE messages SET schedule_state = 'promoted', created_at = $2
			 WHERE id = $1 AND schedule_state = 'scheduled'
			 RETURNING `+messageCols, id, at), m)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.E(apperr.Conflict, op, "scheduled message already claimed")
		}
		if err != nil {
			return err
		}
		return advanceTimeline(ctx, tx, conversationID, m.UserID, at)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) CancelScheduled(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("msg.CancelScheduled", time.Now())()
	const op = "msgRepo.CancelScheduled"
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET schedule_state = 'cancelled', is_deleted = TRUE, deleted_at = $2
		 WHERE id = $1 AND schedule_state = 'scheduled'`, id, at,
	)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var state model.ScheduleState
	if err := s.pool.QueryRow(ctx, `SELECT schedule_state FROM messages WHERE id = $1`, id).Scan(&state); err != nil {
		return classify(op, err)
	}
	switch state {
	case model.ScheduleCancelled:
		return nil
	case model.SchedulePromoted:
		return apperr.E(apperr.AlreadyPromoted, op, "message already promoted")
	}
	return apperr.E(apperr.Validation, op, "message is not scheduled")
}

func (s *Store) ListScheduled(ctx context.Context, conversationID, authorID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListScheduled", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = $1 AND user_id = $2 AND schedule_state = 'scheduled'
		 ORDER BY scheduled_at`, conversationID, authorID,
	)
	if err != nil {
		return nil, classify("msgRepo.ListScheduled query", err)
	}
	return collectMessages(rows, "msgRepo.ListScheduled", 4)
}

func (s *Store) NextScheduledAt(ctx context.Context) (*time.Time, error) {
	var next *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(scheduled_at) FROM messages WHERE schedule_state = 'scheduled'`,
	).Scan(&next)
	if err != nil {
		return nil, classify("msgRepo.NextScheduledAt", err)
	}
	return next, nil
}
