package repository

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/jackc/pgx/v5"
)

const pollCols = `id, conversation_id, created_by, question, options, expires_at, is_active, created_at`

func scanPoll(row rowScanner, p *model.Poll) error {
	return row.Scan(&p.ID, &p.ConversationID, &p.CreatedBy, &p.Question, &p.Options, &p.ExpiresAt, &p.IsActive, &p.CreatedAt)
}

func collectPolls(rows pgx.Rows, op string) ([]model.Poll, error) {
	defer rows.Close()
	out := make([]model.Poll, 0, 4)
	for rows.Next() {
		var p model.Poll
		if err := scanPoll(rows, &p); err != nil {
			return nil, classify(op+" scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op+" rows", err)
	}
	return out, nil
}

func (s *Store) CreatePoll(ctx context.Context, p *model.Poll) error {
	defer logger.DeferLogDuration("poll.Create", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO polls (`+pollCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ConversationID, p.CreatedBy, p.Question, p.Options, p.ExpiresAt, p.IsActive, p.CreatedAt,
	)
	return classify("pollRepo.Create", err)
}

func (s *Store) GetPoll(ctx context.Context, id string) (*model.Poll, error) {
	defer logger.DeferLogDuration("poll.Get", time.Now())()
	p := &model.Poll{}
	if err := scanPoll(s.pool.QueryRow(ctx, `SELECT `+pollCols+` FROM polls WHERE id = $1`, id), p); err != nil {
		return nil, classify("pollRepo.Get", err)
	}
	return p, nil
}

func (s *Store) ListPolls(ctx context.Context, conversationID string) ([]model.Poll, error) {
	defer logger.DeferLogDuration("poll.List", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT `+pollCols+` FROM polls WHERE conversation_id = $1 ORDER BY created_at DESC`, conversationID)
	if err != nil {
		return nil, classify("pollRepo.List query", err)
	}
	return collectPolls(rows, "pollRepo.List")
}

// UpsertVote проверяет срок опроса под FOR SHARE, затем перезаписывает голос пользователя.
func (s *Store) UpsertVote(ctx context.Context, v *model.PollVote) error {
	defer logger.DeferLogDuration("poll.Vote", time.Now())()
	const op = "pollRepo.Vote"
	return s.inTx(ctx, op, func(tx pgx.Tx) error {
		p := &model.Poll{}
		if err := scanPoll(tx.QueryRow(ctx, `SELECT `+pollCols+` FROM polls WHERE id = $1 FOR SHARE`, v.PollID), p); err != nil {
			return err
		}
		if p.Expired(v.VotedAt) {
			return apperr.E(apperr.PollExpired, op, "poll has expired")
		}
		if v.OptionIndex < 0 || v.OptionIndex >= len(p.Options) {
			return apperr.E(apperr.InvalidOption, op, "option index out of range")
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO poll_votes (poll_id, user_id, option_index, voted_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (poll_id, user_id) DO UPDATE SET option_index = EXCLUDED.option_index, voted_at = EXCLUDED.voted_at`,
			v.PollID, v.UserID, v.OptionIndex, v.VotedAt,
		)
		return err
	})
}

func (s *Store) PollCounts(ctx context.Context, pollID string, options int) ([]int, error) {
	defer logger.DeferLogDuration("poll.Counts", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT option_index, COUNT(*) FROM poll_votes WHERE poll_id = $1 GROUP BY option_index`, pollID)
	if err != nil {
		return nil, classify("pollRepo.Counts query", err)
	}
	defer rows.Close()
	counts := make([]int, options)
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, classify("pollRepo.Counts scan", err)
		}
		if idx >= 0 && idx < options {
			counts[idx] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("pollRepo.Counts rows", err)
	}
	return counts, nil
}

func (s *Store) CloseExpiredPolls(ctx context.Context, now time.Time) ([]model.Poll, error) {
	defer logger.DeferLogDuration("poll.CloseExpired", time.Now())()
	rows, err := s.pool.Query(ctx,
		`UPDATE polls SET is_active = FALSE
		 WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1
		 RETURNING `+pollCols, now)
	if err != nil {
		return nil, classify("pollRepo.CloseExpired query", err)
	}
	return collectPolls(rows, "pollRepo.CloseExpired")
}
