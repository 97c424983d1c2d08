package service

import (
	"context"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/metrics"
	"github.com/chatcore/internal/model"
	"github.com/samber/lo"
)

func (s *Service) CreatePoll(ctx context.Context, in CreatePollInput) (*model.PollResults, error) {
	const op = "service.CreatePoll"
	in.Question = strings.TrimSpace(in.Question)
	in.Options = lo.Map(in.Options, func(o string, _ int) string { return strings.TrimSpace(o) })
	if err := s.check(op, in); err != nil {
		return nil, err
	}
	now := s.clock()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, apperr.E(apperr.Validation, op, "expires_at must be in the future")
	}
	if _, err := s.Authorize(ctx, in.ConversationID, in.CreatorID, CapPost); err != nil {
		return nil, err
	}
	p := &model.Poll{
		ID:             newID(),
		ConversationID: in.ConversationID,
		CreatedBy:      in.CreatorID,
		Question:       in.Question,
		Options:        in.Options,
		IsActive:       true,
		CreatedAt:      now,
	}
	if in.ExpiresAt != nil {
		at := in.ExpiresAt.UTC().Truncate(time.Microsecond)
		p.ExpiresAt = &at
	}
	res := &model.PollResults{Poll: *p, Counts: make([]int, len(p.Options))}
	err := s.hub.Commit(ctx, p.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		if err := s.store.CreatePoll(ctx, p); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		members, err := s.store.ListParticipants(ctx, p.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{emit(dispatch.EventPollCreated, p.ID, now, res, userIDs(members))}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// VotePoll records or replaces the user's single vote; the latest vote wins.
func (s *Service) VotePoll(ctx context.Context, pollID, userID string, option int) (*model.PollResults, error) {
	const op = "service.VotePoll"
	defer logger.DeferLogDuration(op, time.Now())()
	p, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if _, err := s.Authorize(ctx, p.ConversationID, userID, CapPost); err != nil {
		return nil, err
	}
	now := s.clock()
	if p.Expired(now) {
		return nil, apperr.E(apperr.PollExpired, op, "poll has expired")
	}
	if option < 0 || option >= len(p.Options) {
		return nil, apperr.E(apperr.InvalidOption, op, "option index out of range")
	}
	v := &model.PollVote{PollID: p.ID, UserID: userID, OptionIndex: option, VotedAt: now}
	var res *model.PollResults
	err = s.hub.Commit(ctx, p.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		if err := s.store.UpsertVote(ctx, v); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		var err error
		if res, err = s.results(ctx, op, p); err != nil {
			return nil, err
		}
		members, err := s.store.ListParticipants(ctx, p.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{emit(dispatch.EventPollUpdated, p.ID, now, res, userIDs(members))}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) GetPollResults(ctx context.Context, pollID, viewerID string) (*model.PollResults, error) {
	const op = "service.GetPollResults"
	p, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if _, err := s.Authorize(ctx, p.ConversationID, viewerID, CapRead); err != nil {
		return nil, err
	}
	return s.results(ctx, op, p)
}

func (s *Service) ListPolls(ctx context.Context, conversationID, viewerID string) ([]model.Poll, error) {
	const op = "service.ListPolls"
	if _, err := s.Authorize(ctx, conversationID, viewerID, CapRead); err != nil {
		return nil, err
	}
	polls, err := s.store.ListPolls(ctx, conversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return polls, nil
}

func (s *Service) results(ctx context.Context, op string, p *model.Poll) (*model.PollResults, error) {
	counts, err := s.store.PollCounts(ctx, p.ID, len(p.Options))
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return &model.PollResults{Poll: *p, Counts: counts, Total: lo.Sum(counts)}, nil
}

// ClosePolls deactivates expired polls and announces their final results.
func (s *Service) ClosePolls(ctx context.Context) (int, error) {
	const op = "service.ClosePolls"
	defer logger.DeferLogDuration(op, time.Now())()
	closed, err := s.store.CloseExpiredPolls(ctx, s.clock())
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	for i := range closed {
		p := &closed[i]
		res, err := s.results(ctx, op, p)
		if err != nil {
			logger.Errorf("%s: poll=%s: %v", op, p.ID, err)
			continue
		}
		members, err := s.store.ListParticipants(ctx, p.ConversationID)
		if err != nil {
			logger.Errorf("%s: poll=%s: %v", op, p.ID, err)
			continue
		}
		s.hub.Publish(ctx, p.ConversationID, emit(dispatch.EventPollClosed, p.ID, s.clock(), res, userIDs(members)))
	}
	metrics.PollsClosed.Add(float64(len(closed)))
	return len(closed), nil
}

// RunPollCloser runs ClosePolls on the cron schedule until ctx is cancelled.
func (s *Service) RunPollCloser(ctx context.Context) {
	expr := s.opts.PollCloserCron
	if !gronx.IsValid(expr) {
		logger.Errorf("poll closer: invalid cron %q, using every minute", expr)
		expr = "* * * * *"
	}
	for {
		next, err := gronx.NextTickAfter(expr, time.Now().UTC(), false)
		wait := time.Until(next)
		if err != nil {
			logger.Errorf("poll closer: next tick: %v", err)
			wait = 30 * time.Second
		}
		select {
		case <-ctx.Done():
			logger.Info("poll closer stopped")
			return
		case <-time.After(wait):
		}
		if err == nil {
			if n, err := s.ClosePolls(ctx); err != nil {
				logger.Errorf("poll closer: %v", err)
			} else if n > 0 {
				logger.Infof("poll closer: closed %d polls", n)
			}
		}
	}
}
