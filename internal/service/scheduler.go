package service

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/metrics"
	"github.com/chatcore/internal/model"
)

// PromoteDue promotes one batch of due scheduled messages through the regular
// commit path. Each message is claimed in storage, so a promotion racing with a
// cancellation publishes at most once.
func (s *Service) PromoteDue(ctx context.Context) (int, error) {
	const op = "service.PromoteDue"
	ids, err := s.store.DueScheduled(ctx, s.clock(), s.opts.SchedulerBatch)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	n := 0
	for _, id := range ids {
		ok, err := s.promote(ctx, id)
		if err != nil {
			logger.Errorf("%s: message=%s: %v", op, id, err)
			continue
		}
		if ok {
			n++
		}
	}
	metrics.ScheduledPromoted.Add(float64(n))
	return n, nil
}

// promote returns false when another worker or a cancellation claimed the message
// first, or when the author may no longer post: such a message is claimed as cancelled.
func (s *Service) promote(ctx context.Context, id string) (bool, error) {
	const op = "service.promote"
	m, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return false, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	var members []model.Participant
	err = s.hub.Commit(ctx, m.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		if _, err := s.Authorize(ctx, m.ConversationID, m.UserID, CapPost); err != nil {
			if apperr.KindOf(err) != apperr.NotParticipant {
				return nil, err
			}
			logger.Infof("%s: message=%s author=%s can no longer post, cancelling", op, id, m.UserID)
			if err := s.store.CancelScheduled(ctx, id, s.clock()); err != nil {
				return nil, apperr.Wrap(apperr.StorageFailure, op, err)
			}
			return nil, apperr.E(apperr.Conflict, op, "author can no longer post")
		}
		var err error
		if members, err = s.store.ListParticipants(ctx, m.ConversationID); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		if m, err = s.store.PromoteScheduled(ctx, id, s.clock()); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{messageEmission(dispatch.EventMessageCreated, m, m.CreatedAt, members)}, nil
	})
	if k := apperr.KindOf(err); k == apperr.Conflict || k == apperr.AlreadyPromoted {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.notifyMessage(ctx, m, members)
	return true, nil
}

// CancelScheduledMessage claims a scheduled message as cancelled. It races with
// promotion on the same claim: AlreadyPromoted when promotion won.
func (s *Service) CancelScheduledMessage(ctx context.Context, messageID, requesterID string) error {
	const op = "service.CancelScheduledMessage"
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if _, err := s.Authorize(ctx, m.ConversationID, requesterID, CapRead); err != nil {
		return err
	}
	if m.UserID != requesterID {
		return apperr.E(apperr.Unauthorized, op, "only the author can cancel a scheduled message")
	}
	if m.ScheduleState == model.ScheduleNone {
		return apperr.E(apperr.Validation, op, "message is not scheduled")
	}
	if err := s.store.CancelScheduled(ctx, messageID, s.clock()); err != nil {
		return apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return nil
}

func (s *Service) ListScheduled(ctx context.Context, conversationID, authorID string) ([]model.Message, error) {
	const op = "service.ListScheduled"
	if _, err := s.Authorize(ctx, conversationID, authorID, CapRead); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListScheduled(ctx, conversationID, authorID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return msgs, nil
}

func (s *Service) wakeScheduler() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunScheduler promotes due messages every tick, sooner when the next due time is
// closer than a tick, and immediately after a wake signal.
func (s *Service) RunScheduler(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		if n, err := s.PromoteDue(ctx); err != nil {
			logger.Errorf("scheduler: %v", err)
		} else if n > 0 {
			logger.Infof("scheduler: promoted %d messages", n)
		}
		timer.Reset(s.nextWait(ctx))
	}
}

// minSchedulerWait не даёт циклу крутиться вхолостую на просроченном сообщении, которое не удаётся продвинуть.
const minSchedulerWait = 50 * time.Millisecond

func (s *Service) nextWait(ctx context.Context) time.Duration {
	wait := s.opts.SchedulerTick
	next, err := s.store.NextScheduledAt(ctx)
	if err != nil || next == nil {
		return wait
	}
	return max(min(wait, next.Sub(s.now())), minSchedulerWait)
}
