package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/model"
	"github.com/stretchr/testify/require"
)

func (f *fixture) schedule(t *testing.T, conv, author string, in time.Duration) *model.Message {
	t.Helper()
	at := f.svc.now().Add(in)
	m, err := f.svc.CreateMessage(context.Background(), CreateMessageInput{
		ConversationID: conv,
		AuthorID:       author,
		Content:        "later",
		ScheduledAt:    &at,
	})
	require.NoError(t, err)
	require.Equal(t, model.ScheduleScheduled, m.ScheduleState)
	return m
}

func Test_Scheduled_Message_Hidden_Until_Promoted(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob")
	bob := f.connect(t, "bob")
	drain(bob)

	m := f.schedule(t, conv, "alice", time.Hour)
	req.Empty(drain(bob))

	page, err := f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob"})
	req.NoError(err)
	req.Empty(page.Messages)
	_, err = f.svc.GetMessage(ctx, m.ID, "bob")
	req.ErrorIs(err, apperr.ErrNotFound)
	_, err = f.svc.GetMessage(ctx, m.ID, "alice")
	req.NoError(err)

	pending, err := f.svc.ListScheduled(ctx, conv, "alice")
	req.NoError(err)
	req.Len(pending, 1)

	n, err := f.svc.PromoteDue(ctx)
	req.NoError(err)
	req.Zero(n)

	f.shiftClock(2 * time.Hour)
	n, err = f.svc.PromoteDue(ctx)
	req.NoError(err)
	req.Equal(1, n)

	created := ofType(drain(bob), dispatch.EventMessageCreated)
	req.Len(created, 1)
	promoted := created[0].Payload.(model.Message)
	req.Equal(m.ID, promoted.ID)
	req.Equal(model.SchedulePromoted, promoted.ScheduleState)
	req.NotNil(promoted.ScheduledAt)
	req.True(promoted.CreatedAt.After(*m.ScheduledAt))

	page, err = f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob"})
	req.NoError(err)
	req.Len(page.Messages, 1)

	req.ErrorIs(f.svc.CancelScheduledMessage(ctx, m.ID, "alice"), apperr.ErrAlreadyPromoted)

	n, err = f.svc.PromoteDue(ctx)
	req.NoError(err)
	req.Zero(n)
}

func Test_PromoteDue_Cancels_When_Author_Cannot_Post(t *testing.T) {
	tests := []struct {
		name   string
		revoke func(f *fixture, conv string) error
	}{
		{name: "removed", revoke: func(f *fixture, conv string) error {
			return f.svc.RemoveParticipant(context.Background(), conv, "alice", "bob")
		}},
		{name: "blocked", revoke: func(f *fixture, conv string) error {
			_, err := f.svc.SetBlocked(context.Background(), conv, "alice", "bob", true)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			ctx := context.Background()
			f := newFixture(t, Options{}, false)
			conv := f.group(t, "alice", "bob")
			m := f.schedule(t, conv, "bob", time.Minute)
			req.NoError(tt.revoke(f, conv))
			alice := f.connect(t, "alice")
			drain(alice)

			f.shiftClock(time.Hour)
			n, err := f.svc.PromoteDue(ctx)
			req.NoError(err)
			req.Zero(n)
			req.Empty(ofType(drain(alice), dispatch.EventMessageCreated))

			stored, err := f.store.GetMessage(ctx, m.ID)
			req.NoError(err)
			req.Equal(model.ScheduleCancelled, stored.ScheduleState)

			page, err := f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "alice"})
			req.NoError(err)
			req.Empty(page.Messages)

			// отменённое больше не подхватывается
			n, err = f.svc.PromoteDue(ctx)
			req.NoError(err)
			req.Zero(n)
		})
	}
}

func Test_CancelScheduledMessage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob")
	m := f.schedule(t, conv, "alice", time.Hour)
	live := f.post(t, conv, "alice", "now")

	req.ErrorIs(f.svc.CancelScheduledMessage(ctx, m.ID, "bob"), apperr.ErrUnauthorized)
	req.ErrorIs(f.svc.CancelScheduledMessage(ctx, live.ID, "alice"), apperr.ErrValidation)
	req.NoError(f.svc.CancelScheduledMessage(ctx, m.ID, "alice"))
	req.NoError(f.svc.CancelScheduledMessage(ctx, m.ID, "alice"))

	f.shiftClock(2 * time.Hour)
	n, err := f.svc.PromoteDue(ctx)
	req.NoError(err)
	req.Zero(n)

	pending, err := f.svc.ListScheduled(ctx, conv, "alice")
	req.NoError(err)
	req.Empty(pending)
}

func Test_Promote_And_Cancel_Race_Exactly_One_Wins(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob")
	bob := f.connect(t, "bob")

	promotedTotal := 0
	for i := 0; i < 25; i++ {
		f.shiftClock(0)
		m := f.schedule(t, conv, "alice", time.Minute)
		f.shiftClock(time.Hour)
		drain(bob)

		var (
			wg        sync.WaitGroup
			promoted  int
			cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			promoted, _ = f.svc.PromoteDue(ctx)
		}()
		go func() {
			defer wg.Done()
			cancelErr = f.svc.CancelScheduledMessage(ctx, m.ID, "alice")
		}()
		wg.Wait()

		delivered := len(ofType(drain(bob), dispatch.EventMessageCreated))
		if promoted == 1 {
			req.ErrorIs(cancelErr, apperr.ErrAlreadyPromoted)
			req.Equal(1, delivered)
			promotedTotal++
		} else {
			req.Zero(promoted)
			req.NoError(cancelErr)
			req.Zero(delivered)
		}
	}

	page, err := f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob", Limit: 100})
	req.NoError(err)
	req.Len(page.Messages, promotedTotal)
}
