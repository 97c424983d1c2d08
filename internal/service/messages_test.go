package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/push"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func Test_CreateMessage_Delivers_In_Commit_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob")
	bob := f.connect(t, "bob")
	drain(bob)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if _, err := f.svc.CreateMessage(ctx, CreateMessageInput{ConversationID: conv, AuthorID: "alice", Content: "hi"}); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	created := ofType(drain(bob), dispatch.EventMessageCreated)
	req.Len(created, 50)
	for i := 1; i < len(created); i++ {
		req.Greater(created[i].Seq, created[i-1].Seq)
	}

	page, err := f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob", Limit: 100})
	req.NoError(err)
	timeline := lo.Reverse(lo.Map(page.Messages, func(m model.Message, _ int) string { return m.ID }))
	delivered := lo.Map(created, func(ev dispatch.Event, _ int) string { return ev.Payload.(model.Message).ID })
	req.Equal(timeline, delivered)
	for i := 1; i < len(page.Messages); i++ {
		req.True(page.Messages[i-1].CreatedAt.After(page.Messages[i].CreatedAt))
	}

	c, err := f.store.GetConversation(ctx, conv)
	req.NoError(err)
	req.Equal(page.Messages[0].CreatedAt, *c.LastMessageAt)
}

func Test_CreateMessage_Rejections_Publish_Nothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob", "mallory")
	other := f.group(t, "carol", "alice")
	foreign := f.post(t, other, "carol", "elsewhere")
	_, err := f.svc.SetBlocked(ctx, conv, "alice", "mallory", true)
	require.NoError(t, err)
	bob := f.connect(t, "bob")
	drain(bob)

	missing := "no-such-message"
	tests := []struct {
		name string
		in   CreateMessageInput
		want error
	}{
		{"outsider", CreateMessageInput{ConversationID: conv, AuthorID: "carol", Content: "x"}, apperr.ErrNotParticipant},
		{"blocked participant", CreateMessageInput{ConversationID: conv, AuthorID: "mallory", Content: "x"}, apperr.ErrNotParticipant},
		{"unknown conversation", CreateMessageInput{ConversationID: "nope", AuthorID: "alice", Content: "x"}, apperr.ErrNotParticipant},
		{"content too long", CreateMessageInput{ConversationID: conv, AuthorID: "alice", Content: strings.Repeat("я", MaxContentRunes+1)}, apperr.ErrValidation},
		{"empty text", CreateMessageInput{ConversationID: conv, AuthorID: "alice"}, apperr.ErrValidation},
		{"unknown type", CreateMessageInput{ConversationID: conv, AuthorID: "alice", Content: "x", Type: "sticker"}, apperr.ErrValidation},
		{"parent elsewhere", CreateMessageInput{ConversationID: conv, AuthorID: "alice", Content: "x", ParentID: &foreign.ID}, apperr.ErrValidation},
		{"missing parent", CreateMessageInput{ConversationID: conv, AuthorID: "alice", Content: "x", ParentID: &missing}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := f.svc.CreateMessage(ctx, tt.in)
			req.ErrorIs(err, tt.want)
			req.Empty(drain(bob))
		})
	}

	// ровно MaxContentRunes символов: допустимо
	_, err = f.svc.CreateMessage(ctx, CreateMessageInput{ConversationID: conv, AuthorID: "alice", Content: strings.Repeat("я", MaxContentRunes)})
	require.NoError(t, err)
}

func Test_UpdateMessage_And_DeleteMessage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob")
	bob := f.connect(t, "bob")
	drain(bob)

	m := f.post(t, conv, "alice", "helo")
	_, err := f.svc.UpdateMessage(ctx, m.ID, "bob", "hijack")
	req.ErrorIs(err, apperr.ErrUnauthorized)

	edited, err := f.svc.UpdateMessage(ctx, m.ID, "alice", "hello")
	req.NoError(err)
	req.True(edited.IsEdited)
	req.NotNil(edited.EditedAt)

	evs := drain(bob)
	req.Len(evs, 2)
	req.Equal(dispatch.EventMessageCreated, evs[0].Type)
	req.Equal(dispatch.EventMessageEdited, evs[1].Type)
	req.Equal("hello", evs[1].Payload.(model.Message).Content)

	req.ErrorIs(f.svc.DeleteMessage(ctx, m.ID, "bob"), apperr.ErrUnauthorized)

	reply := f.post(t, conv, "bob", "mine")
	before, err := f.store.GetConversation(ctx, conv)
	req.NoError(err)
	// админ удаляет чужое сообщение
	req.NoError(f.svc.DeleteMessage(ctx, reply.ID, "alice"))
	req.NoError(f.svc.DeleteMessage(ctx, reply.ID, "alice"))
	after, err := f.store.GetConversation(ctx, conv)
	req.NoError(err)
	req.Equal(*before.LastMessageAt, *after.LastMessageAt)

	deleted := ofType(drain(bob), dispatch.EventMessageDeleted)
	req.Len(deleted, 1)
	req.Empty(deleted[0].Payload.(model.Message).Content)

	got, err := f.svc.GetMessage(ctx, reply.ID, "alice")
	req.NoError(err)
	req.True(got.IsDeleted)
	req.Empty(got.Content)

	stored, err := f.store.GetMessage(ctx, reply.ID)
	req.NoError(err)
	req.Equal("mine", stored.Content)

	_, err = f.svc.UpdateMessage(ctx, reply.ID, "bob", "again")
	req.ErrorIs(err, apperr.ErrNotFound)
}

func Test_ListMessages_Cursor_Pages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob")
	var ids []string
	for _, c := range []string{"one", "two", "three", "four", "five"} {
		ids = append(ids, f.post(t, conv, "alice", c).ID)
	}

	first, err := f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob", Limit: 2})
	req.NoError(err)
	req.Equal([]string{ids[4], ids[3]}, lo.Map(first.Messages, func(m model.Message, _ int) string { return m.ID }))
	req.NotEmpty(first.NextCursor)

	second, err := f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob", Limit: 2, Before: first.NextCursor})
	req.NoError(err)
	req.Equal([]string{ids[2], ids[1]}, lo.Map(second.Messages, func(m model.Message, _ int) string { return m.ID }))

	third, err := f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob", Limit: 2, Before: second.NextCursor})
	req.NoError(err)
	req.Len(third.Messages, 1)
	req.Empty(third.NextCursor)

	// догоняющее чтение после resync: от курсора вперёд, старые первыми
	catchUp, err := f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob", Limit: 10, After: second.NextCursor})
	req.NoError(err)
	req.Equal(ids[2:], lo.Map(catchUp.Messages, func(m model.Message, _ int) string { return m.ID }))

	_, err = f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob", Before: "%%%"})
	req.ErrorIs(err, apperr.ErrValidation)

	_, err = f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "carol"})
	req.ErrorIs(err, apperr.ErrNotParticipant)
}

func Test_SearchMessages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob")
	other := f.group(t, "carol")
	f.post(t, conv, "alice", "Deploy at noon")
	f.post(t, conv, "bob", "lunch?")
	f.post(t, other, "carol", "deploy secrets")

	found, err := f.svc.SearchMessages(ctx, "bob", "DEPLOY", "", 0)
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("Deploy at noon", found[0].Content)

	_, err = f.svc.SearchMessages(ctx, "bob", " ", "", 0)
	req.ErrorIs(err, apperr.ErrValidation)

	_, err = f.svc.SearchMessages(ctx, "bob", "deploy", other, 0)
	req.ErrorIs(err, apperr.ErrNotParticipant)
}

func Test_Scenario_Reply_Reaction_Unread(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "A", "B", "C")

	m1 := f.post(t, conv, "A", "hello")
	m2, err := f.svc.CreateReply(ctx, m1.ID, CreateMessageInput{AuthorID: "B", Content: "hi A"})
	req.NoError(err)
	req.Equal(conv, m2.ConversationID)
	req.NoError(f.svc.AddReaction(ctx, m1.ID, "B", "👍"))
	_, err = f.svc.MarkRead(ctx, m2.ID, "A")
	req.NoError(err)

	replies, err := f.svc.GetReplies(ctx, m1.ID, "A")
	req.NoError(err)
	req.Len(replies, 1)
	req.Equal(m2.ID, replies[0].ID)

	unreadA, err := f.svc.UnreadCount(ctx, conv, "A")
	req.NoError(err)
	req.Equal(0, unreadA)

	// ответ B сдвинул его last_read_at за m1
	unreadB, err := f.svc.UnreadCount(ctx, conv, "B")
	req.NoError(err)
	req.Equal(0, unreadB)

	// C ничего не читал: считаются все сообщения
	unreadC, err := f.svc.UnreadCount(ctx, conv, "C")
	req.NoError(err)
	req.Equal(2, unreadC)

	got, err := f.svc.GetMessage(ctx, m1.ID, "A")
	req.NoError(err)
	req.Equal([]model.ReactionGroup{{Emoji: "👍", Count: 1, Users: []string{"B"}}}, got.Reactions)

	m3 := f.post(t, conv, "B", "anyone?")
	unreadA, err = f.svc.UnreadCount(ctx, conv, "A")
	req.NoError(err)
	req.Equal(1, unreadA)

	sum, err := f.svc.GetConversation(ctx, conv, "A")
	req.NoError(err)
	req.Equal(1, sum.UnreadCount)
	req.Equal(m3.ID, sum.LastMessage.ID)
}

func Test_Notifications_Skip_Author_Muted_And_Blocked(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, true)
	conv := f.group(t, "alice", "bob", "carol", "dave")
	_, err := f.svc.SetMuted(ctx, conv, "carol", true)
	req.NoError(err)
	_, err = f.svc.SetBlocked(ctx, conv, "alice", "dave", true)
	req.NoError(err)

	var got []string
	f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Do(func(_ context.Context, n push.Notification) {
		got = append(got, n.UserID)
		req.Equal(conv, n.ConversationID)
		req.Equal("ping", n.Body)
	}).Times(1)

	f.post(t, conv, "alice", "ping")
	req.Equal([]string{"bob"}, got)
}
