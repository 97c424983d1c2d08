package service

import (
	"context"
	"testing"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/model"
	"github.com/stretchr/testify/require"
)

func Test_CreateConversation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		in        CreateConversationInput
		want      error
		wantRoles map[string]model.Role
	}{
		{
			name:      "private pair",
			in:        CreateConversationInput{CreatorID: "alice", Type: model.ConversationTypePrivate, Members: []string{"bob", "alice"}},
			wantRoles: map[string]model.Role{"alice": model.RoleMember, "bob": model.RoleMember},
		},
		{
			name: "private with three",
			in:   CreateConversationInput{CreatorID: "alice", Type: model.ConversationTypePrivate, Members: []string{"bob", "carol"}},
			want: apperr.ErrValidation,
		},
		{
			name: "private alone",
			in:   CreateConversationInput{CreatorID: "alice", Type: model.ConversationTypePrivate},
			want: apperr.ErrValidation,
		},
		{
			name:      "group creator is admin",
			in:        CreateConversationInput{CreatorID: "alice", Type: model.ConversationTypeGroup, Name: "ops", Members: []string{"bob", "bob"}},
			wantRoles: map[string]model.Role{"alice": model.RoleAdmin, "bob": model.RoleMember},
		},
		{
			name: "unknown type",
			in:   CreateConversationInput{CreatorID: "alice", Type: "forum"},
			want: apperr.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t, Options{}, false)
			sum, err := f.svc.CreateConversation(ctx, tt.in)
			if tt.want != nil {
				req.ErrorIs(err, tt.want)
				return
			}
			req.NoError(err)
			roles := map[string]model.Role{}
			for _, p := range sum.Participants {
				roles[p.UserID] = p.Role
			}
			req.Equal(tt.wantRoles, roles)
		})
	}
}

func Test_Participants_Lifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob")
	bob := f.connect(t, "bob")
	drain(bob)

	_, err := f.svc.AddParticipant(ctx, conv, "bob", "carol", "")
	req.ErrorIs(err, apperr.ErrUnauthorized)

	p, err := f.svc.AddParticipant(ctx, conv, "alice", "carol", "")
	req.NoError(err)
	req.Equal(model.RoleMember, p.Role)
	_, err = f.svc.AddParticipant(ctx, conv, "alice", "carol", "")
	req.ErrorIs(err, apperr.ErrConflict)
	req.Len(ofType(drain(bob), dispatch.EventParticipantAdded), 1)

	// последний админ группы не может уйти
	req.ErrorIs(f.svc.RemoveParticipant(ctx, conv, "alice", "alice"), apperr.ErrConflict)
	_, err = f.svc.SetRole(ctx, conv, "alice", "alice", model.RoleMember)
	req.ErrorIs(err, apperr.ErrConflict)

	req.ErrorIs(f.svc.RemoveParticipant(ctx, conv, "bob", "carol"), apperr.ErrUnauthorized)
	req.NoError(f.svc.RemoveParticipant(ctx, conv, "carol", "carol"))
	req.NoError(f.svc.RemoveParticipant(ctx, conv, "alice", "bob"))
	removed := ofType(drain(bob), dispatch.EventParticipantRemoved)
	req.Len(removed, 2)

	_, err = f.svc.GetConversation(ctx, conv, "bob")
	req.ErrorIs(err, apperr.ErrNotParticipant)

	convs, err := f.svc.ListConversations(ctx, "alice", 0, 0)
	req.NoError(err)
	req.Len(convs, 1)
	req.Len(convs[0].Participants, 1)
}

func Test_Private_Conversation_Has_Fixed_Participants(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	sum, err := f.svc.CreateConversation(ctx, CreateConversationInput{CreatorID: "alice", Type: model.ConversationTypePrivate, Members: []string{"bob"}})
	req.NoError(err)
	conv := sum.Conversation.ID

	// в личной беседе нет админов, добавлять некому
	_, err = f.svc.AddParticipant(ctx, conv, "alice", "carol", "")
	req.ErrorIs(err, apperr.ErrUnauthorized)

	m := f.post(t, conv, "bob", "hey")
	req.ErrorIs(f.svc.DeleteMessage(ctx, m.ID, "alice"), apperr.ErrUnauthorized)
	req.NoError(f.svc.DeleteMessage(ctx, m.ID, "bob"))
}

func Test_SetMuted_And_SetBlocked(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob", "mod")
	_, err := f.svc.SetRole(ctx, conv, "alice", "mod", model.RoleModerator)
	req.NoError(err)
	alice := f.connect(t, "alice")
	drain(alice)

	p, err := f.svc.SetMuted(ctx, conv, "bob", true)
	req.NoError(err)
	req.True(p.IsMuted)
	// mute: личная настройка, остальным не рассылается
	req.Empty(drain(alice))

	_, err = f.svc.SetBlocked(ctx, conv, "bob", "mod", true)
	req.ErrorIs(err, apperr.ErrUnauthorized)
	_, err = f.svc.SetBlocked(ctx, conv, "mod", "alice", true)
	req.ErrorIs(err, apperr.ErrUnauthorized)
	_, err = f.svc.SetBlocked(ctx, conv, "mod", "mod", true)
	req.ErrorIs(err, apperr.ErrValidation)

	p, err = f.svc.SetBlocked(ctx, conv, "mod", "bob", true)
	req.NoError(err)
	req.True(p.IsBlocked)
	req.True(p.IsMuted)
	req.Len(ofType(drain(alice), dispatch.EventParticipantUpdated), 1)

	// заблокированный читает, но не пишет
	_, err = f.svc.ListMessages(ctx, ListMessagesInput{ConversationID: conv, ViewerID: "bob"})
	req.NoError(err)
	_, err = f.svc.CreateMessage(ctx, CreateMessageInput{ConversationID: conv, AuthorID: "bob", Content: "spam"})
	req.ErrorIs(err, apperr.ErrNotParticipant)

	_, err = f.svc.SetBlocked(ctx, conv, "mod", "bob", false)
	req.NoError(err)
	f.post(t, conv, "bob", "sorry")
}
