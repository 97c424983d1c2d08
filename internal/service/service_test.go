package service

import (
	"context"
	"testing"
	"time"

	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/mocks"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	svc      *Service
	store    *memory.Client
	hub      *dispatch.Dispatcher
	notifier *mocks.MockNotifier
	blobs    *mocks.MockBlobStore
}

// newFixture builds the core over the in-memory store. Notifications are allowed
// freely unless strictNotify is set.
func newFixture(t *testing.T, opts Options, strictNotify bool) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		store:    memory.New(),
		hub:      dispatch.New(512, 100),
		notifier: mocks.NewMockNotifier(ctrl),
		blobs:    mocks.NewMockBlobStore(ctrl),
	}
	if !strictNotify {
		f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).AnyTimes()
	}
	f.svc = New(Deps{
		Store:    f.store,
		Typing:   memory.NewTyping(),
		Dispatch: f.hub,
		Notifier: f.notifier,
		Blobs:    f.blobs,
	}, opts)
	return f
}

// group creates a group conversation with creator as admin and the rest as members.
func (f *fixture) group(t *testing.T, creator string, members ...string) string {
	t.Helper()
	sum, err := f.svc.CreateConversation(context.Background(), CreateConversationInput{
		CreatorID: creator,
		Type:      model.ConversationTypeGroup,
		Name:      "team",
		Members:   members,
	})
	require.NoError(t, err)
	return sum.Conversation.ID
}

func (f *fixture) post(t *testing.T, conv, author, content string) *model.Message {
	t.Helper()
	m, err := f.svc.CreateMessage(context.Background(), CreateMessageInput{
		ConversationID: conv,
		AuthorID:       author,
		Content:        content,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) connect(t *testing.T, user string) *dispatch.Session {
	t.Helper()
	s, err := f.svc.Connect(context.Background(), user)
	require.NoError(t, err)
	return s
}

// drain returns the events queued on the session so far. Commit enqueues before
// returning, so no waiting is needed after a synchronous call.
func drain(s *dispatch.Session) []dispatch.Event {
	var out []dispatch.Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(evs []dispatch.Event, typ dispatch.EventType) []dispatch.Event {
	var out []dispatch.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// shiftClock moves the service clock by d from the real time.
func (f *fixture) shiftClock(d time.Duration) {
	f.svc.now = func() time.Time { return time.Now().UTC().Add(d) }
}
