package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

func Test_Typing_Emits_Started_Once_And_Stopped_Always(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{TypingTTL: 3 * time.Second}, false)
	conv := f.group(t, "alice", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drain(alice)
	drain(bob)

	req.NoError(f.svc.StartTyping(ctx, conv, "alice"))
	req.NoError(f.svc.StartTyping(ctx, conv, "alice"))
	evs := drain(bob)
	req.Len(evs, 1)
	req.Equal(dispatch.EventTypingStarted, evs[0].Type)
	req.Equal(UserPayload{UserID: "alice"}, evs[0].Payload)
	// сам печатающий своё событие не получает
	req.Empty(drain(alice))

	typers, err := f.svc.ActiveTypers(ctx, conv, "bob")
	req.NoError(err)
	req.Equal([]string{"alice"}, typers)

	req.NoError(f.svc.StopTyping(ctx, conv, "alice"))
	req.NoError(f.svc.StopTyping(ctx, conv, "alice"))
	req.Len(ofType(drain(bob), dispatch.EventTypingStopped), 2)

	// истечение TTL
	req.NoError(f.svc.StartTyping(ctx, conv, "alice"))
	f.shiftClock(10 * time.Second)
	n, err := f.svc.SweepTyping(ctx)
	req.NoError(err)
	req.Equal(1, n)
	evs = drain(bob)
	req.Len(evs, 2)
	req.Equal(dispatch.EventTypingStarted, evs[0].Type)
	req.Equal(dispatch.EventTypingStopped, evs[1].Type)

	n, err = f.svc.SweepTyping(ctx)
	req.NoError(err)
	req.Zero(n)

	req.ErrorIs(f.svc.StartTyping(ctx, conv, "carol"), apperr.ErrNotParticipant)
}

// gatedTyping pauses the first Start after the store applied it, until release is closed.
type gatedTyping struct {
	storage.TypingStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTyping) Start(ctx context.Context, key storage.TypingKey, ttl time.Duration) (bool, error) {
	started, err := g.TypingStore.Start(ctx, key, ttl)
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return started, err
}

func Test_Typing_Concurrent_Start_Stop_Keeps_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{TypingTTL: time.Minute}, false)
	conv := f.group(t, "alice", "bob")
	gate := &gatedTyping{TypingStore: memory.NewTyping(), entered: make(chan struct{}), release: make(chan struct{})}
	f.svc.typing = gate
	bob := f.connect(t, "bob")
	drain(bob)

	errs := make(chan error, 2)
	go func() { errs <- f.svc.StartTyping(ctx, conv, "alice") }()
	<-gate.entered
	go func() { errs <- f.svc.StopTyping(ctx, conv, "alice") }()
	// даём StopTyping дойти до хранилища, пока StartTyping стоит после Start
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	req.NoError(<-errs)
	req.NoError(<-errs)

	evs := drain(bob)
	req.Len(evs, 2)
	req.Equal(dispatch.EventTypingStarted, evs[0].Type)
	req.Equal(dispatch.EventTypingStopped, evs[1].Type)
	req.Less(evs[0].Seq, evs[1].Seq)

	typers, err := f.svc.ActiveTypers(ctx, conv, "bob")
	req.NoError(err)
	req.Empty(typers)
}

func Test_SweepTyping_Skips_Refreshed_Indicator(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{TypingTTL: time.Second}, false)
	conv := f.group(t, "alice", "bob")
	bob := f.connect(t, "bob")
	drain(bob)

	req.NoError(f.svc.StartTyping(ctx, conv, "alice"))
	f.shiftClock(5 * time.Second)
	keys, err := f.svc.typing.Expired(ctx, f.svc.now())
	req.NoError(err)
	req.Len(keys, 1)

	// индикатор обновлён до того, как sweeper его забрал
	f.svc.typing = refreshOnExpired{TypingStore: f.svc.typing, ttl: time.Minute}
	n, err := f.svc.SweepTyping(ctx)
	req.NoError(err)
	req.Zero(n)
	req.Empty(ofType(drain(bob), dispatch.EventTypingStopped))
}

// refreshOnExpired restarts every listed indicator right after Expired returns it.
type refreshOnExpired struct {
	storage.TypingStore
	ttl time.Duration
}

func (r refreshOnExpired) Expired(ctx context.Context, now time.Time) ([]storage.TypingKey, error) {
	keys, err := r.TypingStore.Expired(ctx, now)
	for _, k := range keys {
		if _, err := r.TypingStore.Start(ctx, k, now.Sub(time.Now())+r.ttl); err != nil {
			return nil, err
		}
	}
	return keys, err
}

func Test_Presence_First_And_Last_Session(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, Options{}, false)
	conv := f.group(t, "alice", "bob")
	f.group(t, "carol")
	bob := f.connect(t, "bob")
	carol := f.connect(t, "carol")
	drain(bob)

	first := f.connect(t, "alice")
	second := f.connect(t, "alice")
	evs := drain(bob)
	req.Len(evs, 1)
	req.Equal(dispatch.EventUserOnline, evs[0].Type)
	req.Equal("alice", evs[0].EntityID)
	// carol не делит с alice ни одной беседы
	req.Empty(drain(carol))

	online, err := f.svc.OnlineParticipants(ctx, conv, "bob")
	req.NoError(err)
	req.ElementsMatch([]string{"alice", "bob"}, online)

	f.svc.Disconnect(ctx, first)
	req.Empty(drain(bob))
	f.svc.Disconnect(ctx, second)
	evs = drain(bob)
	req.Len(evs, 1)
	req.Equal(dispatch.EventUserOffline, evs[0].Type)
	req.False(f.hub.IsOnline("alice"))
}
