package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain(s *Session) []Event {
	var out []Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func Test_Commit_Delivers_In_Commit_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	d := New(1024, 0)
	alice, first, err := d.Open("alice")
	req.NoError(err)
	req.True(first)
	bob, _, err := d.Open("bob")
	req.NoError(err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		order []string
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m%d", i)
			err := d.Commit(ctx, "c1", func(context.Context) ([]Emission, error) {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return []Emission{{Event: Event{Type: EventMessageCreated, EntityID: id}, Recipients: []string{"alice", "bob"}}}, nil
			})
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	for _, s := range []*Session{alice, bob} {
		got := drain(s)
		req.Len(got, 50)
		for i, ev := range got {
			req.Equal(order[i], ev.EntityID)
			req.Equal(uint64(i+1), ev.Seq)
			req.Equal("c1", ev.ConversationID)
		}
	}
}

func Test_Commit_Error_Publishes_Nothing(t *testing.T) {
	req := require.New(t)
	d := New(8, 0)
	s, _, err := d.Open("alice")
	req.NoError(err)

	boom := errors.New("boom")
	err = d.Commit(context.Background(), "c1", func(context.Context) ([]Emission, error) {
		return []Emission{{Event: Event{Type: EventMessageCreated}, Recipients: []string{"alice"}}}, boom
	})
	req.ErrorIs(err, boom)
	req.Empty(drain(s))
}

func Test_Overflow_Drops_Session_For_Resync(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	d := New(2, 0)
	slow, _, err := d.Open("bob")
	req.NoError(err)

	for i := 0; i < 3; i++ {
		d.Publish(ctx, "c1", Emission{Event: Event{Type: EventTypingStarted}, Recipients: []string{"bob"}})
	}
	select {
	case <-slow.Dropped():
	case <-time.After(time.Second):
		req.Fail("session was not dropped")
	}
	req.Len(drain(slow), 2)
	resync := slow.Resync()
	req.Equal(EventResyncRequired, resync.Type)
	req.Equal(map[string]uint64{"c1": 2}, resync.Payload.(ResyncPayload).LastSeq)

	// после сброса сессия больше ничего не получает
	d.Publish(ctx, "c1", Emission{Event: Event{Type: EventTypingStopped}, Recipients: []string{"bob"}})
	req.Empty(drain(slow))
}

func Test_Conversations_Do_Not_Block_Each_Other(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	d := New(8, 0)
	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = d.Commit(ctx, "slow", func(context.Context) ([]Emission, error) {
			close(inside)
			<-release
			return nil, nil
		})
	}()
	<-inside

	done := make(chan struct{})
	go func() {
		_ = d.Commit(ctx, "fast", func(context.Context) ([]Emission, error) { return nil, nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("commit on another conversation was blocked")
	}
	close(release)
}

func Test_Presence(t *testing.T) {
	req := require.New(t)
	d := New(8, 2)

	s1, first, err := d.Open("alice")
	req.NoError(err)
	req.True(first)
	s2, first, err := d.Open("alice")
	req.NoError(err)
	req.False(first)
	_, _, err = d.Open("bob")
	req.ErrorIs(err, ErrTooManySessions)

	req.True(d.IsOnline("alice"))
	req.Equal([]string{"alice"}, d.Online([]string{"alice", "bob"}))

	req.False(d.Close(s1))
	req.True(d.Close(s2))
	req.False(d.Close(s2))
	req.False(d.IsOnline("alice"))
}

func Test_Send_Skips_Unknown_Users(t *testing.T) {
	req := require.New(t)
	d := New(8, 0)
	s, _, err := d.Open("alice")
	req.NoError(err)

	d.Send([]string{"alice", "alice", "ghost"}, Event{Type: EventUserOnline, EntityID: "bob"})
	got := drain(s)
	req.Len(got, 1)
	req.Zero(got[0].Seq)
	req.False(got[0].At.IsZero())
}
