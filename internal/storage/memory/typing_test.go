package memory

import (
	"context"
	"testing"
	"time"

	"github.com/chatcore/internal/storage"
	"github.com/stretchr/testify/require"
)

func Test_Typing_Transitions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := t0
	ty := NewTyping()
	ty.now = func() time.Time { return now }
	key := storage.TypingKey{ConversationID: "c1", UserID: "bob"}

	started, err := ty.Start(ctx, key, 3*time.Second)
	req.NoError(err)
	req.True(started)

	now = now.Add(2 * time.Second)
	started, err = ty.Start(ctx, key, 3*time.Second)
	req.NoError(err)
	req.False(started)

	// продлённый TTL ещё не истёк
	expired, err := ty.Expired(ctx, t0.Add(4*time.Second))
	req.NoError(err)
	req.Empty(expired)

	active, err := ty.Active(ctx, "c1")
	req.NoError(err)
	req.Equal([]string{"bob"}, active)

	expired, err = ty.Expired(ctx, t0.Add(5*time.Second))
	req.NoError(err)
	req.Equal([]storage.TypingKey{key}, expired)

	// Expired только перечисляет, забирает Expire
	ok, err := ty.Expire(ctx, key, t0.Add(4*time.Second))
	req.NoError(err)
	req.False(ok)
	ok, err = ty.Expire(ctx, key, t0.Add(5*time.Second))
	req.NoError(err)
	req.True(ok)
	ok, err = ty.Expire(ctx, key, t0.Add(5*time.Second))
	req.NoError(err)
	req.False(ok)

	wasActive, err := ty.Stop(ctx, key)
	req.NoError(err)
	req.False(wasActive)
}

func Test_Typing_Expire_After_Refresh(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := t0
	ty := NewTyping()
	ty.now = func() time.Time { return now }
	key := storage.TypingKey{ConversationID: "c1", UserID: "bob"}

	_, err := ty.Start(ctx, key, time.Second)
	req.NoError(err)
	expired, err := ty.Expired(ctx, t0.Add(2*time.Second))
	req.NoError(err)
	req.Len(expired, 1)

	// между перечислением и Expire пользователь снова начал печатать
	now = t0.Add(2 * time.Second)
	started, err := ty.Start(ctx, key, time.Second)
	req.NoError(err)
	req.True(started)
	ok, err := ty.Expire(ctx, key, t0.Add(2*time.Second))
	req.NoError(err)
	req.False(ok)

	active, err := ty.Active(ctx, "c1")
	req.NoError(err)
	req.Equal([]string{"bob"}, active)
}
