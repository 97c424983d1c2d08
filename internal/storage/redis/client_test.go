package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chatcore/internal/storage"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to REDIS_TEST_URL (e.g. redis://localhost:6379/15) and empties that DB.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" || testing.Short() {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx := context.Background()
	c, err := New(ctx, url)
	require.NoError(t, err)
	require.NoError(t, c.FlushDB(ctx))
	t.Cleanup(func() {
		_ = c.FlushDB(context.Background())
		_ = c.Close()
	})
	return c
}

func Test_Typing_Start_Stop(t *testing.T) {
	req := require.New(t)
	c := newTestClient(t)
	ctx := context.Background()
	key := storage.TypingKey{ConversationID: "c1", UserID: "bob"}

	started, err := c.Start(ctx, key, time.Minute)
	req.NoError(err)
	req.True(started)
	started, err = c.Start(ctx, key, time.Minute)
	req.NoError(err)
	req.False(started)

	active, err := c.Active(ctx, "c1")
	req.NoError(err)
	req.Equal([]string{"bob"}, active)

	wasActive, err := c.Stop(ctx, key)
	req.NoError(err)
	req.True(wasActive)
	wasActive, err = c.Stop(ctx, key)
	req.NoError(err)
	req.False(wasActive)

	active, err = c.Active(ctx, "c1")
	req.NoError(err)
	req.Empty(active)
}

func Test_Typing_Expired_And_Expire(t *testing.T) {
	req := require.New(t)
	c := newTestClient(t)
	ctx := context.Background()
	key := storage.TypingKey{ConversationID: "c1", UserID: "bob"}

	_, err := c.Start(ctx, key, 50*time.Millisecond)
	req.NoError(err)
	keys, err := c.Expired(ctx, time.Now())
	req.NoError(err)
	req.Empty(keys)

	time.Sleep(100 * time.Millisecond)
	now := time.Now()
	keys, err = c.Expired(ctx, now)
	req.NoError(err)
	req.Equal([]storage.TypingKey{key}, keys)

	expired, err := c.Expire(ctx, key, now)
	req.NoError(err)
	req.True(expired)
	expired, err = c.Expire(ctx, key, now)
	req.NoError(err)
	req.False(expired)

	keys, err = c.Expired(ctx, now)
	req.NoError(err)
	req.Empty(keys)
	active, err := c.Active(ctx, "c1")
	req.NoError(err)
	req.Empty(active)
}

func Test_Typing_Expire_Keeps_Refreshed_Entry(t *testing.T) {
	req := require.New(t)
	c := newTestClient(t)
	ctx := context.Background()
	key := storage.TypingKey{ConversationID: "c1", UserID: "bob"}

	_, err := c.Start(ctx, key, time.Minute)
	req.NoError(err)
	// sweeper со спешащими часами видит запись просроченной, но ключ ещё жив
	future := time.Now().Add(2 * time.Minute)
	keys, err := c.Expired(ctx, future)
	req.NoError(err)
	req.Len(keys, 1)

	expired, err := c.Expire(ctx, key, time.Now())
	req.NoError(err)
	req.False(expired)

	// срок в deadlines перенесён по оставшемуся TTL
	keys, err = c.Expired(ctx, time.Now())
	req.NoError(err)
	req.Empty(keys)
	active, err := c.Active(ctx, "c1")
	req.NoError(err)
	req.Equal([]string{"bob"}, active)
}
