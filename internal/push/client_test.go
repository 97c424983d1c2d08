package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_Notify_Delivers_Asynchronously(t *testing.T) {
	req := require.New(t)
	got := make(chan Notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		_ = json.NewDecoder(r.Body).Decode(&n)
		got <- n
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 1)
		close(done)
	}()

	c.Notify(context.Background(), Notification{UserID: "bob", MessageID: "m1", Body: "hi"})
	select {
	case n := <-got:
		req.Equal("bob", n.UserID)
		req.Equal("m1", n.MessageID)
	case <-time.After(2 * time.Second):
		req.Fail("notification not delivered")
	}
	cancel()
	<-done
}

func TestClient_Disabled_Is_Noop(t *testing.T) {
	c := NewClient("", 0)
	c.Notify(context.Background(), Notification{UserID: "bob"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx, 2)
}

func TestClient_Full_Queue_Drops(t *testing.T) {
	req := require.New(t)
	c := NewClient("http://127.0.0.1:1", 1)
	c.Notify(context.Background(), Notification{UserID: "a"})
	c.Notify(context.Background(), Notification{UserID: "b"})
	req.Len(c.queue, 1)
}
