// Package ws: WebSocket-транспорт поверх сессий доставки (internal/dispatch).
// Хаб не знает о беседах: исходящие события берутся из очереди сессии,
// входящие кадры (typing, mark_read, ping) превращаются в вызовы сервиса.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/service"
	"github.com/gorilla/websocket"
)

// Core is the part of the service the socket needs.
type Core interface {
	Connect(ctx context.Context, userID string) (*dispatch.Session, error)
	Disconnect(ctx context.Context, sess *dispatch.Session)
	StartTyping(ctx context.Context, conversationID, userID string) error
	StopTyping(ctx context.Context, conversationID, userID string) error
	MarkRead(ctx context.Context, messageID, userID string) (*service.ReadPayload, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) (*service.ReadPayload, error)
}

type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	// CheckOrigin: как в CORS; nil разрешает любой Origin.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	return o
}

func (o Options) pingPeriod() time.Duration { return (o.PongWait * 9) / 10 }

// inboundTimeout ограничивает обработку одного входящего кадра.
const inboundTimeout = 5 * time.Second

type Hub struct {
	core     Core
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

func NewHub(core Core, opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		core:    core,
		opts:    opts,
		clients: make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return opts.CheckOrigin == nil || opts.CheckOrigin(r)
		},
	}
	return h
}

// Serve opens the dispatch session first and upgrades second, so by the time the client
// sees the handshake complete it is already subscribed.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	sess, err := h.core.Connect(r.Context(), userID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrTooManySessions) {
			status = http.StatusServiceUnavailable
		}
		logger.Errorf("ws connect user=%s: %v", userID, err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade user=%s: %v", userID, err)
		h.core.Disconnect(context.Background(), sess)
		return
	}

	c := newClient(h, conn, sess)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		h.core.Disconnect(context.Background(), sess)
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	// соединение живёт дольше запроса
	c.start(context.Background())
}

// detach runs once both pumps of c have exited.
func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()
	h.core.Disconnect(ctx, c.sess)
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for the pumps, or until ctx is done.
func (h *Hub) Shutdown(ctx context.Context) {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	h.closed = true
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	done := make(chan struct{})
	go func() {
		for _, c := range all {
			c.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Errorf("ws shutdown: %d connections still open", h.Len())
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, inboundTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case FramePing:
		c.reply(Reply{Type: FramePong, Ref: msg.Ref})
		return
	case FrameTypingStart:
		err = h.core.StartTyping(ctx, msg.ConversationID, c.userID)
	case FrameTypingStop:
		err = h.core.StopTyping(ctx, msg.ConversationID, c.userID)
	case FrameMarkRead:
		if msg.MessageID != "" {
			_, err = h.core.MarkRead(ctx, msg.MessageID, c.userID)
		} else {
			_, err = h.core.MarkConversationRead(ctx, msg.ConversationID, c.userID)
		}
	default:
		err = apperr.E(apperr.Validation, "ws.handleMessage", "unknown frame type")
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal || apperr.KindOf(err) == apperr.StorageFailure {
			logger.Errorf("ws %s user=%s: %v", msg.Type, c.userID, err)
		}
		c.reply(errorReply(msg.Ref, err))
	}
}
