package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/logger"
	"github.com/gorilla/websocket"
)

const replyBufSize = 16

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one WebSocket connection bound to one dispatch session.
// Lifecycle: newClient -> start -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	sess    *dispatch.Session
	replies chan Reply
	userID  string

	// cancel cancels the context passed to start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func newClient(hub *Hub, conn *websocket.Conn, sess *dispatch.Session) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		sess:    sess,
		replies: make(chan Reply, replyBufSize),
		userID:  sess.UserID,
	}
}

func (c *Client) start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
	go func() {
		c.wg.Wait()
		c.hub.detach(c)
	}()
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// reply never blocks: a client that does not read its replies loses them.
func (c *Client) reply(r Reply) {
	select {
	case c.replies <- r:
	default:
		logger.Errorf("ws reply buffer full user=%s session=%s type=%s", c.userID, c.sess.ID, r.Type)
	}
}

// readPump reads inbound frames. Exits on read error (triggered by conn.Close from Close or writePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.Close()

	opts := c.hub.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}
		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(Reply{Type: FrameError, Payload: ErrorPayload{Code: "validation_error", Message: "malformed frame"}})
			continue
		}
		c.hub.handleMessage(ctx, c, msg)
	}
}

// writePump forwards the session feed and replies to the socket.
// When the session is dropped it flushes what was queued, sends resync_required and closes.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.hub.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.writeClose(websocket.CloseNormalClosure, "")
			return
		case ev := <-c.sess.Events():
			if !c.write(ev) {
				return
			}
		case r := <-c.replies:
			if !c.write(r) {
				return
			}
		case <-c.sess.Dropped():
		flush:
			for {
				select {
				case ev := <-c.sess.Events():
					if !c.write(ev) {
						return
					}
				default:
					break flush
				}
			}
			if c.write(c.sess.Resync()) {
				c.writeClose(websocket.ClosePolicyViolation, "resync required")
			}
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(v any) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
		logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
		return false
	}
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		logger.Errorf("ws marshal error user=%s: %v", c.userID, err)
		return true
	}
	// json.Encoder appends '\n'; trim it for WebSocket text messages.
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

func (c *Client) writeClose(code int, text string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text)); err != nil && err != websocket.ErrCloseSent {
		logger.Debugf("ws close message user=%s: %v", c.userID, err)
	}
}
