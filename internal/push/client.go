// Package push передаёт триггеры уведомлений во внешний push-сервис.
// Форматирование и доставка (Web Push, email): на стороне сервиса.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/metrics"
)

const defaultQueueSize = 1024

// Notification: триггер уведомления для одного получателя.
type Notification struct {
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data,omitempty"`
}

// Client ставит уведомления в очередь и отправляет их фоновыми воркерами.
// Если URL пустой: Notify no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
	queue      chan Notification
	wg         sync.WaitGroup
}

// NewClient создаёт клиент. baseURL пустой: пуши отключены.
func NewClient(baseURL string, queueSize int) *Client {
	if baseURL == "" {
		return &Client{}
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		queue: make(chan Notification, queueSize),
	}
}

// Notify не блокирует: при полной очереди уведомление теряется.
func (c *Client) Notify(ctx context.Context, n Notification) {
	if c.baseURL == "" {
		return
	}
	select {
	case c.queue <- n:
	default:
		metrics.PushQueueDropped.Inc()
		logger.Errorf("push queue full, dropping notification user=%s", n.UserID)
	}
}

// Run запускает workers отправителей и ждёт их завершения после отмены ctx.
// Оставшиеся в очереди уведомления дописываются до выхода.
func (c *Client) Run(ctx context.Context, workers int) {
	if c.baseURL == "" {
		<-ctx.Done()
		return
	}
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					c.drain()
					return
				case n := <-c.queue:
					c.send(context.Background(), n)
				}
			}
		}()
	}
	c.wg.Wait()
}

func (c *Client) drain() {
	for {
		select {
		case n := <-c.queue:
			c.send(context.Background(), n)
		default:
			return
		}
	}
}

func (c *Client) send(ctx context.Context, n Notification) {
	bodyBytes, err := json.Marshal(n)
	if err != nil {
		logger.Errorf("push notify marshal: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notify", bytes.NewReader(bodyBytes))
	if err != nil {
		logger.Errorf("push notify request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Errorf("push notify: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		logger.Errorf("push notify: %d", resp.StatusCode)
	}
}
