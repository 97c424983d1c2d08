package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatcore/internal/storage"
)

// Typing: индикаторы набора в памяти процесса (один экземпляр API, -dev без Redis).
type Typing struct {
	mu      sync.Mutex
	entries map[storage.TypingKey]time.Time
	now     func() time.Time
}

func NewTyping() *Typing {
	return &Typing{entries: make(map[storage.TypingKey]time.Time), now: time.Now}
}

func (t *Typing) Close() error { return nil }

func (t *Typing) Start(ctx context.Context, key storage.TypingKey, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	exp, ok := t.entries[key]
	t.entries[key] = now.Add(ttl)
	return !ok || !now.Before(exp), nil
}

func (t *Typing) Stop(ctx context.Context, key storage.TypingKey) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	delete(t.entries, key)
	return ok, nil
}

func (t *Typing) Expired(ctx context.Context, now time.Time) ([]storage.TypingKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []storage.TypingKey
	for k, exp := range t.entries {
		if !now.Before(exp) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConversationID == out[j].ConversationID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out, nil
}

func (t *Typing) Expire(ctx context.Context, key storage.TypingKey, now time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.entries[key]
	if !ok || now.Before(exp) {
		return false, nil
	}
	delete(t.entries, key)
	return true, nil
}

func (t *Typing) Active(ctx context.Context, conversationID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []string
	for k, exp := range t.entries {
		if k.ConversationID == conversationID && now.Before(exp) {
			out = append(out, k.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}
