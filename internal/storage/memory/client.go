// Package memory: хранилище ядра в памяти процесса: тесты и запуск с -store=memory.
// Все методы безопасны для конкурентного вызова.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

type reactionKey struct{ messageID, userID, emoji string }

type receiptKey struct{ messageID, userID string }

type pinKey struct{ conversationID, messageID string }

var (
	_ storage.Store       = (*Client)(nil)
	_ storage.TypingStore = (*Typing)(nil)
)

type Client struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	participants  map[string]map[string]*model.Participant
	messages      map[string]*model.Message
	reactions     map[reactionKey]model.Reaction
	receipts      map[receiptKey]model.ReadReceipt
	pins          map[pinKey]model.PinnedMessage
	polls         map[string]*model.Poll
	votes         map[string]map[string]model.PollVote
	files         map[string]*model.File
}

func New() *Client {
	return &Client{
		conversations: make(map[string]*model.Conversation),
		participants:  make(map[string]map[string]*model.Participant),
		messages:      make(map[string]*model.Message),
		reactions:     make(map[reactionKey]model.Reaction),
		receipts:      make(map[receiptKey]model.ReadReceipt),
		pins:          make(map[pinKey]model.PinnedMessage),
		polls:         make(map[string]*model.Poll),
		votes:         make(map[string]map[string]model.PollVote),
		files:         make(map[string]*model.File),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) CreateConversation(ctx context.Context, conv *model.Conversation, members []model.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conversations[conv.ID]; ok {
		return apperr.E(apperr.Conflict, "memory.CreateConversation", "conversation already exists")
	}
	c.conversations[conv.ID] = cloneConversation(conv)
	byUser := make(map[string]*model.Participant, len(members))
	for i := range members {
		p := cloneParticipant(&members[i])
		p.ConversationID = conv.ID
		byUser[p.UserID] = p
	}
	c.participants[conv.ID] = byUser
	return nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.conversations[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "memory.GetConversation", "conversation not found")
	}
	return cloneConversation(conv), nil
}

func (c *Client) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Conversation, 0, limit)
	for id, conv := range c.conversations {
		if !conv.Live() {
			continue
		}
		if _, ok := c.participants[id][userID]; !ok {
			continue
		}
		out = append(out, *cloneConversation(conv))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := activity(&out[i]), activity(&out[j])
		if a.Equal(b) {
			return out[i].ID > out[j].ID
		}
		return a.After(b)
	})
	return page(out, limit, offset), nil
}

func (c *Client) GetParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.participants[conversationID][userID]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "memory.GetParticipant", "participant not found")
	}
	return cloneParticipant(p), nil
}

func (c *Client) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := c.participants[conversationID]
	out := make([]model.Participant, 0, len(members))
	for _, p := range members {
		out = append(out, *cloneParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (c *Client) AddParticipant(ctx context.Context, p *model.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conversations[p.ConversationID]; !ok {
		return apperr.E(apperr.NotFound, "memory.AddParticipant", "conversation not found")
	}
	members := c.participants[p.ConversationID]
	if members == nil {
		members = make(map[string]*model.Participant)
		c.participants[p.ConversationID] = members
	}
	if _, ok := members[p.UserID]; ok {
		return apperr.E(apperr.Conflict, "memory.AddParticipant", "already a participant")
	}
	members[p.UserID] = cloneParticipant(p)
	return nil
}

func (c *Client) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.participants[conversationID][userID]
	if !ok {
		return apperr.E(apperr.NotFound, "memory.RemoveParticipant", "participant not found")
	}
	if p.Role == model.RoleAdmin && c.lastAdminLocked(conversationID) {
		return apperr.E(apperr.Conflict, "memory.RemoveParticipant", "group must keep at least one admin")
	}
	delete(c.participants[conversationID], userID)
	return nil
}

func (c *Client) UpdateParticipant(ctx context.Context, p *model.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.participants[p.ConversationID][p.UserID]
	if !ok {
		return apperr.E(apperr.NotFound, "memory.UpdateParticipant", "participant not found")
	}
	if cur.Role == model.RoleAdmin && p.Role != model.RoleAdmin && c.lastAdminLocked(p.ConversationID) {
		return apperr.E(apperr.Conflict, "memory.UpdateParticipant", "group must keep at least one admin")
	}
	cur.Role = p.Role
	cur.Permissions = append([]string(nil), p.Permissions...)
	cur.IsMuted = p.IsMuted
	cur.IsBlocked = p.IsBlocked
	return nil
}

// lastAdminLocked reports whether the conversation is an active group with a single admin.
func (c *Client) lastAdminLocked(conversationID string) bool {
	conv, ok := c.conversations[conversationID]
	if !ok || conv.Type != model.ConversationTypeGroup || !conv.Live() {
		return false
	}
	admins := 0
	for _, p := range c.participants[conversationID] {
		if p.Role == model.RoleAdmin {
			admins++
		}
	}
	return admins <= 1
}

func (c *Client) ConversationStats(ctx context.Context) (*model.ConversationStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := &model.ConversationStats{TotalConversations: int64(len(c.conversations))}
	for _, m := range c.messages {
		if onTimeline(m) && !m.IsDeleted {
			st.TotalMessages++
		}
	}
	for _, members := range c.participants {
		st.TotalParticipants += int64(len(members))
	}
	return st, nil
}

func (c *Client) UserActivity(ctx context.Context, userID string) (*model.UserActivity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	act := &model.UserActivity{}
	for id, conv := range c.conversations {
		if _, ok := c.participants[id][userID]; ok && conv.Live() {
			act.ConversationsCount++
		}
	}
	for _, m := range c.messages {
		if m.UserID != userID || !onTimeline(m) || m.IsDeleted {
			continue
		}
		act.MessagesCount++
		if act.LastActivity == nil || m.CreatedAt.After(*act.LastActivity) {
			t := m.CreatedAt
			act.LastActivity = &t
		}
	}
	return act, nil
}

func activity(c *model.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	out := *c
	if c.Settings != nil {
		out.Settings = make(map[string]string, len(c.Settings))
		for k, v := range c.Settings {
			out.Settings[k] = v
		}
	}
	return &out
}

func cloneParticipant(p *model.Participant) *model.Participant {
	out := *p
	out.Permissions = append([]string(nil), p.Permissions...)
	return &out
}
