package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

func (c *Client) InsertMessage(ctx context.Context, m *model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[m.ConversationID]
	if !ok || !conv.Live() {
		return apperr.E(apperr.NotFound, "memory.InsertMessage", "conversation not found")
	}
	if _, ok := c.messages[m.ID]; ok {
		return apperr.E(apperr.Conflict, "memory.InsertMessage", "message already exists")
	}
	if m.ParentID != nil {
		parent, ok := c.messages[*m.ParentID]
		if !ok || parent.ConversationID != m.ConversationID {
			return apperr.E(apperr.NotFound, "memory.InsertMessage", "parent message not found")
		}
	}
	if m.ScheduleState == "" {
		m.ScheduleState = model.ScheduleNone
	}
	if m.ScheduleState != model.ScheduleScheduled {
		c.commitLocked(conv, m)
	}
	c.messages[m.ID] = cloneMessage(m)
	return nil
}

// commitLocked places m after the conversation's newest message and advances
// last_message_at. The author has read their own message, so their last_read_at
// moves up to it too.
func (c *Client) commitLocked(conv *model.Conversation, m *model.Message) {
	if last := conv.LastMessageAt; last != nil && !m.CreatedAt.After(*last) {
		m.CreatedAt = last.Add(time.Microsecond)
	}
	at := m.CreatedAt
	conv.LastMessageAt = &at
	if p, ok := c.participants[conv.ID][m.UserID]; ok && (p.LastReadAt == nil || at.After(*p.LastReadAt)) {
		read := at
		p.LastReadAt = &read
	}
}

func (c *Client) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.messages[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "memory.GetMessage", "message not found")
	}
	return cloneMessage(m), nil
}

func (c *Client) EditMessage(ctx context.Context, id, content string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[id]
	if !ok || m.IsDeleted {
		return apperr.E(apperr.NotFound, "memory.EditMessage", "message not found")
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &at
	return nil
}

func (c *Client) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[id]
	if !ok {
		return apperr.E(apperr.NotFound, "memory.SoftDeleteMessage", "message not found")
	}
	if m.IsDeleted {
		return nil
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	return nil
}

func (c *Client) ListMessages(ctx context.Context, q storage.MessageQuery) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Message, 0, q.Limit)
	for _, m := range c.messages {
		if m.ConversationID != q.ConversationID || !onTimeline(m) {
			continue
		}
		if q.Before != nil && !q.Before.Before(m.CreatedAt, m.ID) {
			continue
		}
		if q.After != nil && !q.After.After(m.CreatedAt, m.ID) {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	if q.After != nil {
		sortAsc(out)
	} else {
		sortDesc(out)
	}
	return page(out, q.Limit, 0), nil
}

func (c *Client) ListReplies(ctx context.Context, parentID, viewerID string) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Message, 0, 8)
	for _, m := range c.messages {
		if m.ParentID != nil && *m.ParentID == parentID && onTimeline(m) {
			out = append(out, *cloneMessage(m))
		}
	}
	sortAsc(out)
	return out, nil
}

func (c *Client) LatestMessage(ctx context.Context, conversationID, viewerID string) (*model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest *model.Message
	for _, m := range c.messages {
		if m.ConversationID != conversationID || !onTimeline(m) || m.IsDeleted {
			continue
		}
		if latest == nil || cursorOf(latest).After(m.CreatedAt, m.ID) {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneMessage(latest), nil
}

func (c *Client) SearchMessages(ctx context.Context, userID, query, conversationID string, limit int) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	needle := strings.ToLower(query)
	out := make([]model.Message, 0, limit)
	for _, m := range c.messages {
		if conversationID != "" && m.ConversationID != conversationID {
			continue
		}
		if _, ok := c.participants[m.ConversationID][userID]; !ok {
			continue
		}
		if !onTimeline(m) || m.IsDeleted || !strings.Contains(strings.ToLower(m.Content), needle) {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	sortDesc(out)
	return page(out, limit, 0), nil
}

func (c *Client) DueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	due := make([]*model.Message, 0, 8)
	for _, m := range c.messages {
		if m.ScheduleState == model.ScheduleScheduled && m.ScheduledAt != nil && !m.ScheduledAt.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(*due[j].ScheduledAt) })
	due = page(due, limit, 0)
	ids := make([]string, 0, len(due))
	for _, m := range due {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) PromoteScheduled(ctx context.Context, id string, now time.Time) (*model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "memory.PromoteScheduled", "message not found")
	}
	if m.ScheduleState != model.ScheduleScheduled {
		return nil, apperr.E(apperr.Conflict, "memory.PromoteScheduled", "scheduled message already claimed")
	}
	conv, ok := c.conversations[m.ConversationID]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "memory.PromoteScheduled", "conversation not found")
	}
	m.ScheduleState = model.SchedulePromoted
	m.CreatedAt = now
	c.commitLocked(conv, m)
	return cloneMessage(m), nil
}

func (c *Client) CancelScheduled(ctx context.Context, id string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[id]
	if !ok {
		return apperr.E(apperr.NotFound, "memory.CancelScheduled", "message not found")
	}
	switch m.ScheduleState {
	case model.ScheduleScheduled:
		m.ScheduleState = model.ScheduleCancelled
		m.IsDeleted = true
		m.DeletedAt = &at
		return nil
	case model.ScheduleCancelled:
		return nil
	case model.SchedulePromoted:
		return apperr.E(apperr.AlreadyPromoted, "memory.CancelScheduled", "message already promoted")
	}
	return apperr.E(apperr.Validation, "memory.CancelScheduled", "message is not scheduled")
}

func (c *Client) ListScheduled(ctx context.Context, conversationID, authorID string) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Message, 0, 4)
	for _, m := range c.messages {
		if m.ConversationID == conversationID && m.UserID == authorID && m.ScheduleState == model.ScheduleScheduled {
			out = append(out, *cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return out, nil
}

func (c *Client) NextScheduledAt(ctx context.Context) (*time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var next *time.Time
	for _, m := range c.messages {
		if m.ScheduleState != model.ScheduleScheduled || m.ScheduledAt == nil {
			continue
		}
		if next == nil || m.ScheduledAt.Before(*next) {
			t := *m.ScheduledAt
			next = &t
		}
	}
	return next, nil
}

// onTimeline reports whether m belongs to the conversation timeline (never scheduled or promoted).
func onTimeline(m *model.Message) bool {
	return m.ScheduleState == model.ScheduleNone || m.ScheduleState == model.SchedulePromoted || m.ScheduleState == ""
}

func cursorOf(m *model.Message) storage.Cursor {
	return storage.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

func sortAsc(ms []model.Message) {
	sort.Slice(ms, func(i, j int) bool { return cursorOf(&ms[i]).After(ms[j].CreatedAt, ms[j].ID) })
}

func sortDesc(ms []model.Message) {
	sort.Slice(ms, func(i, j int) bool { return cursorOf(&ms[j]).After(ms[i].CreatedAt, ms[i].ID) })
}

func cloneMessage(m *model.Message) *model.Message {
	out := *m
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Reactions = nil
	out.Files = nil
	return &out
}
