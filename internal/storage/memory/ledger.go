package memory

import (
	"context"
	"sort"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
)

func (c *Client) AddReaction(ctx context.Context, r *model.Reaction) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.messages[r.MessageID]; !ok {
		return false, apperr.E(apperr.NotFound, "memory.AddReaction", "message not found")
	}
	key := reactionKey{r.MessageID, r.UserID, r.Emoji}
	if _, ok := c.reactions[key]; ok {
		return false, nil
	}
	c.reactions[key] = *r
	return true, nil
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := reactionKey{messageID, userID, emoji}
	if _, ok := c.reactions[key]; !ok {
		return false, nil
	}
	delete(c.reactions, key)
	return true, nil
}

func (c *Client) ListReactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reactionsLocked(messageID), nil
}

func (c *Client) reactionsLocked(messageID string) []model.Reaction {
	out := make([]model.Reaction, 0, 4)
	for k, r := range c.reactions {
		if k.messageID == messageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}

func (c *Client) ReactionGroups(ctx context.Context, messageIDs []string) (map[string][]model.ReactionGroup, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]model.ReactionGroup, len(messageIDs))
	for _, id := range messageIDs {
		var groups []model.ReactionGroup
		index := make(map[string]int)
		for _, r := range c.reactionsLocked(id) {
			i, ok := index[r.Emoji]
			if !ok {
				i = len(groups)
				index[r.Emoji] = i
				groups = append(groups, model.ReactionGroup{Emoji: r.Emoji})
			}
			groups[i].Count++
			groups[i].Users = append(groups[i].Users, r.UserID)
		}
		if len(groups) > 0 {
			out[id] = groups
		}
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, rc *model.ReadReceipt, conversationID string, messageCreatedAt time.Time) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.participants[conversationID][rc.UserID]
	if !ok {
		return time.Time{}, apperr.E(apperr.NotFound, "memory.MarkRead", "participant not found")
	}
	c.receipts[receiptKey{rc.MessageID, rc.UserID}] = *rc
	if p.LastReadAt == nil || messageCreatedAt.After(*p.LastReadAt) {
		t := messageCreatedAt
		p.LastReadAt = &t
	}
	return *p.LastReadAt, nil
}

func (c *Client) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.participants[conversationID][userID]
	if !ok {
		return time.Time{}, apperr.E(apperr.NotFound, "memory.MarkConversationRead", "participant not found")
	}
	target := at
	if conv, ok := c.conversations[conversationID]; ok && conv.LastMessageAt != nil && conv.LastMessageAt.After(target) {
		target = *conv.LastMessageAt
	}
	if p.LastReadAt == nil || target.After(*p.LastReadAt) {
		p.LastReadAt = &target
	}
	return *p.LastReadAt, nil
}

func (c *Client) ListReadReceipts(ctx context.Context, messageID string) ([]model.ReadReceipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.ReadReceipt, 0, 4)
	for k, rc := range c.receipts {
		if k.messageID == messageID {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReadAt.Equal(out[j].ReadAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ReadAt.Before(out[j].ReadAt)
	})
	return out, nil
}

func (c *Client) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.participants[conversationID][userID]
	if !ok {
		return 0, apperr.E(apperr.NotFound, "memory.UnreadCount", "participant not found")
	}
	n := 0
	for _, m := range c.messages {
		if m.ConversationID != conversationID || !onTimeline(m) || m.IsDeleted {
			continue
		}
		if p.LastReadAt == nil || m.CreatedAt.After(*p.LastReadAt) {
			n++
		}
	}
	return n, nil
}

func (c *Client) Pin(ctx context.Context, p *model.PinnedMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.messages[p.MessageID]; !ok {
		return apperr.E(apperr.NotFound, "memory.Pin", "message not found")
	}
	key := pinKey{p.ConversationID, p.MessageID}
	if _, ok := c.pins[key]; ok {
		return apperr.E(apperr.AlreadyPinned, "memory.Pin", "message already pinned")
	}
	pin := *p
	pin.Message = nil
	c.pins[key] = pin
	return nil
}

func (c *Client) Unpin(ctx context.Context, conversationID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := pinKey{conversationID, messageID}
	if _, ok := c.pins[key]; !ok {
		return apperr.E(apperr.NotFound, "memory.Unpin", "message is not pinned")
	}
	delete(c.pins, key)
	return nil
}

func (c *Client) ListPinned(ctx context.Context, conversationID string) ([]model.PinnedMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.PinnedMessage, 0, 4)
	for k, p := range c.pins {
		if k.conversationID != conversationID {
			continue
		}
		if m, ok := c.messages[k.messageID]; ok {
			p.Message = cloneMessage(m)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PinnedAt.After(out[j].PinnedAt) })
	return out, nil
}
