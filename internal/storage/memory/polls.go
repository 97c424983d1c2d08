package memory

import (
	"context"
	"sort"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
)

func (c *Client) CreatePoll(ctx context.Context, p *model.Poll) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conversations[p.ConversationID]; !ok {
		return apperr.E(apperr.NotFound, "memory.CreatePoll", "conversation not found")
	}
	c.polls[p.ID] = clonePoll(p)
	return nil
}

func (c *Client) GetPoll(ctx context.Context, id string) (*model.Poll, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.polls[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "memory.GetPoll", "poll not found")
	}
	return clonePoll(p), nil
}

func (c *Client) ListPolls(ctx context.Context, conversationID string) ([]model.Poll, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Poll, 0, 4)
	for _, p := range c.polls {
		if p.ConversationID == conversationID {
			out = append(out, *clonePoll(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (c *Client) UpsertVote(ctx context.Context, v *model.PollVote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.polls[v.PollID]
	if !ok {
		return apperr.E(apperr.NotFound, "memory.UpsertVote", "poll not found")
	}
	if p.Expired(v.VotedAt) {
		return apperr.E(apperr.PollExpired, "memory.UpsertVote", "poll has expired")
	}
	if v.OptionIndex < 0 || v.OptionIndex >= len(p.Options) {
		return apperr.E(apperr.InvalidOption, "memory.UpsertVote", "option index out of range")
	}
	byUser := c.votes[v.PollID]
	if byUser == nil {
		byUser = make(map[string]model.PollVote)
		c.votes[v.PollID] = byUser
	}
	byUser[v.UserID] = *v
	return nil
}

func (c *Client) PollCounts(ctx context.Context, pollID string, options int) ([]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make([]int, options)
	for _, v := range c.votes[pollID] {
		if v.OptionIndex >= 0 && v.OptionIndex < options {
			counts[v.OptionIndex]++
		}
	}
	return counts, nil
}

func (c *Client) CloseExpiredPolls(ctx context.Context, now time.Time) ([]model.Poll, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var closed []model.Poll
	for _, p := range c.polls {
		if p.IsActive && p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
			p.IsActive = false
			closed = append(closed, *clonePoll(p))
		}
	}
	return closed, nil
}

func (c *Client) InsertFile(ctx context.Context, f *model.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.messages[f.MessageID]; !ok {
		return apperr.E(apperr.NotFound, "memory.InsertFile", "message not found")
	}
	cp := *f
	c.files[f.ID] = &cp
	return nil
}

func (c *Client) GetFile(ctx context.Context, id string) (*model.File, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.files[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "memory.GetFile", "file not found")
	}
	cp := *f
	return &cp, nil
}

func (c *Client) DeleteFile(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[id]; !ok {
		return apperr.E(apperr.NotFound, "memory.DeleteFile", "file not found")
	}
	delete(c.files, id)
	return nil
}

func (c *Client) ListFiles(ctx context.Context, messageID string) ([]model.File, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.File, 0, 2)
	for _, f := range c.files {
		if f.MessageID == messageID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *Client) FileUsageStats(ctx context.Context) (*model.FileUsageStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := &model.FileUsageStats{ByMimeType: make(map[string]int64)}
	for _, f := range c.files {
		st.TotalFiles++
		st.TotalSize += f.Size
		st.ByMimeType[f.MimeType]++
	}
	return st, nil
}

func clonePoll(p *model.Poll) *model.Poll {
	out := *p
	out.Options = append([]string(nil), p.Options...)
	return &out
}
