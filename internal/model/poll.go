package model

import "time"

type Poll struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	CreatedBy      string     `json:"created_by"`
	Question       string     `json:"question"`
	Options        []string   `json:"options"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Expired reports whether voting is closed at now.
func (p *Poll) Expired(now time.Time) bool {
	if !p.IsActive {
		return true
	}
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

type PollVote struct {
	PollID      string    `json:"poll_id"`
	UserID      string    `json:"user_id"`
	OptionIndex int       `json:"option_index"`
	VotedAt     time.Time `json:"voted_at"`
}

type PollResults struct {
	Poll   Poll  `json:"poll"`
	Counts []int `json:"counts"`
	Total  int   `json:"total"`
}
