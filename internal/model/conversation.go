package model

import "time"

type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
	ConversationTypeChannel ConversationType = "channel"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationTypePrivate, ConversationTypeGroup, ConversationTypeChannel:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// CanModerate reports whether the role may pin, delete others' messages and block participants.
func (r Role) CanModerate() bool { return r == RoleAdmin || r == RoleModerator }

type Conversation struct {
	ID            string            `json:"id"`
	Type          ConversationType  `json:"type"`
	Name          string            `json:"name,omitempty"`
	Description   string            `json:"description,omitempty"`
	CreatedBy     string            `json:"created_by"`
	IsActive      bool              `json:"is_active"`
	Settings      map[string]string `json:"settings,omitempty"`
	LastMessageAt *time.Time        `json:"last_message_at,omitempty"`
	DeletedAt     *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Live reports whether the conversation accepts reads and writes.
func (c *Conversation) Live() bool { return c.IsActive && c.DeletedAt == nil }

type Participant struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           Role       `json:"role"`
	Permissions    []string   `json:"permissions,omitempty"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	IsMuted        bool       `json:"is_muted"`
	IsBlocked      bool       `json:"is_blocked"`
}

// ConversationSummary is a conversation as seen from one participant's list.
type ConversationSummary struct {
	Conversation Conversation  `json:"conversation"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
}
