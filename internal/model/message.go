package model

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeVideo  MessageType = "video"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo, MessageTypeSystem:
		return true
	}
	return false
}

// ScheduleState is the claim marker for scheduled messages.
// Transitions: scheduled -> promoted | cancelled; none is terminal.
type ScheduleState string

const (
	ScheduleNone      ScheduleState = "none"
	ScheduleScheduled ScheduleState = "scheduled"
	SchedulePromoted  ScheduleState = "promoted"
	ScheduleCancelled ScheduleState = "cancelled"
)

type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	ParentID       *string         `json:"parent_id,omitempty"`
	Content        string          `json:"content"`
	Type           MessageType     `json:"type"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	IsEdited       bool            `json:"is_edited"`
	EditedAt       *time.Time      `json:"edited_at,omitempty"`
	IsDeleted      bool            `json:"is_deleted"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
	ScheduledAt    *time.Time      `json:"scheduled_at,omitempty"`
	ScheduleState  ScheduleState   `json:"schedule_state"`
	CreatedAt      time.Time       `json:"created_at"`
	Reactions      []ReactionGroup `json:"reactions,omitempty"`
	Files          []File          `json:"files,omitempty"`
	ReplyCount     int             `json:"reply_count,omitempty"`
}

// Pending reports whether the message is still waiting for promotion.
func (m *Message) Pending() bool { return m.ScheduleState == ScheduleScheduled }

// VisibleTo reports whether viewerID may see the message at all.
// Scheduled and cancelled messages are visible to their author only.
func (m *Message) VisibleTo(viewerID string) bool {
	switch m.ScheduleState {
	case ScheduleScheduled, ScheduleCancelled:
		return m.UserID == viewerID
	}
	return true
}

// Redacted returns a copy safe to hand to recipients of a deleted message.
func (m Message) Redacted() Message {
	if m.IsDeleted {
		m.Content = ""
		m.Metadata = nil
		m.Files = nil
	}
	return m
}

type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup is aggregated reaction info for display, derived from the ledger.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

type PinnedMessage struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	PinnedBy       string    `json:"pinned_by"`
	Note           string    `json:"note,omitempty"`
	PinnedAt       time.Time `json:"pinned_at"`
	Message        *Message  `json:"message,omitempty"`
}
