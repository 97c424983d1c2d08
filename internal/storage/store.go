package storage

import (
	"context"
	"time"

	"github.com/chatcore/internal/model"
)

// Cursor: позиция в ленте беседы, порядок (created_at, id).
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// After reports whether the position (t, id) sorts after c.
func (c Cursor) After(t time.Time, id string) bool {
	if t.Equal(c.CreatedAt) {
		return id > c.ID
	}
	return t.After(c.CreatedAt)
}

// Before reports whether the position (t, id) sorts strictly before c.
func (c Cursor) Before(t time.Time, id string) bool {
	if t.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return t.Before(c.CreatedAt)
}

// MessageQuery selects one page of a conversation timeline as seen by ViewerID.
// With Before set the page is newest-first; with After set it is oldest-first (catch-up read).
type MessageQuery struct {
	ConversationID string
	ViewerID       string
	Before         *Cursor
	After          *Cursor
	Limit          int
}

type ConversationStore interface {
	// CreateConversation inserts the conversation and its initial participants in one unit.
	CreateConversation(ctx context.Context, c *model.Conversation, members []model.Participant) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error)
	AddParticipant(ctx context.Context, p *model.Participant) error
	// RemoveParticipant and UpdateParticipant refuse to leave an active group without an admin.
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	UpdateParticipant(ctx context.Context, p *model.Participant) error
}

type MessageStore interface {
	// InsertMessage persists m. Unless m is scheduled, the conversation's last_message_at
	// is advanced in the same unit and m.CreatedAt is made strictly greater than it.
	InsertMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	EditMessage(ctx context.Context, id, content string, at time.Time) error
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) error
	ListMessages(ctx context.Context, q MessageQuery) ([]model.Message, error)
	ListReplies(ctx context.Context, parentID, viewerID string) ([]model.Message, error)
	LatestMessage(ctx context.Context, conversationID, viewerID string) (*model.Message, error)
	SearchMessages(ctx context.Context, userID, query, conversationID string, limit int) ([]model.Message, error)

	DueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error)
	// PromoteScheduled claims a scheduled message and commits it to the timeline.
	// A lost claim returns a Conflict error.
	PromoteScheduled(ctx context.Context, id string, now time.Time) (*model.Message, error)
	// CancelScheduled claims a scheduled message as cancelled. Fails with AlreadyPromoted
	// when promotion won; cancelling twice is a no-op.
	CancelScheduled(ctx context.Context, id string, at time.Time) error
	ListScheduled(ctx context.Context, conversationID, authorID string) ([]model.Message, error)
	NextScheduledAt(ctx context.Context) (*time.Time, error)
}

type LedgerStore interface {
	AddReaction(ctx context.Context, r *model.Reaction) (added bool, err error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (removed bool, err error)
	ListReactions(ctx context.Context, messageID string) ([]model.Reaction, error)
	ReactionGroups(ctx context.Context, messageIDs []string) (map[string][]model.ReactionGroup, error)
	// MarkRead upserts the receipt and advances the participant's last_read_at to
	// messageCreatedAt if that is newer. Returns the resulting last_read_at.
	MarkRead(ctx context.Context, rc *model.ReadReceipt, conversationID string, messageCreatedAt time.Time) (time.Time, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (time.Time, error)
	ListReadReceipts(ctx context.Context, messageID string) ([]model.ReadReceipt, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
}

type PinStore interface {
	Pin(ctx context.Context, p *model.PinnedMessage) error
	Unpin(ctx context.Context, conversationID, messageID string) error
	ListPinned(ctx context.Context, conversationID string) ([]model.PinnedMessage, error)
}

type PollStore interface {
	CreatePoll(ctx context.Context, p *model.Poll) error
	GetPoll(ctx context.Context, id string) (*model.Poll, error)
	ListPolls(ctx context.Context, conversationID string) ([]model.Poll, error)
	// UpsertVote records the vote unless the poll is closed at v.VotedAt (PollExpired).
	UpsertVote(ctx context.Context, v *model.PollVote) error
	PollCounts(ctx context.Context, pollID string, options int) ([]int, error)
	CloseExpiredPolls(ctx context.Context, now time.Time) ([]model.Poll, error)
}

type FileStore interface {
	InsertFile(ctx context.Context, f *model.File) error
	GetFile(ctx context.Context, id string) (*model.File, error)
	DeleteFile(ctx context.Context, id string) error
	ListFiles(ctx context.Context, messageID string) ([]model.File, error)
	FileUsageStats(ctx context.Context) (*model.FileUsageStats, error)
}

type StatsStore interface {
	ConversationStats(ctx context.Context) (*model.ConversationStats, error)
	UserActivity(ctx context.Context, userID string) (*model.UserActivity, error)
}

// Store: долговременное хранилище ядра.
// Реализации: repository.Store (PostgreSQL), memory.Client (тесты, -store=memory).
type Store interface {
	ConversationStore
	MessageStore
	LedgerStore
	PinStore
	PollStore
	FileStore
	StatsStore
	Close() error
}

type TypingKey struct {
	ConversationID string
	UserID         string
}

// TypingStore: эфемерные индикаторы набора с TTL.
// Реализации: redis.Client, memory.Typing (для -dev без Redis).
type TypingStore interface {
	// Start creates or refreshes the entry; started is true only on absent -> present.
	Start(ctx context.Context, key TypingKey, ttl time.Duration) (started bool, err error)
	// Stop removes the entry; wasActive reports whether it existed.
	Stop(ctx context.Context, key TypingKey) (wasActive bool, err error)
	// Expired lists entries whose TTL passed at now without removing them.
	Expired(ctx context.Context, now time.Time) ([]TypingKey, error)
	// Expire removes key only if it is still expired at now; expired is false when
	// Start refreshed it or Stop removed it in the meantime.
	Expire(ctx context.Context, key TypingKey, now time.Time) (expired bool, err error)
	Active(ctx context.Context, conversationID string) ([]string, error)
	Close() error
}
