package model

import "time"

type File struct {
	ID           string            `json:"id"`
	MessageID    string            `json:"message_id"`
	UserID       string            `json:"user_id"`
	Path         string            `json:"-"`
	Disk         string            `json:"disk"`
	OriginalName string            `json:"original_name"`
	MimeType     string            `json:"mime_type"`
	Size         int64             `json:"size"`
	IsProcessed  bool              `json:"is_processed"`
	Thumbnail    map[string]string `json:"thumbnail,omitempty"`
	URL          string            `json:"url,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type FileUsageStats struct {
	TotalFiles int64            `json:"total_files"`
	TotalSize  int64            `json:"total_size"`
	HumanSize  string           `json:"human_size"`
	ByMimeType map[string]int64 `json:"files_by_type"`
}

type ConversationStats struct {
	TotalConversations int64 `json:"total_conversations"`
	TotalMessages      int64 `json:"total_messages"`
	TotalParticipants  int64 `json:"total_participants"`
}

type UserActivity struct {
	ConversationsCount int64      `json:"conversations_count"`
	MessagesCount      int64      `json:"messages_count"`
	LastActivity       *time.Time `json:"last_activity,omitempty"`
}
