package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
	"github.com/samber/lo"
)

// MessagePage is one page of a timeline. NextCursor is empty on the last page.
type MessagePage struct {
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// CreateMessage validates, persists and fans out a message. A ScheduledAt in the
// future stores the message hidden and leaves fan-out to the scheduler.
func (s *Service) CreateMessage(ctx context.Context, in CreateMessageInput) (*model.Message, error) {
	const op = "service.CreateMessage"
	defer logger.DeferLogDuration(op, time.Now())()
	if in.Type == "" {
		in.Type = model.MessageTypeText
	}
	if err := s.check(op, in); err != nil {
		return nil, err
	}
	if _, err := s.Authorize(ctx, in.ConversationID, in.AuthorID, CapPost); err != nil {
		return nil, err
	}
	if in.ParentID != nil {
		parent, err := s.store.GetMessage(ctx, *in.ParentID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		if parent.ConversationID != in.ConversationID {
			return nil, apperr.E(apperr.Validation, op, "parent message belongs to another conversation")
		}
		if !parent.VisibleTo(in.AuthorID) || parent.IsDeleted {
			return nil, apperr.E(apperr.NotFound, op, "parent message not found")
		}
	}
	content, err := s.policy.Apply(in.Content)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, op, err)
	}

	now := s.clock()
	m := &model.Message{
		ID:             newID(),
		ConversationID: in.ConversationID,
		UserID:         in.AuthorID,
		ParentID:       in.ParentID,
		Content:        content,
		Type:           in.Type,
		Metadata:       in.Metadata,
		ScheduleState:  model.ScheduleNone,
		CreatedAt:      now,
	}
	if in.ScheduledAt != nil && in.ScheduledAt.After(now) {
		at := in.ScheduledAt.UTC().Truncate(time.Microsecond)
		m.ScheduledAt = &at
		m.ScheduleState = model.ScheduleScheduled
		if err := s.store.InsertMessage(ctx, m); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		s.wakeScheduler()
		return m, nil
	}

	var members []model.Participant
	err = s.hub.Commit(ctx, m.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		var err error
		if members, err = s.store.ListParticipants(ctx, m.ConversationID); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		if err := s.store.InsertMessage(ctx, m); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{messageEmission(dispatch.EventMessageCreated, m, m.CreatedAt, members)}, nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyMessage(ctx, m, members)
	return m, nil
}

// UpdateMessage replaces the content of the editor's own message.
func (s *Service) UpdateMessage(ctx context.Context, messageID, editorID, content string) (*model.Message, error) {
	const op = "service.UpdateMessage"
	defer logger.DeferLogDuration(op, time.Now())()
	if err := s.check(op, editInput{Content: content}); err != nil {
		return nil, err
	}
	m, _, err := s.loadMessage(ctx, op, messageID, editorID, CapPost)
	if err != nil {
		return nil, err
	}
	if m.UserID != editorID {
		return nil, apperr.E(apperr.Unauthorized, op, "only the author can edit a message")
	}
	if m.IsDeleted {
		return nil, apperr.E(apperr.NotFound, op, "message not found")
	}
	if content, err = s.policy.Apply(content); err != nil {
		return nil, apperr.Wrap(apperr.Validation, op, err)
	}
	at := s.clock()
	apply := func() {
		m.Content = content
		m.IsEdited = true
		m.EditedAt = &at
	}
	// До публикации правка не рассылается: сообщение видит только автор.
	if m.Pending() {
		if err := s.store.EditMessage(ctx, m.ID, content, at); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		apply()
		return m, nil
	}
	err = s.hub.Commit(ctx, m.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		if err := s.store.EditMessage(ctx, m.ID, content, at); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		members, err := s.store.ListParticipants(ctx, m.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		apply()
		return []dispatch.Emission{messageEmission(dispatch.EventMessageEdited, m, at, members)}, nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMessage soft-deletes a message. Authors delete their own, moderators and
// admins delete any. Deleting a scheduled message cancels it. Repeated deletes succeed.
func (s *Service) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	const op = "service.DeleteMessage"
	defer logger.DeferLogDuration(op, time.Now())()
	m, p, err := s.loadMessage(ctx, op, messageID, requesterID, CapRead)
	if err != nil {
		return err
	}
	if m.UserID != requesterID && (p.IsBlocked || !p.Role.CanModerate()) {
		return apperr.E(apperr.Unauthorized, op, "only the author or a moderator can delete a message")
	}
	if m.Pending() {
		return s.CancelScheduledMessage(ctx, messageID, requesterID)
	}
	if m.IsDeleted {
		return nil
	}
	at := s.clock()
	return s.hub.Commit(ctx, m.ConversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		if err := s.store.SoftDeleteMessage(ctx, m.ID, at); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		members, err := s.store.ListParticipants(ctx, m.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		m.IsDeleted = true
		m.DeletedAt = &at
		return []dispatch.Emission{messageEmission(dispatch.EventMessageDeleted, m, at, members)}, nil
	})
}

func (s *Service) GetMessage(ctx context.Context, messageID, viewerID string) (*model.Message, error) {
	const op = "service.GetMessage"
	m, _, err := s.loadMessage(ctx, op, messageID, viewerID, CapRead)
	if err != nil {
		return nil, err
	}
	out := []model.Message{*m}
	if err := s.decorate(ctx, op, out); err != nil {
		return nil, err
	}
	return &out[0], nil
}

// ListMessages pages the timeline. Without After the page is newest-first and
// NextCursor continues into older messages; with After it is the oldest-first
// catch-up read used after a resync.
func (s *Service) ListMessages(ctx context.Context, in ListMessagesInput) (*MessagePage, error) {
	const op = "service.ListMessages"
	defer logger.DeferLogDuration(op, time.Now())()
	if _, err := s.Authorize(ctx, in.ConversationID, in.ViewerID, CapRead); err != nil {
		return nil, err
	}
	q := storage.MessageQuery{ConversationID: in.ConversationID, ViewerID: in.ViewerID, Limit: in.Limit}
	if q.Limit <= 0 {
		q.Limit = s.opts.MessagePageSize
	}
	q.Limit = min(q.Limit, s.opts.MaxMessagePageSize)
	var err error
	if q.Before, err = decodeCursor(op, in.Before); err != nil {
		return nil, err
	}
	if q.After, err = decodeCursor(op, in.After); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if err := s.decorate(ctx, op, msgs); err != nil {
		return nil, err
	}
	page := &MessagePage{Messages: msgs}
	if len(msgs) == q.Limit {
		last := msgs[len(msgs)-1]
		page.NextCursor = EncodeCursor(storage.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// GetReplies returns the thread under messageID, oldest first.
func (s *Service) GetReplies(ctx context.Context, messageID, viewerID string) ([]model.Message, error) {
	const op = "service.GetReplies"
	if _, _, err := s.loadMessage(ctx, op, messageID, viewerID, CapRead); err != nil {
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, messageID, viewerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if err := s.decorate(ctx, op, replies); err != nil {
		return nil, err
	}
	return replies, nil
}

// CreateReply posts a reply to parentID in the parent's conversation.
func (s *Service) CreateReply(ctx context.Context, parentID string, in CreateMessageInput) (*model.Message, error) {
	const op = "service.CreateReply"
	parent, err := s.store.GetMessage(ctx, parentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	in.ConversationID = parent.ConversationID
	in.ParentID = &parentID
	return s.CreateMessage(ctx, in)
}

func (s *Service) SearchMessages(ctx context.Context, userID, query, conversationID string, limit int) ([]model.Message, error) {
	const op = "service.SearchMessages"
	defer logger.DeferLogDuration(op, time.Now())()
	query = strings.TrimSpace(query)
	if err := s.check(op, searchInput{Query: query}); err != nil {
		return nil, err
	}
	if conversationID != "" {
		if _, err := s.Authorize(ctx, conversationID, userID, CapRead); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = 20
	}
	limit = min(limit, s.opts.MaxMessagePageSize)
	found, err := s.store.SearchMessages(ctx, userID, query, conversationID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return found, nil
}

// loadMessage fetches a message the viewer may see, together with the viewer's membership.
func (s *Service) loadMessage(ctx context.Context, op, messageID, viewerID string, c Capability) (*model.Message, *model.Participant, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	p, err := s.Authorize(ctx, m.ConversationID, viewerID, c)
	if err != nil {
		return nil, nil, err
	}
	if !m.VisibleTo(viewerID) {
		return nil, nil, apperr.E(apperr.NotFound, op, "message not found")
	}
	return m, p, nil
}

// decorate fills the derived reaction summary and attachments, and redacts deleted messages.
func (s *Service) decorate(ctx context.Context, op string, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := lo.Map(msgs, func(m model.Message, _ int) string { return m.ID })
	groups, err := s.store.ReactionGroups(ctx, ids)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, op, err)
	}
	for i := range msgs {
		msgs[i].Reactions = groups[msgs[i].ID]
		if msgs[i].IsDeleted {
			msgs[i] = msgs[i].Redacted()
			continue
		}
		if msgs[i].Type == model.MessageTypeText || msgs[i].Type == model.MessageTypeSystem {
			continue
		}
		files, err := s.store.ListFiles(ctx, msgs[i].ID)
		if err != nil {
			return apperr.Wrap(apperr.StorageFailure, op, err)
		}
		msgs[i].Files = s.withURLs(files)
	}
	return nil
}

func EncodeCursor(c storage.Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(op, s string) (*storage.Cursor, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.E(apperr.Validation, op, "malformed cursor")
	}
	var c storage.Cursor
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return nil, apperr.E(apperr.Validation, op, "malformed cursor")
	}
	return &c, nil
}
