package service

import (
	"context"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/samber/lo"
)

// Capability is what a caller wants to do in a conversation.
type Capability int

const (
	CapRead Capability = iota
	CapPost
	CapModerate
	CapAdminister
)

// Authorize is the single membership check behind every operation.
// A missing or inactive conversation is reported as NotParticipant so callers
// cannot discover conversation ids by guessing.
func (s *Service) Authorize(ctx context.Context, conversationID, userID string, c Capability) (*model.Participant, error) {
	const op = "service.Authorize"
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.E(apperr.NotParticipant, op, "not a participant of this conversation")
		}
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if !conv.Live() {
		return nil, apperr.E(apperr.NotParticipant, op, "not a participant of this conversation")
	}
	p, err := s.store.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.E(apperr.NotParticipant, op, "not a participant of this conversation")
		}
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	switch c {
	case CapPost:
		if p.IsBlocked {
			return nil, apperr.E(apperr.NotParticipant, op, "participant is blocked")
		}
	case CapModerate:
		if p.IsBlocked || !p.Role.CanModerate() {
			return nil, apperr.E(apperr.Unauthorized, op, "moderator or admin role required")
		}
	case CapAdminister:
		if p.IsBlocked || p.Role != model.RoleAdmin {
			return nil, apperr.E(apperr.Unauthorized, op, "admin role required")
		}
	}
	return p, nil
}

func (s *Service) CreateConversation(ctx context.Context, in CreateConversationInput) (*model.ConversationSummary, error) {
	const op = "service.CreateConversation"
	defer logger.DeferLogDuration(op, time.Now())()
	if err := s.check(op, in); err != nil {
		return nil, err
	}
	others := lo.Uniq(lo.Without(in.Members, in.CreatorID))
	if in.Type == model.ConversationTypePrivate && len(others) != 1 {
		return nil, apperr.E(apperr.Validation, op, "a private conversation needs exactly one other member")
	}
	now := s.clock()
	conv := &model.Conversation{
		ID:          newID(),
		Type:        in.Type,
		Name:        in.Name,
		Description: in.Description,
		CreatedBy:   in.CreatorID,
		IsActive:    true,
		Settings:    in.Settings,
		CreatedAt:   now,
	}
	creatorRole := model.RoleAdmin
	if in.Type == model.ConversationTypePrivate {
		creatorRole = model.RoleMember
	}
	members := make([]model.Participant, 0, len(others)+1)
	members = append(members, model.Participant{ConversationID: conv.ID, UserID: in.CreatorID, Role: creatorRole, JoinedAt: now})
	for _, u := range others {
		members = append(members, model.Participant{ConversationID: conv.ID, UserID: u, Role: model.RoleMember, JoinedAt: now})
	}

	sum := &model.ConversationSummary{Conversation: *conv, Participants: members}
	err := s.hub.Commit(ctx, conv.ID, func(ctx context.Context) ([]dispatch.Emission, error) {
		if err := s.store.CreateConversation(ctx, conv, members); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{emit(dispatch.EventConversationNew, conv.ID, now, sum, userIDs(members))}, nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *Service) GetConversation(ctx context.Context, conversationID, viewerID string) (*model.ConversationSummary, error) {
	const op = "service.GetConversation"
	if _, err := s.Authorize(ctx, conversationID, viewerID, CapRead); err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	return s.summarize(ctx, op, conv, viewerID)
}

// ListConversations returns the user's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSummary, error) {
	const op = "service.ListConversations"
	defer logger.DeferLogDuration(op, time.Now())()
	if limit <= 0 {
		limit = s.opts.ConversationPageSize
	}
	limit = min(limit, 100)
	offset = max(offset, 0)
	convs, err := s.store.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	out := make([]model.ConversationSummary, 0, len(convs))
	for i := range convs {
		sum, err := s.summarize(ctx, op, &convs[i], userID)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, nil
}

func (s *Service) summarize(ctx context.Context, op string, conv *model.Conversation, viewerID string) (*model.ConversationSummary, error) {
	members, err := s.store.ListParticipants(ctx, conv.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	last, err := s.store.LatestMessage(ctx, conv.ID, viewerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	unread, err := s.store.UnreadCount(ctx, conv.ID, viewerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	sum := &model.ConversationSummary{Conversation: *conv, Participants: members, UnreadCount: unread}
	if last != nil {
		r := last.Redacted()
		sum.LastMessage = &r
	}
	return sum, nil
}

func (s *Service) AddParticipant(ctx context.Context, conversationID, actorID, userID string, role model.Role) (*model.Participant, error) {
	const op = "service.AddParticipant"
	if role == "" {
		role = model.RoleMember
	}
	if !role.Valid() || userID == "" {
		return nil, apperr.E(apperr.Validation, op, "invalid participant")
	}
	if _, err := s.Authorize(ctx, conversationID, actorID, CapAdminister); err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if conv.Type == model.ConversationTypePrivate {
		return nil, apperr.E(apperr.Validation, op, "private conversations have fixed participants")
	}
	now := s.clock()
	p := &model.Participant{ConversationID: conversationID, UserID: userID, Role: role, JoinedAt: now}
	err = s.hub.Commit(ctx, conversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		if err := s.store.AddParticipant(ctx, p); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		members, err := s.store.ListParticipants(ctx, conversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{emit(dispatch.EventParticipantAdded, userID, now, p, userIDs(members))}, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RemoveParticipant removes userID. Admins remove anyone; every participant may leave.
func (s *Service) RemoveParticipant(ctx context.Context, conversationID, actorID, userID string) error {
	const op = "service.RemoveParticipant"
	need := CapAdminister
	if actorID == userID {
		need = CapRead
	}
	if _, err := s.Authorize(ctx, conversationID, actorID, need); err != nil {
		return err
	}
	now := s.clock()
	return s.hub.Commit(ctx, conversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		members, err := s.store.ListParticipants(ctx, conversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		if err := s.store.RemoveParticipant(ctx, conversationID, userID); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		return []dispatch.Emission{emit(dispatch.EventParticipantRemoved, userID, now, UserPayload{UserID: userID}, userIDs(members))}, nil
	})
}

func (s *Service) SetRole(ctx context.Context, conversationID, actorID, userID string, role model.Role) (*model.Participant, error) {
	const op = "service.SetRole"
	if !role.Valid() {
		return nil, apperr.E(apperr.Validation, op, "unknown role")
	}
	if _, err := s.Authorize(ctx, conversationID, actorID, CapAdminister); err != nil {
		return nil, err
	}
	return s.updateParticipant(ctx, op, conversationID, userID, true, func(p *model.Participant) { p.Role = role })
}

// SetMuted changes the caller's own mute flag. Muting only silences notifications.
func (s *Service) SetMuted(ctx context.Context, conversationID, userID string, muted bool) (*model.Participant, error) {
	const op = "service.SetMuted"
	if _, err := s.Authorize(ctx, conversationID, userID, CapRead); err != nil {
		return nil, err
	}
	return s.updateParticipant(ctx, op, conversationID, userID, false, func(p *model.Participant) { p.IsMuted = muted })
}

func (s *Service) SetBlocked(ctx context.Context, conversationID, actorID, userID string, blocked bool) (*model.Participant, error) {
	const op = "service.SetBlocked"
	if actorID == userID {
		return nil, apperr.E(apperr.Validation, op, "cannot block yourself")
	}
	actor, err := s.Authorize(ctx, conversationID, actorID, CapModerate)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, op, err)
	}
	if target.Role == model.RoleAdmin && actor.Role != model.RoleAdmin {
		return nil, apperr.E(apperr.Unauthorized, op, "only an admin can block an admin")
	}
	return s.updateParticipant(ctx, op, conversationID, userID, true, func(p *model.Participant) { p.IsBlocked = blocked })
}

// updateParticipant applies change under the conversation lock. A private change
// (broadcast=false) is only echoed to the participant's own sessions.
func (s *Service) updateParticipant(ctx context.Context, op, conversationID, userID string, broadcast bool, change func(*model.Participant)) (*model.Participant, error) {
	var out *model.Participant
	err := s.hub.Commit(ctx, conversationID, func(ctx context.Context) ([]dispatch.Emission, error) {
		p, err := s.store.GetParticipant(ctx, conversationID, userID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		change(p)
		if err := s.store.UpdateParticipant(ctx, p); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, op, err)
		}
		out = p
		to := []string{userID}
		if broadcast {
			members, err := s.store.ListParticipants(ctx, conversationID)
			if err != nil {
				return nil, apperr.Wrap(apperr.StorageFailure, op, err)
			}
			to = userIDs(members)
		}
		return []dispatch.Emission{emit(dispatch.EventParticipantUpdated, userID, s.clock(), p, to)}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
