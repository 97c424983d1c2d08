package handler

import (
	"net/http"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
	"github.com/go-chi/chi/v5"
)

// ChatHandler: беседы и участники.
type ChatHandler struct {
	svc *service.Service
}

func NewChatHandler(svc *service.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var in service.CreateConversationInput
	if !decodeJSON(w, r, &in, false) {
		return
	}
	in.CreatorID = middleware.GetUserID(r.Context())
	sum, err := h.svc.CreateConversation(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convs, err := h.svc.ListConversations(r.Context(), userID, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.GetConversation(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type addParticipantRequest struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
}

func (h *ChatHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	var req addParticipantRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	p, err := h.svc.AddParticipant(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.UserID, req.Role)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// RemoveParticipant: DELETE .../participants/{userId}; свой id: выход из беседы.
func (h *ChatHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RemoveParticipant(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), chi.URLParam(r, "userId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

// updateParticipantRequest: меняется только то, что передано.
type updateParticipantRequest struct {
	Role    *model.Role `json:"role"`
	Muted   *bool       `json:"is_muted"`
	Blocked *bool       `json:"is_blocked"`
}

func (h *ChatHandler) UpdateParticipant(w http.ResponseWriter, r *http.Request) {
	var req updateParticipantRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	convID := chi.URLParam(r, "id")
	target := chi.URLParam(r, "userId")
	actor := middleware.GetUserID(r.Context())
	var (
		p   *model.Participant
		err error
	)
	switch {
	case req.Role != nil:
		p, err = h.svc.SetRole(r.Context(), convID, actor, target, *req.Role)
	case req.Blocked != nil:
		p, err = h.svc.SetBlocked(r.Context(), convID, actor, target, *req.Blocked)
	case req.Muted != nil:
		if target != actor {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "mute is a personal setting", Code: apperr.Unauthorized})
			return
		}
		p, err = h.svc.SetMuted(r.Context(), convID, actor, *req.Muted)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "nothing to update", Code: apperr.Validation})
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ChatHandler) OnlineParticipants(w http.ResponseWriter, r *http.Request) {
	online, err := h.svc.OnlineParticipants(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"online": online})
}

func (h *ChatHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.UnreadCount(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.MarkConversationRead(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *ChatHandler) StartTyping(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartTyping(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) StopTyping(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StopTyping(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) ActiveTypers(w http.ResponseWriter, r *http.Request) {
	typers, err := h.svc.ActiveTypers(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"typing": typers})
}

func (h *ChatHandler) ListPinned(w http.ResponseWriter, r *http.Request) {
	pins, err := h.svc.ListPinned(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pins)
}

func (h *ChatHandler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListScheduled(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
