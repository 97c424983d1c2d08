package handler

import (
	"net/http"
	"net/url"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/service"
	"github.com/go-chi/chi/v5"
)

type MessageHandler struct {
	svc *service.Service
}

func NewMessageHandler(svc *service.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// CreateMessage: POST /api/conversations/{id}/messages. scheduled_at в будущем: отложенная отправка.
func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var in service.CreateMessageInput
	if !decodeJSON(w, r, &in, false) {
		return
	}
	in.ConversationID = chi.URLParam(r, "id")
	in.AuthorID = middleware.GetUserID(r.Context())
	m, err := h.svc.CreateMessage(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	status := http.StatusCreated
	if m.Pending() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, m)
}

// GetMessages: ?before=<cursor>|?after=<cursor>&limit=N. next_cursor пустой на последней странице.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.ListMessages(r.Context(), service.ListMessagesInput{
		ConversationID: chi.URLParam(r, "id"),
		ViewerID:       middleware.GetUserID(r.Context()),
		Before:         q.Get("before"),
		After:          q.Get("after"),
		Limit:          queryInt(r, "limit", 0),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMessage(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type editRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	m, err := h.svc.UpdateMessage(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteMessage(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *MessageHandler) GetReplies(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.GetReplies(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) CreateReply(w http.ResponseWriter, r *http.Request) {
	var in service.CreateMessageInput
	if !decodeJSON(w, r, &in, false) {
		return
	}
	in.AuthorID = middleware.GetUserID(r.Context())
	m, err := h.svc.CreateReply(r.Context(), chi.URLParam(r, "messageId"), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// SearchMessages searches the caller's conversations: ?q=...&conversation_id=...&limit=N.
func (h *MessageHandler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msgs, err := h.svc.SearchMessages(r.Context(), middleware.GetUserID(r.Context()), q.Get("q"), q.Get("conversation_id"), queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelScheduledMessage(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.svc.AddReaction(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.Emoji); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

// RemoveReaction: DELETE .../reactions/{emoji}; эмодзи в пути URL-кодирован.
func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	emoji, err := url.PathUnescape(chi.URLParam(r, "emoji"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid emoji")
		return
	}
	if err := h.svc.RemoveReaction(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), emoji); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *MessageHandler) GetReactions(w http.ResponseWriter, r *http.Request) {
	rs, err := h.svc.ListReactions(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *MessageHandler) GetReadReceipts(w http.ResponseWriter, r *http.Request) {
	rcs, err := h.svc.ListReadReceipts(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcs)
}

type pinRequest struct {
	Note string `json:"note"`
}

func (h *MessageHandler) Pin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	pin, err := h.svc.PinMessage(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.Note)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pin)
}

func (h *MessageHandler) Unpin(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UnpinMessage(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}
