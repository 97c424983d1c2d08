package handler

import (
	"net/http"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/service"
	"github.com/go-chi/chi/v5"
)

// UserHandler: активность пользователя и сводная статистика.
type UserHandler struct {
	svc *service.Service
}

func NewUserHandler(svc *service.Service) *UserHandler {
	return &UserHandler{svc: svc}
}

// GetActivity: GET /api/users/{userId}/activity; "me": текущий пользователь.
func (h *UserHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")
	if id == "" || id == "me" {
		id = middleware.GetUserID(r.Context())
	}
	act, err := h.svc.UserActivity(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (h *UserHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ConversationStats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
