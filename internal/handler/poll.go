package handler

import (
	"net/http"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/service"
	"github.com/go-chi/chi/v5"
)

type PollHandler struct {
	svc *service.Service
}

func NewPollHandler(svc *service.Service) *PollHandler {
	return &PollHandler{svc: svc}
}

func (h *PollHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreatePollInput
	if !decodeJSON(w, r, &in, false) {
		return
	}
	in.ConversationID = chi.URLParam(r, "id")
	in.CreatorID = middleware.GetUserID(r.Context())
	res, err := h.svc.CreatePoll(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PollHandler) List(w http.ResponseWriter, r *http.Request) {
	polls, err := h.svc.ListPolls(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, polls)
}

type voteRequest struct {
	Option int `json:"option_index"`
}

// Vote: повторный голос заменяет прежний выбор.
func (h *PollHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	res, err := h.svc.VotePoll(r.Context(), chi.URLParam(r, "pollId"), middleware.GetUserID(r.Context()), req.Option)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *PollHandler) Results(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetPollResults(r.Context(), chi.URLParam(r, "pollId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
