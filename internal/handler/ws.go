package handler

import (
	"net/http"
	"strings"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/ws"
)

// OriginChecker: проверка Origin как в CORS; пустой список или "*" разрешает всё.
// Запросы без Origin (не из браузера) пропускаются.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if len(allowed) == 0 || origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

type WSHandler struct {
	hub         *ws.Hub
	checkOrigin func(r *http.Request) bool
}

func NewWSHandler(hub *ws.Hub, checkOrigin func(r *http.Request) bool) *WSHandler {
	if checkOrigin == nil {
		checkOrigin = OriginChecker(nil)
	}
	return &WSHandler{hub: hub, checkOrigin: checkOrigin}
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	h.hub.Serve(w, r, userID)
}
