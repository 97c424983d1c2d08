package handler

import (
	"net/http"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/service"
	"github.com/dustin/go-humanize"
)

// ConfigHandler отдаёт публичные параметры, нужные клиенту до первого запроса.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type limitsResponse struct {
	MaxUploadSize     int64    `json:"max_upload_size"`
	MaxUploadHuman    string   `json:"max_upload_human"`
	AllowedMimeTypes  []string `json:"allowed_mime_types"`
	MaxContentLength  int      `json:"max_content_length"`
	TypingTTLMillis   int64    `json:"typing_ttl_ms"`
	WSMaxMessageSize  int64    `json:"ws_max_message_size"`
	PushNotifications bool     `json:"push_enabled"`
}

// GetLimits возвращает лимиты сообщений и вложений (без авторизации).
func (h *ConfigHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	mimes := h.cfg.AllowedMimeTypes
	if len(mimes) == 0 {
		mimes = service.DefaultAllowedMimeTypes
	}
	writeJSON(w, http.StatusOK, limitsResponse{
		MaxUploadSize:     h.cfg.MaxUploadSize,
		MaxUploadHuman:    humanize.Bytes(uint64(h.cfg.MaxUploadSize)),
		AllowedMimeTypes:  mimes,
		MaxContentLength:  service.MaxContentRunes,
		TypingTTLMillis:   h.cfg.TypingTTL.Milliseconds(),
		WSMaxMessageSize:  h.cfg.WSMaxMessageSize,
		PushNotifications: h.cfg.PushServiceURL != "",
	})
}
