package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

const maxUserIDLen = 64

// TrustedUser принимает идентификатор пользователя от внешнего шлюза авторизации.
// Заголовок X-User-Id доверяется только при совпадении X-Internal-Secret с secret
// или если клиент в приватной сети. Адрес клиента берётся из ClientIP: заголовки
// X-Forwarded-For учитываются только от доверенных прокси (см. RealIP).
// Браузерный WebSocket не умеет ставить заголовки, поэтому для него есть ?user_id=.
func TrustedUser(secret string, allowPublic bool) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			trusted := allowPublic ||
				(secret != "" && r.Header.Get("X-Internal-Secret") == secret) ||
				isPrivateIP(ClientIP(r))
			if !trusted {
				unauthorized(w)
				return
			}
			userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
			if userID == "" {
				userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
			}
			if userID == "" || len(userID) > maxUserIDLen {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
