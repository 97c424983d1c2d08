package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// AdminGate пускает к служебной статистике администраторов из конфига
// и шлюз, приславший X-Internal-Secret.
type AdminGate struct {
	admins map[string]struct{}
	secret string
}

func NewAdminGate(admins []string, secret string) *AdminGate {
	g := &AdminGate{admins: make(map[string]struct{}, len(admins)), secret: strings.TrimSpace(secret)}
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			g.admins[a] = struct{}{}
		}
	}
	return g
}

func (g *AdminGate) Allowed(r *http.Request) bool {
	if g.secret != "" && r.Header.Get("X-Internal-Secret") == g.secret {
		return true
	}
	_, ok := g.admins[GetUserID(r.Context())]
	return ok
}

func (g *AdminGate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allowed(r) {
			forbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUnlessSelf: как Require, но пользователь всегда видит свои данные
// (URL-параметр param равен его id или "me"). Ставится через r.With, после маршрутизации.
func (g *AdminGate) RequireUnlessSelf(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, param)
			if id == "me" || (id != "" && id == GetUserID(r.Context())) || g.Allowed(r) {
				next.ServeHTTP(w, r)
				return
			}
			forbidden(w)
		})
	}
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
}
