package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// RequestLog логирует каждый HTTP-запрос (method, route, status, user, длительность) и пишет гистограмму.
// Маршрут берётся из шаблона chi, чтобы id не раздували метки.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap := wrapWriter(w)
		next.ServeHTTP(wrap, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		status := strconv.Itoa(wrap.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, status).Observe(elapsed.Seconds())
		if wrap.status >= http.StatusInternalServerError || elapsed >= 100*time.Millisecond {
			logger.Infof("http %s %s status=%s user=%s duration_ms=%d", r.Method, route, status, GetUserID(r.Context()), elapsed.Milliseconds())
			return
		}
		logger.Debugf("http %s %s status=%s user=%s duration_ms=%d", r.Method, route, status, GetUserID(r.Context()), elapsed.Milliseconds())
	})
}
