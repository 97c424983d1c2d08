package handler

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps: всё, что нужно HTTP-слою.
type RouterDeps struct {
	Config  *config.Config
	Service *service.Service
	WS      *WSHandler
	Blobs   BlobServer
	// Proxies: разобранный cfg.TrustedProxies (middleware.ParseProxies).
	Proxies []netip.Prefix
}

func NewRouter(d RouterDeps) http.Handler {
	cfg := d.Config
	chatH := NewChatHandler(d.Service)
	msgH := NewMessageHandler(d.Service)
	pollH := NewPollHandler(d.Service)
	fileH := NewFileHandler(d.Service, d.Blobs, cfg.MaxUploadSize)
	userH := NewUserHandler(d.Service)
	configH := NewConfigHandler(cfg)
	admin := middleware.NewAdminGate(cfg.AdminUsers, cfg.InternalSecret)

	r := chi.NewRouter()
	// X-Forwarded-For учитывается только от доверенных прокси.
	r.Use(middleware.RealIP(d.Proxies))
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	compress := chimw.Compress(5)
	r.Use(func(next http.Handler) http.Handler {
		zipped := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			zipped.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-Id", "X-Internal-Secret"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/config/limits", configH.GetLimits)
	// Имя блоба: случайный uuid, ссылку получают только участники беседы.
	r.Get("/api/blobs/{name}", fileH.ServeBlob)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TrustedUser(cfg.InternalSecret, cfg.TrustClientIdentity))
		r.Use(middleware.RateLimitAPI(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Get("/ws", d.WS.ServeWS)

		r.Get("/api/conversations", chatH.ListConversations)
		r.Post("/api/conversations", chatH.CreateConversation)
		r.Route("/api/conversations/{id}", func(r chi.Router) {
			r.Get("/", chatH.GetConversation)
			r.Post("/participants", chatH.AddParticipant)
			r.Patch("/participants/{userId}", chatH.UpdateParticipant)
			r.Delete("/participants/{userId}", chatH.RemoveParticipant)
			r.Get("/online", chatH.OnlineParticipants)
			r.Get("/unread", chatH.UnreadCount)
			r.Post("/read", chatH.MarkRead)
			r.Post("/typing", chatH.StartTyping)
			r.Delete("/typing", chatH.StopTyping)
			r.Get("/typing", chatH.ActiveTypers)
			r.Get("/pinned", chatH.ListPinned)
			r.Get("/scheduled", chatH.ListScheduled)
			r.Get("/messages", msgH.GetMessages)
			r.Post("/messages", msgH.CreateMessage)
			r.Get("/polls", pollH.List)
			r.Post("/polls", pollH.Create)
		})

		r.Get("/api/messages/search", msgH.SearchMessages)
		r.Route("/api/messages/{messageId}", func(r chi.Router) {
			r.Get("/", msgH.GetMessage)
			r.Put("/", msgH.UpdateMessage)
			r.Delete("/", msgH.DeleteMessage)
			r.Get("/replies", msgH.GetReplies)
			r.Post("/replies", msgH.CreateReply)
			r.Delete("/schedule", msgH.CancelScheduled)
			r.Get("/reactions", msgH.GetReactions)
			r.Post("/reactions", msgH.AddReaction)
			r.Delete("/reactions/{emoji}", msgH.RemoveReaction)
			r.Post("/read", msgH.MarkRead)
			r.Get("/receipts", msgH.GetReadReceipts)
			r.Post("/pin", msgH.Pin)
			r.Delete("/pin", msgH.Unpin)
			r.Get("/files", fileH.List)
			r.Post("/files", fileH.Upload)
		})

		r.Get("/api/polls/{pollId}", pollH.Results)
		r.Post("/api/polls/{pollId}/votes", pollH.Vote)

		r.Get("/api/files/stats", fileH.Stats)
		r.Get("/api/files/{fileId}", fileH.Get)
		r.Get("/api/files/{fileId}/content", fileH.Download)
		r.Delete("/api/files/{fileId}", fileH.Delete)

		r.With(admin.Require).Get("/api/stats", userH.GetStats)
		r.With(admin.RequireUnlessSelf("userId")).Get("/api/users/{userId}/activity", userH.GetActivity)
	})
	return r
}
