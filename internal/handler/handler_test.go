package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/blob"
	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/dispatch"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/storage/memory"
	"github.com/chatcore/internal/ws"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	blobs := blob.NewDisk(t.TempDir(), "")
	svc := service.New(service.Deps{
		Store:    memory.New(),
		Typing:   memory.NewTyping(),
		Dispatch: dispatch.New(16, 10),
		Blobs:    blobs,
	}, service.Options{})
	hub := ws.NewHub(svc, ws.Options{})
	cfg := &config.Config{
		MaxUploadSize:       1 << 20,
		CORSAllowedOrigins:  "*",
		TrustClientIdentity: true,
		TypingTTL:           3 * time.Second,
		AdminUsers:          []string{"root"},
	}
	return NewRouter(RouterDeps{Config: cfg, Service: svc, WS: NewWSHandler(hub, nil), Blobs: blobs})
}

func do(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	r := httptest.NewRequest(method, path, rd)
	r.Header.Set("Content-Type", "application/json")
	if user != "" {
		r.Header.Set("X-User-Id", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func Test_Router_Conversation_Flow(t *testing.T) {
	req := require.New(t)
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/conversations", "alice", map[string]any{
		"type": "group", "name": "team", "members": []string{"bob"},
	})
	req.Equal(http.StatusCreated, rec.Code, rec.Body.String())
	sum := decode[model.ConversationSummary](t, rec)
	req.Len(sum.Participants, 2)
	conv := sum.Conversation.ID

	rec = do(t, h, http.MethodPost, "/api/conversations/"+conv+"/messages", "bob", map[string]any{"content": "hi"})
	req.Equal(http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[model.Message](t, rec)
	req.Equal("bob", msg.UserID)

	rec = do(t, h, http.MethodGet, "/api/conversations/"+conv+"/messages?limit=10", "alice", nil)
	req.Equal(http.StatusOK, rec.Code)
	page := decode[service.MessagePage](t, rec)
	req.Len(page.Messages, 1)
	req.Equal("hi", page.Messages[0].Content)

	rec = do(t, h, http.MethodGet, "/api/conversations/"+conv, "carol", nil)
	req.Equal(http.StatusForbidden, rec.Code)
	req.Equal(apperr.NotParticipant, decode[errorResponse](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/api/messages/"+msg.ID+"/reactions", "alice", map[string]string{"emoji": "👍"})
	req.Equal(http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/api/messages/"+msg.ID+"/reactions", "bob", nil)
	req.Len(decode[[]model.Reaction](t, rec), 1)
	rec = do(t, h, http.MethodDelete, "/api/messages/"+msg.ID+"/reactions/"+url.PathEscape("👍"), "alice", nil)
	req.Equal(http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/api/messages/"+msg.ID+"/reactions", "bob", nil)
	req.Empty(decode[[]model.Reaction](t, rec))

	// mute: личная настройка
	rec = do(t, h, http.MethodPatch, "/api/conversations/"+conv+"/participants/bob", "alice", map[string]any{"is_muted": true})
	req.Equal(http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodPatch, "/api/conversations/"+conv+"/participants/bob", "bob", map[string]any{"is_muted": true})
	req.Equal(http.StatusOK, rec.Code, rec.Body.String())
	req.True(decode[model.Participant](t, rec).IsMuted)

	rec = do(t, h, http.MethodDelete, "/api/messages/"+msg.ID, "alice", nil)
	req.Equal(http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/api/messages/"+msg.ID, "bob", nil)
	req.Equal(http.StatusOK, rec.Code)
	req.True(decode[model.Message](t, rec).IsDeleted)
}

func Test_Router_Rejections(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
	}{
		{name: "no identity", method: http.MethodGet, path: "/api/conversations", status: http.StatusUnauthorized},
		{name: "malformed body", method: http.MethodPost, path: "/api/conversations", user: "alice", body: "{", status: http.StatusBadRequest},
		{name: "unknown type", method: http.MethodPost, path: "/api/conversations", user: "alice", body: map[string]any{"type": "room"}, status: http.StatusBadRequest},
		{name: "missing message", method: http.MethodGet, path: "/api/messages/nope", user: "alice", status: http.StatusNotFound},
		{name: "empty participant update", method: http.MethodPatch, path: "/api/conversations/x/participants/y", user: "alice", body: map[string]any{}, status: http.StatusBadRequest},
		{name: "public limits", method: http.MethodGet, path: "/api/config/limits", status: http.StatusOK},
		{name: "health", method: http.MethodGet, path: "/health", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.user, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func Test_Router_Admin_Routes(t *testing.T) {
	h := newTestRouter(t)
	tests := []struct {
		name   string
		path   string
		user   string
		status int
	}{
		{name: "stats for admin", path: "/api/stats", user: "root", status: http.StatusOK},
		{name: "stats for user", path: "/api/stats", user: "alice", status: http.StatusForbidden},
		{name: "own activity", path: "/api/users/alice/activity", user: "alice", status: http.StatusOK},
		{name: "own activity via me", path: "/api/users/me/activity", user: "alice", status: http.StatusOK},
		{name: "someone else", path: "/api/users/bob/activity", user: "alice", status: http.StatusForbidden},
		{name: "admin reads anyone", path: "/api/users/bob/activity", user: "root", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, tt.user, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func Test_Router_File_Upload_And_Download(t *testing.T) {
	req := require.New(t)
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/conversations", "alice", map[string]any{"type": "private", "members": []string{"bob"}})
	req.Equal(http.StatusCreated, rec.Code, rec.Body.String())
	conv := decode[model.ConversationSummary](t, rec).Conversation.ID
	rec = do(t, h, http.MethodPost, "/api/conversations/"+conv+"/messages", "alice", map[string]any{"content": "pic", "type": "image"})
	req.Equal(http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[model.Message](t, rec)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "chart.png")
	req.NoError(err)
	_, err = part.Write(pngHeader)
	req.NoError(err)
	req.NoError(mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/messages/"+msg.ID+"/files", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set("X-User-Id", "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	req.Equal(http.StatusCreated, rec.Code, rec.Body.String())
	f := decode[model.File](t, rec)
	req.Equal("chart.png", f.OriginalName)
	req.Equal("image/png", f.MimeType)

	rec = do(t, h, http.MethodGet, "/api/files/"+f.ID+"/content", "bob", nil)
	req.Equal(http.StatusOK, rec.Code)
	req.Equal(pngHeader, rec.Body.Bytes())
	req.Contains(rec.Header().Get("Content-Disposition"), "chart.png")

	rec = do(t, h, http.MethodGet, f.URL, "", nil)
	req.Equal(http.StatusOK, rec.Code)
	req.Equal(pngHeader, rec.Body.Bytes())

	rec = do(t, h, http.MethodGet, "/api/files/"+f.ID+"/content", "carol", nil)
	req.Equal(http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/files/"+f.ID, "alice", nil)
	req.Equal(http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/api/files/"+f.ID, "alice", nil)
	req.Equal(http.StatusNotFound, rec.Code)
}

func Test_OriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no list", origin: "https://evil.test", want: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://a.test", want: true},
		{name: "listed", allowed: []string{"https://a.test", "https://b.test"}, origin: "https://b.test", want: true},
		{name: "not listed", allowed: []string{"https://a.test"}, origin: "https://evil.test", want: false},
		{name: "non-browser", allowed: []string{"https://a.test"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, OriginChecker(tt.allowed)(r))
		})
	}
}
