package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func Test_TrustedUser(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		remote     string
		headers    map[string]string
		query      string
		wantStatus int
		wantUser   string
	}{
		{name: "loopback header", remote: "127.0.0.1:5000", headers: map[string]string{"X-User-Id": "alice"}, wantStatus: 200, wantUser: "alice"},
		{name: "query for websocket", remote: "10.0.0.8:5000", query: "?user_id=bob", wantStatus: 200, wantUser: "bob"},
		{name: "public ip rejected", remote: "8.8.8.8:5000", headers: map[string]string{"X-User-Id": "alice"}, wantStatus: 401},
		{name: "public ip with secret", secret: "s3", remote: "8.8.8.8:5000", headers: map[string]string{"X-User-Id": "alice", "X-Internal-Secret": "s3"}, wantStatus: 200, wantUser: "alice"},
		{name: "wrong secret", secret: "s3", remote: "8.8.8.8:5000", headers: map[string]string{"X-User-Id": "alice", "X-Internal-Secret": "nope"}, wantStatus: 401},
		{name: "missing user", remote: "127.0.0.1:5000", wantStatus: 401},
		{
			name:       "forwarded headers from public peer ignored",
			secret:     "s3cret",
			remote:     "203.0.113.7:5000",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Real-Ip": "10.0.0.2", "X-User-Id": "victim"},
			wantStatus: 401,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			r := httptest.NewRequest(http.MethodGet, "/api/conversations"+tt.query, nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			TrustedUser(tt.secret, false)(echoUser()).ServeHTTP(rec, r)
			req.Equal(tt.wantStatus, rec.Code)
			if tt.wantUser != "" {
				req.Equal(tt.wantUser, rec.Body.String())
			}
		})
	}
}

func Test_RealIP(t *testing.T) {
	proxies, err := ParseProxies([]string{"10.0.0.5", "172.16.0.0/12", " "})
	require.NoError(t, err)
	require.Len(t, proxies, 2)

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "no headers", remote: "203.0.113.7:1", want: "203.0.113.7"},
		{name: "untrusted peer", remote: "203.0.113.7:1", headers: map[string]string{"X-Forwarded-For": "10.0.0.1"}, want: "203.0.113.7"},
		{name: "untrusted private peer", remote: "192.168.0.3:1", headers: map[string]string{"X-Real-Ip": "8.8.8.8"}, want: "192.168.0.3"},
		{name: "proxy appends client", remote: "10.0.0.5:1", headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 203.0.113.7"}, want: "203.0.113.7"},
		{name: "proxy chain", remote: "10.0.0.5:1", headers: map[string]string{"X-Forwarded-For": "198.51.100.2, 172.16.3.3"}, want: "198.51.100.2"},
		{name: "only proxies", remote: "10.0.0.5:1", headers: map[string]string{"X-Forwarded-For": "172.16.0.9"}, want: "172.16.0.9"},
		{name: "garbage hop", remote: "10.0.0.5:1", headers: map[string]string{"X-Forwarded-For": "10.0.0.1, evil"}, want: "10.0.0.5"},
		{name: "real ip from proxy", remote: "10.0.0.5:1", headers: map[string]string{"X-Real-Ip": "198.51.100.9"}, want: "198.51.100.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			var got string
			RealIP(proxies)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), r)
			require.Equal(t, tt.want, got)
		})
	}

	_, err = ParseProxies([]string{"10.0.0.0/33"})
	require.Error(t, err)
}

func Test_TrustedUser_Behind_Proxy(t *testing.T) {
	proxies, err := ParseProxies([]string{"10.0.0.5"})
	require.NoError(t, err)
	h := RealIP(proxies)(TrustedUser("s3cret", false)(echoUser()))

	tests := []struct {
		name       string
		remote     string
		forwarded  string
		wantStatus int
	}{
		{name: "public client spoofing private hop", remote: "10.0.0.5:1", forwarded: "10.0.0.1, 203.0.113.7", wantStatus: 401},
		{name: "private client via proxy", remote: "10.0.0.5:1", forwarded: "192.168.1.4", wantStatus: 200},
		{name: "public peer", remote: "203.0.113.7:1", forwarded: "127.0.0.1", wantStatus: 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			r.RemoteAddr = tt.remote
			r.Header.Set("X-Forwarded-For", tt.forwarded)
			r.Header.Set("X-User-Id", "victim")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			require.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func Test_AdminGate(t *testing.T) {
	g := NewAdminGate([]string{"root", ""}, "s3")
	h := g.Require(echoUser())

	tests := []struct {
		name   string
		user   string
		secret string
		want   int
	}{
		{name: "admin", user: "root", want: 200},
		{name: "regular user", user: "alice", want: 403},
		{name: "gateway secret", user: "alice", secret: "s3", want: 200},
		{name: "wrong secret", user: "alice", secret: "s4", want: 403},
		{name: "no user", want: 403},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			r = r.WithContext(WithUserID(r.Context(), tt.user))
			if tt.secret != "" {
				r.Header.Set("X-Internal-Secret", tt.secret)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func Test_RateLimitAPI(t *testing.T) {
	req := require.New(t)
	h := RateLimitAPI(1, 2)(echoUser())

	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		r.RemoteAddr = "10.1.1.1:1"
		r = r.WithContext(WithUserID(r.Context(), "alice"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
	}
	// бакет пользователя: burst 2
	req.Equal([]int{200, 200, 429, 429, 429, 429}, codes)

	r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	r.RemoteAddr = "10.1.1.2:1"
	r = r.WithContext(WithUserID(r.Context(), "bob"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	req.Equal(http.StatusOK, rec.Code)
}

func Test_RecoverJSON(t *testing.T) {
	req := require.New(t)
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	req.Equal(http.StatusInternalServerError, rec.Code)
	req.JSONEq(`{"error":"internal server error"}`, rec.Body.String())
}
