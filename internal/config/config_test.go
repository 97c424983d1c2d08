package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults_And_Env(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(req *require.Assertions, c *Config)
		fail  bool
	}{
		{
			name: "defaults",
			check: func(req *require.Assertions, c *Config) {
				req.Equal("postgres", c.Store)
				req.Equal(3*time.Second, c.TypingTTL)
				req.Equal(500*time.Millisecond, c.TypingSweep)
				req.Equal(int64(10_000_000), c.MaxUploadSize)
				req.Equal(256, c.SessionQueueSize)
			},
		},
		{
			name: "env wins",
			env:  map[string]string{"STORE": "Memory", "MAX_UPLOAD_SIZE": "2MiB", "TYPING_TTL": "5s", "BLOCKED_WORDS": "foo, ,bar"},
			check: func(req *require.Assertions, c *Config) {
				req.Equal("memory", c.Store)
				req.Equal(int64(2<<20), c.MaxUploadSize)
				req.Equal(5*time.Second, c.TypingTTL)
				req.Equal([]string{"foo", "bar"}, c.BlockedWords)
			},
		},
		{
			name: "proxies and admins",
			env:  map[string]string{"TRUSTED_PROXIES": "10.0.0.0/8, 192.168.1.5", "ADMIN_USERS": "root"},
			check: func(req *require.Assertions, c *Config) {
				req.Equal([]string{"10.0.0.0/8", "192.168.1.5"}, c.TrustedProxies)
				req.Equal([]string{"root"}, c.AdminUsers)
				req.Empty(defaults().TrustedProxies)
			},
		},
		{name: "bad duration", env: map[string]string{"TYPING_SWEEP": "soon"}, fail: true},
		{name: "bad size", env: map[string]string{"MAX_UPLOAD_SIZE": "huge"}, fail: true},
		{name: "unknown store", env: map[string]string{"STORE": "sqlite"}, fail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			c, err := fromYAML(defaults())
			if tt.fail {
				req.Error(err)
				return
			}
			req.NoError(err)
			tt.check(req, c)
		})
	}
}
