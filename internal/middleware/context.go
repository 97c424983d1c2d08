package middleware

import "context"

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	clientIPKey contextKey = "client_ip"
)

// GetUserID возвращает user_id из контекста (устанавливается TrustedUser).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// WithUserID кладёт user_id в контекст; используется в тестах хендлеров и ws.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}
