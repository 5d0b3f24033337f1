package middleware

import (
	"context"

	"github.com/chatsync/internal/identity"
)

// GetUserID возвращает id пользователя, положенного SessionAuth, или "".
func GetUserID(ctx context.Context) string {
	if u := identity.FromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}

type contextKey string

const SessionIDKey contextKey = "session_id"

func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}
