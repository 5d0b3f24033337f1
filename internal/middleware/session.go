package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/chatsync/internal/identity"
	"github.com/chatsync/internal/logger"
)

// SessionResolver — identity.Sessions.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (*identity.CurrentUser, error)
}

// SessionID читает id сессии из X-Session-Id или ?session_id= (браузерный WebSocket не умеет заголовки).
func SessionID(r *http.Request) string {
	if id := r.Header.Get("X-Session-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("session_id")
}

// SessionAuth кладёт пользователя сессии в контекст; без валидной сессии отвечает 401.
func SessionAuth(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := SessionID(r)
			if sessionID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			u, err := sessions.Resolve(r.Context(), sessionID)
			if err != nil {
				if !errors.Is(err, identity.ErrUnauthenticated) {
					logger.Errorf("session middleware resolve session_id=%s: %v", MaskSessionID(sessionID), err)
				}
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := identity.WithUser(r.Context(), u)
			ctx = context.WithValue(ctx, SessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
