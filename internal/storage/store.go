// Package storage — хранилище сессий: session id → user id с TTL.
package storage

import (
	"context"
	"time"
)

// SessionStore реализуют storage/redis и storage/memory (режим -dev).
type SessionStore interface {
	SetSession(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	// GetSession возвращает "", если сессии нет или она истекла.
	GetSession(ctx context.Context, sessionID string) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
