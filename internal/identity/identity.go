// Package identity отвечает на вопрос "кто текущий пользователь".
package identity

import (
	"context"
	"errors"
)

var ErrUnauthenticated = errors.New("identity: unauthenticated")

type CurrentUser struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Resolver interface {
	CurrentUser(ctx context.Context) (*CurrentUser, error)
}

// Static всегда возвращает одного и того же пользователя (CLI, тесты).
type Static struct {
	User CurrentUser
}

func (s Static) CurrentUser(ctx context.Context) (*CurrentUser, error) {
	if s.User.ID == "" {
		return nil, ErrUnauthenticated
	}
	u := s.User
	return &u, nil
}

type ctxKey struct{}

// WithUser кладёт пользователя в контекст запроса.
func WithUser(ctx context.Context, u *CurrentUser) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext возвращает пользователя, положенного WithUser, или nil.
func FromContext(ctx context.Context) *CurrentUser {
	u, _ := ctx.Value(ctxKey{}).(*CurrentUser)
	return u
}

// ContextResolver читает пользователя, которого положил в контекст middleware сессии.
type ContextResolver struct{}

func (ContextResolver) CurrentUser(ctx context.Context) (*CurrentUser, error) {
	if u := FromContext(ctx); u != nil {
		return u, nil
	}
	return nil, ErrUnauthenticated
}
