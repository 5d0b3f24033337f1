package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/store"
)

var ErrUnknownUser = errors.New("identity: unknown user")

// ProfileSource — откуда берутся профили; store.Store подходит.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// Sessions — вход и выход по session id, который хранится в SessionStore с TTL.
type Sessions struct {
	store    storage.SessionStore
	profiles ProfileSource
	ttl      time.Duration
}

func NewSessions(s storage.SessionStore, profiles ProfileSource, ttl time.Duration) *Sessions {
	return &Sessions{store: s, profiles: profiles, ttl: ttl}
}

// SignIn открывает сессию для существующего профиля и возвращает её id.
func (s *Sessions) SignIn(ctx context.Context, userID string) (string, error) {
	if _, err := s.profiles.GetProfile(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUnknownUser
		}
		return "", fmt.Errorf("identity.SignIn: %w", err)
	}
	sessionID := uuid.New().String()
	if err := s.store.SetSession(ctx, sessionID, userID, s.ttl); err != nil {
		return "", fmt.Errorf("identity.SignIn: %w", err)
	}
	logger.Infof("identity: sign in user=%s", userID)
	return sessionID, nil
}

func (s *Sessions) SignOut(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("identity.SignOut: %w", err)
	}
	return nil
}

// Resolve возвращает пользователя сессии. Профиль может отсутствовать: тогда имя "Unknown".
func (s *Sessions) Resolve(ctx context.Context, sessionID string) (*CurrentUser, error) {
	if sessionID == "" {
		return nil, ErrUnauthenticated
	}
	userID, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("identity.Resolve: %w", err)
	}
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("identity.Resolve: %w", err)
	}
	return fromProfile(userID, p), nil
}

// Session — Resolver поверх одной открытой сессии.
func (s *Sessions) Session(sessionID string) Resolver {
	return sessionResolver{sessions: s, id: sessionID}
}

type sessionResolver struct {
	sessions *Sessions
	id       string
}

func (r sessionResolver) CurrentUser(ctx context.Context) (*CurrentUser, error) {
	return r.sessions.Resolve(ctx, r.id)
}

func fromProfile(userID string, p *model.Profile) *CurrentUser {
	u := &CurrentUser{ID: userID, DisplayName: p.DisplayName(), Metadata: map[string]string{}}
	if p != nil {
		if p.PhoneNo != "" {
			u.Metadata["phone_no"] = p.PhoneNo
		}
		if pic := p.Picture(); pic != "" {
			u.Metadata["profile_picture"] = pic
		}
	}
	return u
}
