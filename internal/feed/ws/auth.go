package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chatsync/internal/identity"
)

// ErrSignInDisabled — шлюз запущен без -dev и не выдаёт сессии по user_id.
var ErrSignInDisabled = errors.New("ws feed: sign-in disabled on gateway")

// Gateway — HTTP-часть шлюза (/auth/*) для клиента ленты: сессия проверяется тем же сервисом,
// которому потом передаётся X-Session-Id.
type Gateway struct {
	base string
	http *http.Client
}

// NewGateway принимает адрес /realtime (ws:// или wss://) и выводит из него базовый HTTP-адрес.
func NewGateway(realtimeURL string) *Gateway {
	base := strings.TrimSuffix(strings.TrimRight(realtimeURL, "/"), "/realtime")
	switch {
	case strings.HasPrefix(base, "wss://"):
		base = "https://" + strings.TrimPrefix(base, "wss://")
	case strings.HasPrefix(base, "ws://"):
		base = "http://" + strings.TrimPrefix(base, "ws://")
	}
	return &Gateway{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

// RealtimeURL — адрес WebSocket-эндпоинта шлюза.
func (g *Gateway) RealtimeURL() string {
	switch {
	case strings.HasPrefix(g.base, "https://"):
		return "wss://" + strings.TrimPrefix(g.base, "https://") + "/realtime"
	case strings.HasPrefix(g.base, "http://"):
		return "ws://" + strings.TrimPrefix(g.base, "http://") + "/realtime"
	}
	return g.base + "/realtime"
}

type signInBody struct {
	UserID string `json:"user_id"`
}

type signInReply struct {
	SessionID string `json:"session_id"`
}

type errorReply struct {
	Error string `json:"error"`
}

// SignIn открывает сессию на шлюзе. Работает только против шлюза с -dev.
func (g *Gateway) SignIn(ctx context.Context, userID string) (string, error) {
	body, err := json.Marshal(signInBody{UserID: userID})
	if err != nil {
		return "", fmt.Errorf("ws gateway sign in: %w", err)
	}
	resp, err := g.do(ctx, http.MethodPost, "/auth/sign-in", "", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ws gateway sign in: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// 404 бывает и на неизвестного пользователя, и на отсутствующий маршрут.
		var e errorReply
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error == "user not found" {
			return "", fmt.Errorf("ws gateway sign in user=%s: %w", userID, identity.ErrUnknownUser)
		}
		return "", ErrSignInDisabled
	default:
		return "", fmt.Errorf("ws gateway sign in: status %d", resp.StatusCode)
	}
	var out signInReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ws gateway sign in decode: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("ws gateway sign in: empty session id")
	}
	return out.SessionID, nil
}

// Me возвращает пользователя сессии. Просроченная или чужая сессия — identity.ErrUnauthenticated.
func (g *Gateway) Me(ctx context.Context, sessionID string) (*identity.CurrentUser, error) {
	resp, err := g.do(ctx, http.MethodGet, "/auth/me", sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("ws gateway me: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, identity.ErrUnauthenticated
	default:
		return nil, fmt.Errorf("ws gateway me: status %d", resp.StatusCode)
	}
	var u identity.CurrentUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("ws gateway me decode: %w", err)
	}
	return &u, nil
}

func (g *Gateway) SignOut(ctx context.Context, sessionID string) error {
	resp, err := g.do(ctx, http.MethodPost, "/auth/sign-out", sessionID, nil)
	if err != nil {
		return fmt.Errorf("ws gateway sign out: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("ws gateway sign out: status %d", resp.StatusCode)
	}
	return nil
}

// Header — заголовки для Dial с этой сессией.
func Header(sessionID string) http.Header {
	return http.Header{"X-Session-Id": []string{sessionID}}
}

func (g *Gateway) do(ctx context.Context, method, path, sessionID string, body *bytes.Reader) (*http.Response, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, g.base+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, g.base+path, nil)
	}
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set("X-Session-Id", sessionID)
	}
	return g.http.Do(req)
}
