package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/identity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
)

type Handler struct {
	hub            *Hub
	sessions       *identity.Sessions
	allowedOrigins string
}

// NewHandler. allowedOrigins — как в CORS (через запятую или "*").
func NewHandler(hub *Hub, sessions *identity.Sessions, allowedOrigins string) *Handler {
	return &Handler{hub: hub, sessions: sessions, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS поднимает WebSocket для пользователя, которого положил в контекст SessionAuth.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("realtime upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(h.hub, conn, userID)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}

type signInRequest struct {
	UserID string `json:"user_id"`
}

type signInResponse struct {
	SessionID string                `json:"session_id"`
	User      *identity.CurrentUser `json:"user"`
}

// SignIn открывает сессию для существующего профиля.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	sid, err := h.sessions.SignIn(r.Context(), req.UserID)
	if errors.Is(err, identity.ErrUnknownUser) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		logger.Errorf("realtime sign in user=%s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}
	u, err := h.sessions.Resolve(r.Context(), sid)
	if err != nil {
		logger.Errorf("realtime sign in resolve user=%s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{SessionID: sid, User: u})
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	if err := h.sessions.SignOut(r.Context(), sessionID); err != nil {
		logger.Errorf("realtime sign out session_id=%s: %v", middleware.MaskSessionID(sessionID), err)
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := identity.ContextResolver{}.CurrentUser(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	conns, joins := h.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": conns, "subscriptions": joins})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("realtime write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
