// Package realtime — серверная половина ленты изменений: WebSocket-шлюз, который раздаёт
// события вставки подписанным клиентам.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/feed/ws"
	"github.com/chatsync/internal/logger"
)

// Authorizer решает, можно ли пользователю подписаться на table с filter.
type Authorizer interface {
	AuthorizeJoin(ctx context.Context, userID string, table feed.Table, filter *feed.Filter) error
}

var knownTables = map[feed.Table]bool{
	feed.TableMessages:     true,
	feed.TableReadReceipts: true,
	feed.TableChats:        true,
	feed.TableChatMembers:  true,
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	total   int

	limits config.RealtimeConfig
	auth   Authorizer

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

var _ feed.Publisher = (*Hub)(nil)

// NewHub подставляет значения по умолчанию для незаданных лимитов. auth == nil пропускает все join.
func NewHub(limits config.RealtimeConfig, auth Authorizer) *Hub {
	if limits.MaxConnections <= 0 {
		limits.MaxConnections = 10000
	}
	if limits.SendBufferSize <= 0 {
		limits.SendBufferSize = 256
	}
	if limits.WriteTimeout <= 0 {
		limits.WriteTimeout = 10 * time.Second
	}
	if limits.PongTimeout <= 0 {
		limits.PongTimeout = 60 * time.Second
	}
	if limits.MaxMessageSize <= 0 {
		limits.MaxMessageSize = 4096
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		limits:     limits,
		auth:       auth,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.limits.MaxConnections {
		h.mu.Unlock()
		logger.Errorf("realtime connection limit reached (%d), rejecting user=%s", h.limits.MaxConnections, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
	logger.Debugf("realtime connect user=%s", c.userID)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	c.Close()
	logger.Debugf("realtime disconnect user=%s", c.userID)
}

// HandleFrame обрабатывает join и leave от клиента.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, f ws.Frame) {
	switch f.Type {
	case ws.FrameJoin:
		h.handleJoin(ctx, c, f)
	case ws.FrameLeave:
		c.removeJoin(f.Ref)
	default:
		h.sendToClient(c, ws.Frame{Type: ws.FrameError, Ref: f.Ref, Error: "unknown frame type"})
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, f ws.Frame) {
	defer logger.DeferLogDuration("realtime.handleJoin", time.Now())()
	if f.Ref == "" || !knownTables[f.Table] {
		h.sendToClient(c, ws.Frame{Type: ws.FrameError, Ref: f.Ref, Error: "ref and known table required"})
		return
	}
	filter, err := feed.ParseFilter(f.Filter)
	if err != nil {
		h.sendToClient(c, ws.Frame{Type: ws.FrameError, Ref: f.Ref, Error: err.Error()})
		return
	}
	if h.auth != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := h.auth.AuthorizeJoin(ctx, c.userID, f.Table, filter)
		cancel()
		if err != nil {
			logger.Errorf("realtime join denied user=%s table=%s filter=%s: %v", c.userID, f.Table, filter, err)
			h.sendToClient(c, ws.Frame{Type: ws.FrameError, Ref: f.Ref, Error: "forbidden"})
			return
		}
	}
	c.addJoin(f.Ref, join{table: f.Table, filter: filter})
	h.sendToClient(c, ws.Frame{Type: ws.FrameJoined, Ref: f.Ref})
}

// Publish раздаёт событие всем подходящим подпискам всех клиентов.
func (h *Hub) Publish(ctx context.Context, ev feed.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !knownTables[ev.Table] {
		return fmt.Errorf("realtime: unknown table %q", ev.Table)
	}
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		for _, ref := range c.matches(ev) {
			h.sendToClient(c, ws.Frame{Type: ws.FrameInsert, Ref: ref, Table: ev.Table, Row: ev.Row})
		}
	}
	return nil
}

// Stats — число соединений и активных подписок.
func (h *Hub) Stats() (connections, joins int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.clients {
		for c := range clients {
			joins += c.joinCount()
		}
	}
	return h.total, joins
}

func (h *Hub) sendToClient(c *Client, f ws.Frame) {
	select {
	case c.send <- f:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("realtime send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
