package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/feed/ws"
	"github.com/chatsync/internal/logger"
)

// bufPool pools bytes.Buffer for JSON encoding in writePump.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

type join struct {
	table  feed.Table
	filter *feed.Filter
}

// Client — одно WebSocket-соединение подписчика.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan ws.Frame
	userID string

	mu    sync.RWMutex
	joins map[string]join

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan ws.Frame, hub.limits.SendBufferSize),
		userID: userID,
		joins:  make(map[string]join),
		done:   make(chan struct{}),
	}
}

func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) addJoin(ref string, j join) {
	c.mu.Lock()
	c.joins[ref] = j
	c.mu.Unlock()
}

func (c *Client) removeJoin(ref string) {
	c.mu.Lock()
	delete(c.joins, ref)
	c.mu.Unlock()
}

// matches возвращает refs подписок клиента, которым подходит событие.
func (c *Client) matches(ev feed.Event) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var refs []string
	for ref, j := range c.joins {
		if j.table == ev.Table && j.filter.Match(ev.Row) {
			refs = append(refs, ref)
		}
	}
	return refs
}

func (c *Client) joinCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.joins)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pongWait := c.hub.limits.PongTimeout
	c.conn.SetReadLimit(c.hub.limits.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("realtime set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("realtime read error user=%s: %v", c.userID, err)
			}
			return
		}

		var f ws.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Errorf("realtime unmarshal error user=%s: %v", c.userID, err)
			continue
		}
		c.hub.HandleFrame(ctx, c, f)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	writeWait := c.hub.limits.WriteTimeout
	ticker := time.NewTicker(c.hub.limits.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("realtime close message user=%s: %v", c.userID, err)
			}
			return
		case f := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("realtime set write deadline user=%s: %v", c.userID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(f); err != nil {
				bufPool.Put(buf)
				logger.Errorf("realtime marshal error user=%s: %v", c.userID, err)
				continue
			}
			data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("realtime set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
