package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/storage"
)

type item struct {
	val string
	exp time.Time
}

type Client struct {
	mu       sync.RWMutex
	now      func() time.Time
	sessions map[string]item
}

var _ storage.SessionStore = (*Client)(nil)

func New() *Client {
	return &Client{now: time.Now, sessions: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetSession(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := item{val: userID}
	if ttl > 0 {
		it.exp = c.now().Add(ttl)
	}
	c.sessions[sessionID] = it
	return nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.sessions[sessionID]
	if !ok || (!v.exp.IsZero() && c.now().After(v.exp)) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}
