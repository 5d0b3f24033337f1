package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
)

const (
	writeWait = 10 * time.Second
	joinWait  = 10 * time.Second
)

var ErrClosed = errors.New("ws feed: connection closed")

type subscription struct {
	table   feed.Table
	handler feed.Handler
}

// Client — feed.Feed поверх одного WebSocket-соединения. Обработчики вызываются из цикла чтения,
// поэтому Subscribe из обработчика заблокируется навсегда.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]subscription
	pending map[string]chan error
	closed  bool

	done chan struct{}
	once sync.Once
}

var (
	_ feed.Feed       = (*Client)(nil)
	_ feed.Connection = (*Client)(nil)
)

// Dial подключается к шлюзу. header обычно несёт X-Session-Id.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws feed dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws feed dial %s: %w", url, err)
	}
	c := &Client{
		conn:    conn,
		subs:    make(map[string]subscription),
		pending: make(map[string]chan error),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done закрывается, когда соединение потеряно или закрыто.
func (c *Client) Done() <-chan struct{} { return c.done }

// Subscribe отправляет join и ждёт joined от сервера.
func (c *Client) Subscribe(ctx context.Context, table feed.Table, filter *feed.Filter, h feed.Handler) (feed.Handle, error) {
	if h == nil {
		return "", fmt.Errorf("ws feed: nil handler")
	}
	ref := uuid.New().String()
	ack := make(chan error, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.subs[ref] = subscription{table: table, handler: h}
	c.pending[ref] = ack
	c.mu.Unlock()

	fail := func(err error) (feed.Handle, error) {
		c.mu.Lock()
		delete(c.subs, ref)
		delete(c.pending, ref)
		c.mu.Unlock()
		return "", err
	}

	if err := c.write(Frame{Type: FrameJoin, Ref: ref, Table: table, Filter: filter.String()}); err != nil {
		return fail(fmt.Errorf("ws feed join %s: %w", table, err))
	}

	timer := time.NewTimer(joinWait)
	defer timer.Stop()
	select {
	case err := <-ack:
		if err != nil {
			return fail(fmt.Errorf("ws feed join %s: %w", table, err))
		}
		return feed.Handle(ref), nil
	case <-ctx.Done():
		c.leave(ref)
		return fail(ctx.Err())
	case <-timer.C:
		c.leave(ref)
		return fail(fmt.Errorf("ws feed join %s: timeout", table))
	case <-c.done:
		return fail(ErrClosed)
	}
}

func (c *Client) Unsubscribe(h feed.Handle) error {
	ref := string(h)
	c.mu.Lock()
	_, ok := c.subs[ref]
	delete(c.subs, ref)
	closed := c.closed
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("ws feed: unknown handle %s", h)
	}
	if closed {
		return nil
	}
	return c.leave(ref)
}

func (c *Client) leave(ref string) error {
	if err := c.write(Frame{Type: FrameLeave, Ref: ref}); err != nil {
		return fmt.Errorf("ws feed leave: %w", err)
	}
	return nil
}

func (c *Client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(f)
}

// Close закрывает соединение. Безопасно вызывать многократно.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		werr := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			logger.Debugf("ws feed close frame: %v", werr)
		}
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for ref, ack := range c.pending {
			ack <- ErrClosed
			delete(c.pending, ref)
		}
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws feed read: %v", err)
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Type {
	case FrameJoined, FrameError:
		c.mu.Lock()
		ack, ok := c.pending[f.Ref]
		delete(c.pending, f.Ref)
		c.mu.Unlock()
		if !ok {
			if f.Type == FrameError {
				logger.Errorf("ws feed server error ref=%s: %s", f.Ref, f.Error)
			}
			return
		}
		if f.Type == FrameError {
			ack <- errors.New(f.Error)
		} else {
			ack <- nil
		}
	case FrameInsert:
		c.mu.Lock()
		sub, ok := c.subs[f.Ref]
		c.mu.Unlock()
		if !ok {
			return
		}
		sub.handler(feed.Event{Table: f.Table, Row: f.Row})
	default:
		logger.Debugf("ws feed: unexpected frame %q", f.Type)
	}
}
