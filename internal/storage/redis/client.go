package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatsync/internal/storage"
)

const sessionPrefix = "session:"

type Client struct {
	cli *redis.Client
}

var _ storage.SessionStore = (*Client)(nil)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient оборачивает уже подключённый клиент (общий с лентой изменений).
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

// Redis — нижележащий клиент для ленты изменений.
func (c *Client) Redis() *redis.Client {
	return c.cli
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetSession сохраняет session:{id} → user id.
func (c *Client) SetSession(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	return c.cli.Set(ctx, sessionPrefix+sessionID, userID, ttl).Err()
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (string, error) {
	val, err := c.cli.Get(ctx, sessionPrefix+sessionID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.cli.Del(ctx, sessionPrefix+sessionID).Err()
}
