// Package pgnotify читает LISTEN-канал Postgres, куда триггеры миграции 002 кладут вставки,
// и пересылает события в feed.Publisher.
package pgnotify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
)

// Channel — канал, в который пишет триггер chatsync_notify_insert из миграции 002.
const Channel = "chatsync_changes"

const (
	retryMin = 500 * time.Millisecond
	retryMax = 30 * time.Second
)

type Listener struct {
	pool    *pgxpool.Pool
	channel string
	pub     feed.Publisher
}

func New(pool *pgxpool.Pool, pub feed.Publisher) *Listener {
	return &Listener{pool: pool, channel: Channel, pub: pub}
}

// Run слушает канал до отмены ctx. Обрыв соединения переподключается с экспоненциальной задержкой.
func (l *Listener) Run(ctx context.Context) error {
	delay := retryMin
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Errorf("pgnotify %s: %v; retry in %v", l.channel, err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMax {
			delay = retryMax
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Infof("pgnotify: listening on %s", l.channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		ev, err := ParsePayload(n.Payload)
		if err != nil {
			logger.Errorf("pgnotify %s: %v", l.channel, err)
			continue
		}
		if err := l.pub.Publish(ctx, ev); err != nil {
			logger.Errorf("pgnotify publish %s: %v", ev.Table, err)
		}
	}
}

// ParsePayload разбирает {"table": ..., "new": {...}} из chatsync_notify_insert().
func ParsePayload(payload string) (feed.Event, error) {
	return feed.Unmarshal([]byte(payload))
}
