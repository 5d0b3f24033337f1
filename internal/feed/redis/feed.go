// Package redis — лента изменений поверх Redis pub/sub: канал chatsync:<table>.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
)

const ChannelPrefix = "chatsync:"

type subscription struct {
	ps   *redis.PubSub
	done chan struct{}
}

type Feed struct {
	cli *redis.Client

	mu   sync.Mutex
	subs map[feed.Handle]*subscription
}

var (
	_ feed.Feed      = (*Feed)(nil)
	_ feed.Publisher = (*Feed)(nil)
)

func New(cli *redis.Client) *Feed {
	return &Feed{cli: cli, subs: make(map[feed.Handle]*subscription)}
}

func Channel(table feed.Table) string {
	return ChannelPrefix + string(table)
}

func (f *Feed) Publish(ctx context.Context, ev feed.Event) error {
	data, err := feed.Marshal(ev)
	if err != nil {
		return err
	}
	if err := f.cli.Publish(ctx, Channel(ev.Table), data).Err(); err != nil {
		return fmt.Errorf("redis feed publish %s: %w", ev.Table, err)
	}
	return nil
}

// Subscribe открывает отдельный PubSub на подписку и ждёт подтверждения от Redis.
func (f *Feed) Subscribe(ctx context.Context, table feed.Table, filter *feed.Filter, h feed.Handler) (feed.Handle, error) {
	if h == nil {
		return "", fmt.Errorf("redis feed: nil handler")
	}
	ps := f.cli.Subscribe(ctx, Channel(table))
	if _, err := ps.Receive(ctx); err != nil {
		if cerr := ps.Close(); cerr != nil {
			logger.Errorf("redis feed close %s: %v", table, cerr)
		}
		return "", fmt.Errorf("redis feed subscribe %s: %w", table, err)
	}

	sub := &subscription{ps: ps, done: make(chan struct{})}
	handle := feed.Handle(uuid.New().String())
	f.mu.Lock()
	f.subs[handle] = sub
	f.mu.Unlock()

	go func() {
		defer close(sub.done)
		for msg := range ps.Channel() {
			ev, err := feed.Unmarshal([]byte(msg.Payload))
			if err != nil {
				logger.Errorf("redis feed %s: %v", msg.Channel, err)
				continue
			}
			if filter.Match(ev.Row) {
				h(ev)
			}
		}
	}()
	return handle, nil
}

func (f *Feed) Unsubscribe(h feed.Handle) error {
	f.mu.Lock()
	sub, ok := f.subs[h]
	delete(f.subs, h)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("redis feed: unknown handle %s", h)
	}
	err := sub.ps.Close()
	<-sub.done
	if err != nil {
		return fmt.Errorf("redis feed unsubscribe: %w", err)
	}
	return nil
}
