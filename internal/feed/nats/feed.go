// Package nats — лента изменений поверх NATS core: subject chatsync.<table>.
package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
)

const SubjectPrefix = "chatsync."

type Feed struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs map[feed.Handle]*nats.Subscription
}

var (
	_ feed.Feed      = (*Feed)(nil)
	_ feed.Publisher = (*Feed)(nil)
)

func New(nc *nats.Conn) *Feed {
	return &Feed{nc: nc, subs: make(map[feed.Handle]*nats.Subscription)}
}

func Subject(table feed.Table) string {
	return SubjectPrefix + string(table)
}

func (f *Feed) Publish(ctx context.Context, ev feed.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := feed.Marshal(ev)
	if err != nil {
		return err
	}
	if err := f.nc.Publish(Subject(ev.Table), data); err != nil {
		return fmt.Errorf("nats feed publish %s: %w", ev.Table, err)
	}
	return nil
}

// Subscribe регистрирует подписку и делает Flush, чтобы сервер знал о ней до возврата.
func (f *Feed) Subscribe(ctx context.Context, table feed.Table, filter *feed.Filter, h feed.Handler) (feed.Handle, error) {
	if h == nil {
		return "", fmt.Errorf("nats feed: nil handler")
	}
	sub, err := f.nc.Subscribe(Subject(table), func(m *nats.Msg) {
		ev, err := feed.Unmarshal(m.Data)
		if err != nil {
			logger.Errorf("nats feed %s: %v", m.Subject, err)
			return
		}
		if filter.Match(ev.Row) {
			h(ev)
		}
	})
	if err != nil {
		return "", fmt.Errorf("nats feed subscribe %s: %w", table, err)
	}
	if err := f.nc.FlushWithContext(ctx); err != nil {
		if uerr := sub.Unsubscribe(); uerr != nil {
			logger.Errorf("nats feed unsubscribe %s: %v", table, uerr)
		}
		return "", fmt.Errorf("nats feed flush %s: %w", table, err)
	}

	handle := feed.Handle(uuid.New().String())
	f.mu.Lock()
	f.subs[handle] = sub
	f.mu.Unlock()
	return handle, nil
}

func (f *Feed) Unsubscribe(h feed.Handle) error {
	f.mu.Lock()
	sub, ok := f.subs[h]
	delete(f.subs, h)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("nats feed: unknown handle %s", h)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats feed unsubscribe: %w", err)
	}
	return nil
}
