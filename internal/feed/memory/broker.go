// Package memory — лента изменений внутри процесса: Broker одновременно Publisher и Feed.
// Используется в тестах, в -dev и как точка fan-out для pgnotify.Listener.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chatsync/internal/feed"
)

type subscription struct {
	table   feed.Table
	filter  *feed.Filter
	handler feed.Handler
}

type Broker struct {
	mu   sync.RWMutex
	subs map[feed.Handle]subscription
}

func New() *Broker {
	return &Broker{subs: make(map[feed.Handle]subscription)}
}

func (b *Broker) Subscribe(ctx context.Context, table feed.Table, filter *feed.Filter, h feed.Handler) (feed.Handle, error) {
	if h == nil {
		return "", fmt.Errorf("memory feed: nil handler")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := feed.Handle(uuid.New().String())
	b.mu.Lock()
	b.subs[handle] = subscription{table: table, filter: filter, handler: h}
	b.mu.Unlock()
	return handle, nil
}

func (b *Broker) Unsubscribe(h feed.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[h]; !ok {
		return fmt.Errorf("memory feed: unknown handle %s", h)
	}
	delete(b.subs, h)
	return nil
}

// Publish синхронно вызывает обработчики подходящих подписок. Обработчики вызываются вне блокировки,
// поэтому из них можно подписываться и отписываться.
func (b *Broker) Publish(ctx context.Context, ev feed.Event) error {
	b.mu.RLock()
	targets := make([]feed.Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.table == ev.Table && s.filter.Match(ev.Row) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(ev)
	}
	return nil
}

// Len — число активных подписок.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
