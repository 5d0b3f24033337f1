// Package feed — контракт ленты изменений: push-уведомления о вставке строк в таблицу,
// опционально с фильтром по колонке.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Table string

const (
	TableMessages     Table = "messages"
	TableReadReceipts Table = "message_read_status"
	TableChats        Table = "chats"
	TableChatMembers  Table = "chat_members"
)

// Handle — непрозрачный идентификатор подписки.
type Handle string

// Event — уведомление о вставке строки: {table, newRow}.
type Event struct {
	Table Table           `json:"table"`
	Row   json.RawMessage `json:"new"`
}

// Decode разбирает Row в v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Row, v); err != nil {
		return fmt.Errorf("feed: decode %s row: %w", e.Table, err)
	}
	return nil
}

type Handler func(Event)

// Filter — фильтр равенства, в проводном виде "column=eq.value".
type Filter struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Eq собирает фильтр column=eq.value.
func Eq(column, value string) *Filter {
	return &Filter{Column: column, Value: value}
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// ParseFilter разбирает "column=eq.value". Пустая строка означает отсутствие фильтра.
func ParseFilter(s string) (*Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	col, val, ok := strings.Cut(s, "=eq.")
	if !ok || col == "" {
		return nil, fmt.Errorf("feed: unsupported filter %q", s)
	}
	return &Filter{Column: col, Value: val}, nil
}

// Match проверяет строку события против фильтра. Непарсящаяся строка не проходит непустой фильтр.
func (f *Filter) Match(row json.RawMessage) bool {
	if f == nil {
		return true
	}
	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return false
	}
	v, ok := fields[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// Feed — подписка на ленту. Каждая успешная Subscribe требует парного Unsubscribe.
type Feed interface {
	Subscribe(ctx context.Context, table Table, filter *Filter, h Handler) (Handle, error)
	Unsubscribe(h Handle) error
}

// Connection реализуют ленты поверх одного соединения (feed/ws). Done закрывается при его потере,
// после чего ни одна подписка событий не получит.
type Connection interface {
	Done() <-chan struct{}
}

// ErrDisconnected — соединение ленты потеряно.
var ErrDisconnected = errors.New("feed: connection lost")

// Publisher — сторона, которая публикует события вставки.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout публикует событие во все Publisher по очереди. Ошибка одного не мешает остальным.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewEvent сериализует строку в Event.
func NewEvent(table Table, row any) (Event, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Event{}, fmt.Errorf("feed: encode %s row: %w", table, err)
	}
	return Event{Table: table, Row: raw}, nil
}
