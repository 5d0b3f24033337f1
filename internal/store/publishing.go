package store

import (
	"context"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// Publishing оборачивает Store и после успешной записи публикует события вставки в ленту.
// Нужен, когда ленту не питают триггеры БД через realtime-шлюз (например, memory-брокер в одном процессе).
type Publishing struct {
	Store
	pub feed.Publisher
}

func NewPublishing(s Store, pub feed.Publisher) *Publishing {
	return &Publishing{Store: s, pub: pub}
}

func (p *Publishing) InsertMessage(ctx context.Context, chatID, senderID, content string) (*model.Message, error) {
	m, err := p.Store.InsertMessage(ctx, chatID, senderID, content)
	if err != nil {
		return nil, err
	}
	row := *m
	row.Sender, row.Receipts = nil, nil
	p.publish(ctx, feed.TableMessages, row)
	return m, nil
}

// UpsertReceipts публикует только вставленные отметки, как триггер AFTER INSERT.
func (p *Publishing) UpsertReceipts(ctx context.Context, receipts []model.ReadReceipt) ([]model.ReadReceipt, error) {
	inserted, err := p.Store.UpsertReceipts(ctx, receipts)
	if err != nil {
		return nil, err
	}
	for _, r := range inserted {
		p.publish(ctx, feed.TableReadReceipts, r)
	}
	return inserted, nil
}

// Запись уже прошла: сбой публикации только логируем, локальный refetch всё равно будет.
func (p *Publishing) publish(ctx context.Context, table feed.Table, row any) {
	ev, err := feed.NewEvent(table, row)
	if err != nil {
		logger.Errorf("store publish %s: %v", table, err)
		return
	}
	if err := p.pub.Publish(ctx, ev); err != nil {
		logger.Errorf("store publish %s: %v", table, err)
	}
}
