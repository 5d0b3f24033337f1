// Package chat — ядро синхронизации чатов: прочитанность и счётчики непрочитанного,
// жизненный цикл временного чата и живое обновление открытого окна и списка чатов.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

// IsRead: своё сообщение прочитано, если есть отметка хотя бы от одного другого участника
// (в группе это "прочитал кто-то", а не "прочитали все"); чужое — если есть отметка от viewerID.
func IsRead(m model.Message, viewerID string) bool {
	own := m.SenderID == viewerID
	for _, r := range m.Receipts {
		if own && r.UserID != m.SenderID {
			return true
		}
		if !own && r.UserID == viewerID {
			return true
		}
	}
	return false
}

// MessageViews сохраняет порядок msgs. loc == nil означает time.Local.
func MessageViews(msgs []model.Message, viewerID string, loc *time.Location) []model.MessageView {
	if loc == nil {
		loc = time.Local
	}
	out := make([]model.MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.MessageView{
			ID:            m.ID,
			Content:       m.Content,
			Sender:        m.Sender.DisplayName(),
			SenderID:      m.SenderID,
			SenderPicture: m.Sender.Picture(),
			SenderPhone:   senderPhone(m.Sender),
			Timestamp:     m.CreatedAt.In(loc).Format("15:04"),
			CreatedAt:     m.CreatedAt,
			IsOwn:         m.SenderID == viewerID,
			IsRead:        IsRead(m, viewerID),
		})
	}
	return out
}

func senderPhone(p *model.Profile) string {
	if p == nil {
		return ""
	}
	return p.PhoneNo
}

// ReadState считает непрочитанное и ставит отметки о прочтении через Store.
type ReadState struct {
	store store.Store
	now   func() time.Time
}

func NewReadState(s store.Store) *ReadState {
	return &ReadState{store: s, now: time.Now}
}

// UnreadCount = |сообщения чата не от userID| − |те из них, что userID прочитал|.
func (r *ReadState) UnreadCount(ctx context.Context, chatID, userID string) (int, error) {
	candidates, err := r.store.MessageIDsFromOthers(ctx, chatID, userID)
	if err != nil {
		return 0, fmt.Errorf("chat.UnreadCount %s: %w", chatID, err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	read, err := r.store.ReadMessageIDs(ctx, userID, candidates)
	if err != nil {
		return 0, fmt.Errorf("chat.UnreadCount %s: %w", chatID, err)
	}
	seen := make(map[string]struct{}, len(read))
	for _, id := range read {
		seen[id] = struct{}{}
	}
	unread := 0
	for _, id := range candidates {
		if _, ok := seen[id]; !ok {
			unread++
		}
	}
	return unread, nil
}

// MarkRead ставит отметку (message, userID, now) на каждое ещё не прочитанное чужое сообщение чата
// и возвращает число новых отметок. Повторный вызов ничего не пишет; гонку двух вызовов
// закрывает upsert по (message_id, user_id).
func (r *ReadState) MarkRead(ctx context.Context, chatID, userID string) (int, error) {
	defer logger.DeferLogDuration("chat.MarkRead", time.Now())()
	ids, err := r.store.MessageIDsFromOthers(ctx, chatID, userID)
	if err != nil {
		return 0, fmt.Errorf("chat.MarkRead %s: %w", chatID, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	read, err := r.store.ReadMessageIDs(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("chat.MarkRead %s: %w", chatID, err)
	}
	seen := make(map[string]struct{}, len(read))
	for _, id := range read {
		seen[id] = struct{}{}
	}
	now := r.now().UTC()
	receipts := make([]model.ReadReceipt, 0, len(ids)-len(read))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		receipts = append(receipts, model.ReadReceipt{MessageID: id, UserID: userID, ReadAt: now})
	}
	if len(receipts) == 0 {
		return 0, nil
	}
	inserted, err := r.store.UpsertReceipts(ctx, receipts)
	if err != nil {
		return 0, fmt.Errorf("chat.MarkRead %s: %w", chatID, err)
	}
	return len(inserted), nil
}

// LastMessage возвращает nil для пустого чата. IsReadByOthers считается только для своих сообщений.
func (r *ReadState) LastMessage(ctx context.Context, chatID, viewerID string) (*model.LastMessage, error) {
	m, err := r.store.GetLastMessage(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat.LastMessage %s: %w", chatID, err)
	}
	if m == nil {
		return nil, nil
	}

	sender := m.Sender
	if sender == nil {
		sender, err = r.store.GetProfile(ctx, m.SenderID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("chat.LastMessage %s: %w", chatID, err)
		}
	}

	lm := &model.LastMessage{
		ID:         m.ID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		SenderName: sender.DisplayName(),
		SenderID:   m.SenderID,
	}
	if m.SenderID == viewerID {
		lm.IsReadByOthers, err = r.store.HasReceiptFromOthers(ctx, m.ID, m.SenderID)
		if err != nil {
			return nil, fmt.Errorf("chat.LastMessage %s: %w", chatID, err)
		}
	}
	return lm, nil
}
