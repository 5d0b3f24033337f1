package chat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

// Lister собирает список чатов пользователя для боковой панели.
type Lister struct {
	store store.Store
	reads *ReadState
}

func NewLister(s store.Store, reads *ReadState) *Lister {
	return &Lister{store: s, reads: reads}
}

// ChatList возвращает чаты userID, новые сверху: по последнему сообщению, иначе по updated_at.
// Участники без профиля в Participants не попадают.
func (l *Lister) ChatList(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	defer logger.DeferLogDuration("chat.ChatList", time.Now())()
	ids, err := l.store.ListMembershipsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat.ChatList: %w", err)
	}
	if len(ids) == 0 {
		return []model.ChatSummary{}, nil
	}
	chats, err := l.store.GetConversations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("chat.ChatList: %w", err)
	}

	out := make([]model.ChatSummary, 0, len(chats))
	for _, c := range chats {
		s, err := l.summary(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortTime().After(out[j].SortTime()) })
	return out, nil
}

func (l *Lister) summary(ctx context.Context, c model.Chat, userID string) (model.ChatSummary, error) {
	members, err := l.store.GetMembers(ctx, c.ID)
	if err != nil {
		return model.ChatSummary{}, fmt.Errorf("chat.ChatList members %s: %w", c.ID, err)
	}
	last, err := l.reads.LastMessage(ctx, c.ID, userID)
	if err != nil {
		return model.ChatSummary{}, err
	}
	unread, err := l.reads.UnreadCount(ctx, c.ID, userID)
	if err != nil {
		return model.ChatSummary{}, err
	}

	s := model.ChatSummary{
		ID:           c.ID,
		IsGroup:      c.IsGroup,
		UpdatedAt:    c.UpdatedAt,
		Participants: make([]model.Profile, 0, len(members)),
		LastMessage:  last,
		UnreadCount:  unread,
	}
	if c.Name != nil {
		s.Name = *c.Name
	}
	for _, m := range members {
		if m.Profile != nil {
			s.Participants = append(s.Participants, *m.Profile)
		}
	}
	return s, nil
}

// provisionalSummary — строка временного чата для списка.
func provisionalSummary(p model.Provisional) model.ChatSummary {
	return model.ChatSummary{
		ID:           p.Token(),
		Name:         p.Target.UserName,
		UpdatedAt:    p.CreatedAt,
		Participants: []model.Profile{p.Target},
		IsTemporary:  true,
	}
}
