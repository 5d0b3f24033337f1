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

// State — состояние выбранного чата.
type State int

const (
	StateNone State = iota
	StateProvisional
	StatePersisted
)

func (s State) String() string {
	switch s {
	case StateProvisional:
		return "provisional"
	case StatePersisted:
		return "persisted"
	default:
		return "none"
	}
}

// StateOf переводит ссылку на чат в состояние; nil — StateNone.
func StateOf(ref model.ConversationRef) State {
	switch ref.(type) {
	case model.Provisional:
		return StateProvisional
	case model.Persisted:
		return StatePersisted
	default:
		return StateNone
	}
}

// DefaultChatName — имя нового личного чата, если у собеседника нет имени.
const DefaultChatName = "Chat"

// Reconciler открывает чаты с собеседником и превращает временный чат в настоящий.
type Reconciler struct {
	store  store.Store
	userID string
	now    func() time.Time
}

func NewReconciler(s store.Store, userID string) *Reconciler {
	return &Reconciler{store: s, userID: userID, now: time.Now}
}

// Open ищет личный чат с target в уже загруженном списке. Если не нашёл, возвращает
// Provisional и ничего не пишет в Store.
func (r *Reconciler) Open(target model.Profile, loaded []model.ChatSummary) model.ConversationRef {
	for _, c := range loaded {
		if c.IsTemporary || c.IsGroup {
			continue
		}
		if c.HasParticipant(target.ID) {
			return model.Persisted{ID: c.ID}
		}
	}
	return model.Provisional{Target: target, CreatedAt: r.now()}
}

// FindDirect ищет личный чат, где кроме текущего пользователя ровно один участник — targetUserID.
// При нескольких совпадениях (гонка двух клиентов) берётся самый ранний.
func (r *Reconciler) FindDirect(ctx context.Context, targetUserID string) (string, bool, error) {
	defer logger.DeferLogDuration("chat.FindDirect", time.Now())()
	ids, err := r.store.ListMembershipsFor(ctx, r.userID)
	if err != nil {
		return "", false, fmt.Errorf("chat.FindDirect: %w", err)
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	chats, err := r.store.GetConversations(ctx, ids)
	if err != nil {
		return "", false, fmt.Errorf("chat.FindDirect: %w", err)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].CreatedAt.Before(chats[j].CreatedAt) })

	for _, c := range chats {
		if c.IsGroup {
			continue
		}
		members, err := r.store.GetMembers(ctx, c.ID)
		if err != nil {
			return "", false, fmt.Errorf("chat.FindDirect %s: %w", c.ID, err)
		}
		others := make([]string, 0, 1)
		for _, m := range members {
			if m.UserID != r.userID {
				others = append(others, m.UserID)
			}
		}
		if len(others) == 1 && others[0] == targetUserID {
			return c.ID, true, nil
		}
	}
	return "", false, nil
}

// Promote перепроверяет Store (собеседник мог создать чат раньше) и при необходимости создаёт
// чат с двумя участниками. Одновременный Promote из двух сессий может дать дубль: это допускается.
// Ошибки Store возвращаются как есть, повторов нет.
func (r *Reconciler) Promote(ctx context.Context, p model.Provisional) (model.Persisted, error) {
	defer logger.DeferLogDuration("chat.Promote", time.Now())()
	if p.Target.ID == "" {
		return model.Persisted{}, fmt.Errorf("chat.Promote: provisional chat without target")
	}
	if id, ok, err := r.FindDirect(ctx, p.Target.ID); err != nil {
		return model.Persisted{}, fmt.Errorf("chat.Promote: %w", err)
	} else if ok {
		logger.Debugf("chat.Promote: reuse chat=%s target=%s", id, p.Target.ID)
		return model.Persisted{ID: id}, nil
	}

	name := p.Target.UserName
	if name == "" {
		name = DefaultChatName
	}
	now := r.now().UTC()
	members := []model.ChatMember{
		{UserID: r.userID, Role: model.RoleMember, JoinedAt: now},
		{UserID: p.Target.ID, Role: model.RoleMember, JoinedAt: now},
	}
	c, err := r.store.CreateConversationWithMembers(ctx, name, false, members)
	if err != nil {
		return model.Persisted{}, fmt.Errorf("chat.Promote create: %w", err)
	}
	logger.Infof("chat.Promote: created chat=%s user=%s target=%s", c.ID, r.userID, p.Target.ID)
	return model.Persisted{ID: c.ID}, nil
}
