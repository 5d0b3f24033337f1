// Package memory — Store в памяти процесса для тестов и режима -dev без Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

type receiptKey struct {
	messageID string
	userID    string
}

type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	last     time.Time
	profiles map[string]model.Profile
	chats    map[string]model.Chat
	members  []model.ChatMember
	messages []model.Message
	receipts map[receiptKey]model.ReadReceipt
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:      time.Now,
		profiles: make(map[string]model.Profile),
		chats:    make(map[string]model.Chat),
		receipts: make(map[receiptKey]model.ReadReceipt),
	}
}

// SetClock подменяет источник времени (для тестов).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// tick возвращает строго возрастающее время, чтобы порядок created_at совпадал с порядком вставки.
func (s *Store) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// PutProfile добавляет или заменяет профиль.
func (s *Store) PutProfile(p model.Profile) {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

// Counts — число строк в chats, chat_members, messages, message_read_status.
func (s *Store) Counts() (chats, members, messages, receipts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats), len(s.members), len(s.messages), len(s.receipts)
}

func (s *Store) ListMembershipsFor(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, 8)
	for _, m := range s.members {
		if m.UserID == userID {
			ids = append(ids, m.ChatID)
		}
	}
	return ids, nil
}

func (s *Store) GetConversations(ctx context.Context, ids []string) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]model.Chat, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chats[id]; ok {
			chats = append(chats, c)
		}
	}
	return chats, nil
}

func (s *Store) GetMembers(ctx context.Context, chatID string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Member, 0, 2)
	for _, m := range s.members {
		if m.ChatID != chatID {
			continue
		}
		mem := model.Member{UserID: m.UserID}
		if p, ok := s.profiles[m.UserID]; ok {
			p := p
			mem.Profile = &p
		}
		out = append(out, mem)
	}
	return out, nil
}

func (s *Store) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0, 16)
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, s.enrich(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetLastMessage(ctx context.Context, chatID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *model.Message
	for i := range s.messages {
		m := s.messages[i]
		if m.ChatID != chatID {
			continue
		}
		if last == nil || !m.CreatedAt.Before(last.CreatedAt) {
			last = &m
		}
	}
	if last == nil {
		return nil, nil
	}
	enriched := s.enrich(*last)
	return &enriched, nil
}

// enrich вызывается под read-блокировкой.
func (s *Store) enrich(m model.Message) model.Message {
	if p, ok := s.profiles[m.SenderID]; ok {
		p := p
		m.Sender = &p
	}
	m.Receipts = nil
	for k, r := range s.receipts {
		if k.messageID == m.ID {
			m.Receipts = append(m.Receipts, r)
		}
	}
	sort.Slice(m.Receipts, func(i, j int) bool { return m.Receipts[i].ReadAt.Before(m.Receipts[j].ReadAt) })
	return m
}

func (s *Store) InsertMessage(ctx context.Context, chatID, senderID, content string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	m := model.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: s.tick(),
	}
	s.messages = append(s.messages, m)
	c.UpdatedAt = m.CreatedAt
	s.chats[chatID] = c
	return &m, nil
}

func (s *Store) UpsertReceipts(ctx context.Context, receipts []model.ReadReceipt) ([]model.ReadReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := make([]model.ReadReceipt, 0, len(receipts))
	for _, r := range receipts {
		k := receiptKey{messageID: r.MessageID, userID: r.UserID}
		if _, ok := s.receipts[k]; ok {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.ReadAt.IsZero() {
			r.ReadAt = s.tick()
		}
		s.receipts[k] = r
		inserted = append(inserted, r)
	}
	return inserted, nil
}

func (s *Store) FindUsers(ctx context.Context, query, excludeUserID string, limit int) ([]model.Profile, error) {
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Profile, 0, limit)
	for _, p := range s.profiles {
		if p.ID == excludeUserID {
			continue
		}
		if strings.Contains(strings.ToLower(p.UserName), q) || strings.Contains(strings.ToLower(p.PhoneNo), q) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateConversation(ctx context.Context, name string, isGroup bool) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.newChat(name, isGroup)
	return &c, nil
}

func (s *Store) newChat(name string, isGroup bool) model.Chat {
	now := s.tick()
	c := model.Chat{
		ID:        uuid.New().String(),
		IsGroup:   isGroup,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if name != "" {
		c.Name = &name
	}
	s.chats[c.ID] = c
	return c
}

func (s *Store) AddMembers(ctx context.Context, chatID string, members []model.ChatMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return store.ErrNotFound
	}
	s.appendMembers(chatID, members)
	return nil
}

func (s *Store) CreateConversationWithMembers(ctx context.Context, name string, isGroup bool, members []model.ChatMember) (*model.Chat, error) {
	for _, m := range members {
		if m.UserID == "" {
			return nil, fmt.Errorf("memory store: member without user id")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.newChat(name, isGroup)
	s.appendMembers(c.ID, members)
	return &c, nil
}

func (s *Store) appendMembers(chatID string, members []model.ChatMember) {
	for _, m := range members {
		m.ChatID = chatID
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.JoinedAt.IsZero() {
			m.JoinedAt = s.tick()
		}
		s.members = append(s.members, m)
	}
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) MessageIDsFromOthers(ctx context.Context, chatID, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, 16)
	for _, m := range s.messages {
		if m.ChatID == chatID && m.SenderID != userID {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (s *Store) ReadMessageIDs(ctx context.Context, userID string, messageIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		if _, ok := s.receipts[receiptKey{messageID: id, userID: userID}]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) HasReceiptFromOthers(ctx context.Context, messageID, senderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.receipts {
		if k.messageID == messageID && k.userID != senderID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetMessageChatID(ctx context.Context, messageID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == messageID {
			return m.ChatID, nil
		}
	}
	return "", store.ErrNotFound
}
