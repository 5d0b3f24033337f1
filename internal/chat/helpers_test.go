package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatsync/internal/feed"
	memfeed "github.com/chatsync/internal/feed/memory"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
	"github.com/chatsync/internal/store/memory"
)

var (
	alice = model.Profile{ID: "u-alice", UserName: "Alice", PhoneNo: "+100"}
	bob   = model.Profile{ID: "u-bob", UserName: "Bob", PhoneNo: "+200"}
	carol = model.Profile{ID: "u-carol", UserName: "Carol", PhoneNo: "+300"}
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	for _, p := range []model.Profile{alice, bob, carol} {
		st.PutProfile(p)
	}
	return st
}

// seedChat создаёт чат с участниками и возвращает его id.
func seedChat(t *testing.T, st store.Store, name string, isGroup bool, userIDs ...string) string {
	t.Helper()
	ctx := context.Background()
	c, err := st.CreateConversation(ctx, name, isGroup)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	members := make([]model.ChatMember, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, model.ChatMember{UserID: id, Role: model.RoleMember})
	}
	if err := st.AddMembers(ctx, c.ID, members); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	return c.ID
}

func send(t *testing.T, st store.Store, chatID, senderID, content string) *model.Message {
	t.Helper()
	m, err := st.InsertMessage(context.Background(), chatID, senderID, content)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	return m
}

func markRead(t *testing.T, st store.Store, userID string, ids ...string) {
	t.Helper()
	rs := make([]model.ReadReceipt, 0, len(ids))
	for _, id := range ids {
		rs = append(rs, model.ReadReceipt{MessageID: id, UserID: userID})
	}
	if _, err := st.UpsertReceipts(context.Background(), rs); err != nil {
		t.Fatalf("UpsertReceipts: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingView struct {
	mu       sync.Mutex
	messages []MessagesUpdate
	lists    [][]model.ChatSummary
	errs     []error
}

func (v *recordingView) Messages(u MessagesUpdate) {
	v.mu.Lock()
	v.messages = append(v.messages, u)
	v.mu.Unlock()
}

func (v *recordingView) ChatList(chats []model.ChatSummary) {
	v.mu.Lock()
	v.lists = append(v.lists, chats)
	v.mu.Unlock()
}

func (v *recordingView) Error(err error) {
	v.mu.Lock()
	v.errs = append(v.errs, err)
	v.mu.Unlock()
}

func (v *recordingView) lastMessages() (MessagesUpdate, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.messages) == 0 {
		return MessagesUpdate{}, false
	}
	return v.messages[len(v.messages)-1], true
}

func (v *recordingView) lastList() []model.ChatSummary {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.lists) == 0 {
		return nil
	}
	return v.lists[len(v.lists)-1]
}

func (v *recordingView) errors() []error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]error(nil), v.errs...)
}

var errBoom = &store.TransientError{Op: "test", Err: errors.New("connection reset")}

// flakyStore подменяет отдельные методы Store ошибкой и считает записи.
type flakyStore struct {
	store.Store

	mu            sync.Mutex
	failInsert    error
	failCreate    error
	failAdd       error
	failMessages  error
	failUpsert    error
	creates       int
	upsertBatches [][]model.ReadReceipt
}

func (f *flakyStore) InsertMessage(ctx context.Context, chatID, senderID, content string) (*model.Message, error) {
	f.mu.Lock()
	err := f.failInsert
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.InsertMessage(ctx, chatID, senderID, content)
}

func (f *flakyStore) CreateConversation(ctx context.Context, name string, isGroup bool) (*model.Chat, error) {
	f.mu.Lock()
	err := f.failCreate
	f.creates++
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.CreateConversation(ctx, name, isGroup)
}

func (f *flakyStore) AddMembers(ctx context.Context, chatID string, members []model.ChatMember) error {
	f.mu.Lock()
	err := f.failAdd
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.AddMembers(ctx, chatID, members)
}

// CreateConversationWithMembers: failCreate и failAdd оба обрывают создание целиком.
func (f *flakyStore) CreateConversationWithMembers(ctx context.Context, name string, isGroup bool, members []model.ChatMember) (*model.Chat, error) {
	f.mu.Lock()
	err := f.failCreate
	if err == nil {
		err = f.failAdd
	}
	f.creates++
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.CreateConversationWithMembers(ctx, name, isGroup, members)
}

func (f *flakyStore) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	f.mu.Lock()
	err := f.failMessages
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.GetMessages(ctx, chatID)
}

func (f *flakyStore) UpsertReceipts(ctx context.Context, receipts []model.ReadReceipt) ([]model.ReadReceipt, error) {
	f.mu.Lock()
	err := f.failUpsert
	f.upsertBatches = append(f.upsertBatches, receipts)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.UpsertReceipts(ctx, receipts)
}

// flakyFeed отказывает в подписке на таблицу failTable.
type flakyFeed struct {
	*memfeed.Broker
	failTable feed.Table
}

func (f *flakyFeed) Subscribe(ctx context.Context, table feed.Table, filter *feed.Filter, h feed.Handler) (feed.Handle, error) {
	if table == f.failTable {
		return "", errors.New("feed unavailable")
	}
	return f.Broker.Subscribe(ctx, table, filter, h)
}
