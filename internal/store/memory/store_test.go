package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

func seed(t *testing.T) (*Store, string) {
	t.Helper()
	ctx := context.Background()
	s := New()
	s.PutProfile(model.Profile{ID: "a", UserName: "Alice", PhoneNo: "+7 900 111"})
	s.PutProfile(model.Profile{ID: "b", UserName: "Bob", PhoneNo: "+7 900 222"})
	s.PutProfile(model.Profile{ID: "c", UserName: "Carol", PhoneNo: "+1 555 333"})
	c, err := s.CreateConversation(ctx, "Bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddMembers(ctx, c.ID, []model.ChatMember{
		{UserID: "a", Role: model.RoleMember},
		{UserID: "b", Role: model.RoleMember},
	}); err != nil {
		t.Fatal(err)
	}
	return s, c.ID
}

func TestUpsertReceiptsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, chatID := seed(t)
	m, err := s.InsertMessage(ctx, chatID, "b", "hi")
	if err != nil {
		t.Fatal(err)
	}

	r := []model.ReadReceipt{{MessageID: m.ID, UserID: "a"}}
	if inserted, err := s.UpsertReceipts(ctx, r); err != nil || len(inserted) != 1 || inserted[0].ID == "" {
		t.Fatalf("first upsert = %+v, %v", inserted, err)
	}
	if inserted, err := s.UpsertReceipts(ctx, r); err != nil || len(inserted) != 0 {
		t.Fatalf("second upsert = %+v, %v", inserted, err)
	}
	if _, _, _, n := s.Counts(); n != 1 {
		t.Fatalf("receipts = %d, want 1", n)
	}

	msgs, _ := s.GetMessages(ctx, chatID)
	if len(msgs) != 1 || len(msgs[0].Receipts) != 1 || msgs[0].Sender == nil || msgs[0].Sender.UserName != "Bob" {
		t.Fatalf("GetMessages = %+v", msgs)
	}
}

func TestMessagesOrderedAndLast(t *testing.T) {
	ctx := context.Background()
	s, chatID := seed(t)

	if last, err := s.GetLastMessage(ctx, chatID); err != nil || last != nil {
		t.Fatalf("empty chat last = %v, %v", last, err)
	}
	for _, txt := range []string{"one", "two", "three"} {
		if _, err := s.InsertMessage(ctx, chatID, "a", txt); err != nil {
			t.Fatal(err)
		}
	}
	msgs, _ := s.GetMessages(ctx, chatID)
	if len(msgs) != 3 || msgs[0].Content != "one" || msgs[2].Content != "three" {
		t.Fatalf("order = %+v", msgs)
	}
	last, _ := s.GetLastMessage(ctx, chatID)
	if last == nil || last.Content != "three" {
		t.Fatalf("last = %+v", last)
	}
	chatOf, err := s.GetMessageChatID(ctx, last.ID)
	if err != nil || chatOf != chatID {
		t.Fatalf("GetMessageChatID = %q, %v", chatOf, err)
	}
	if _, err := s.GetMessageChatID(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing message err = %v", err)
	}
}

func TestFindUsers(t *testing.T) {
	ctx := context.Background()
	s, _ := seed(t)

	got, _ := s.FindUsers(ctx, "BO", "a", 0)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("by name = %+v", got)
	}
	got, _ = s.FindUsers(ctx, "900", "a", 0)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("by phone excluding self = %+v", got)
	}
	got, _ = s.FindUsers(ctx, "", "", 2)
	if len(got) != 2 {
		t.Fatalf("limit = %d results", len(got))
	}
}

func TestInsertIntoMissingChat(t *testing.T) {
	s := New()
	if _, err := s.InsertMessage(context.Background(), "ghost", "a", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateConversationWithMembersIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()

	bad := []model.ChatMember{{UserID: "a", Role: model.RoleMember}, {Role: model.RoleMember}}
	if _, err := s.CreateConversationWithMembers(ctx, "Bob", false, bad); err == nil {
		t.Fatal("member without user id accepted")
	}
	if chats, members, _, _ := s.Counts(); chats != 0 || members != 0 {
		t.Fatalf("failed create left chats=%d members=%d", chats, members)
	}

	good := []model.ChatMember{{UserID: "a", Role: model.RoleMember}, {UserID: "b", Role: model.RoleMember}}
	c, err := s.CreateConversationWithMembers(ctx, "Bob", false, good)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMembers(ctx, c.ID)
	if err != nil || len(got) != 2 {
		t.Fatalf("GetMembers = %+v, %v", got, err)
	}
}
