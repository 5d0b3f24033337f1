package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store/memory"
)

func TestOpenReusesLoadedDirectChat(t *testing.T) {
	r := NewReconciler(newStore(t), alice.ID)
	loaded := []model.ChatSummary{
		{ID: "group", IsGroup: true, Participants: []model.Profile{alice, bob, carol}},
		{ID: "direct-bob", Participants: []model.Profile{alice, bob}},
	}

	ref := r.Open(bob, loaded)
	if p, ok := ref.(model.Persisted); !ok || p.ID != "direct-bob" {
		t.Fatalf("Open(bob) = %#v", ref)
	}
	if StateOf(ref) != StatePersisted {
		t.Fatalf("state = %s", StateOf(ref))
	}

	ref = r.Open(carol, loaded)
	p, ok := ref.(model.Provisional)
	if !ok || p.Target.ID != carol.ID {
		t.Fatalf("Open(carol) = %#v, want provisional", ref)
	}
	if StateOf(ref) != StateProvisional || StateOf(nil) != StateNone {
		t.Fatal("StateOf mismatch")
	}
}

func TestOpenDoesNotWrite(t *testing.T) {
	st := newStore(t)
	NewReconciler(st, alice.ID).Open(bob, nil)
	if c, m, msg, rc := st.Counts(); c+m+msg+rc != 0 {
		t.Fatalf("store written: chats=%d members=%d messages=%d receipts=%d", c, m, msg, rc)
	}
}

func TestPromoteCreatesDirectChatOnce(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: newStore(t)}
	r := NewReconciler(st, alice.ID)
	p := model.Provisional{Target: bob, CreatedAt: time.Now()}

	first, err := r.Promote(ctx, p)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	second, err := r.Promote(ctx, p)
	if err != nil {
		t.Fatalf("second Promote: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if st.creates != 1 {
		t.Fatalf("CreateConversation called %d times", st.creates)
	}

	members, err := st.GetMembers(ctx, first.ID)
	if err != nil || len(members) != 2 {
		t.Fatalf("members = %v, %v", members, err)
	}
	chats, _ := st.GetConversations(ctx, []string{first.ID})
	if len(chats) != 1 || chats[0].IsGroup || chats[0].Name == nil || *chats[0].Name != "Bob" {
		t.Fatalf("chat = %+v", chats)
	}
}

func TestPromoteReusesChatCreatedByOtherSide(t *testing.T) {
	st := newStore(t)
	existing := seedChat(t, st, "Alice", false, bob.ID, alice.ID)
	seedChat(t, st, "team", true, alice.ID, bob.ID)

	got, err := NewReconciler(st, alice.ID).Promote(context.Background(), model.Provisional{Target: bob})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if got.ID != existing {
		t.Fatalf("got %s, want %s", got.ID, existing)
	}
}

func TestPromoteDefaultName(t *testing.T) {
	st := newStore(t)
	got, err := NewReconciler(st, alice.ID).Promote(context.Background(), model.Provisional{Target: model.Profile{ID: "u-noname"}})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	chats, _ := st.GetConversations(context.Background(), []string{got.ID})
	if len(chats) != 1 || *chats[0].Name != DefaultChatName {
		t.Fatalf("chat = %+v", chats)
	}
}

func TestPromotePropagatesStoreErrors(t *testing.T) {
	ctx := context.Background()
	p := model.Provisional{Target: bob}

	st := &flakyStore{Store: newStore(t), failCreate: errBoom}
	if _, err := NewReconciler(st, alice.ID).Promote(ctx, p); !errors.Is(err, errBoom) {
		t.Fatalf("create error = %v", err)
	}

	st = &flakyStore{Store: newStore(t), failAdd: errBoom}
	if _, err := NewReconciler(st, alice.ID).Promote(ctx, p); !errors.Is(err, errBoom) {
		t.Fatalf("add members error = %v", err)
	}
	if chats, members, _, _ := st.Store.(*memory.Store).Counts(); chats != 0 || members != 0 {
		t.Fatalf("failed promote left chats=%d members=%d", chats, members)
	}

	if _, err := NewReconciler(newStore(t), alice.ID).Promote(ctx, model.Provisional{}); err == nil {
		t.Fatal("expected error for provisional without target")
	}
}
