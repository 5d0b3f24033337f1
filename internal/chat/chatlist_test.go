package chat

import (
	"context"
	"testing"
	"time"
)

func TestChatListEmpty(t *testing.T) {
	st := newStore(t)
	list, err := NewLister(st, NewReadState(st)).ChatList(context.Background(), alice.ID)
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("list = %v, %v", list, err)
	}
}

func TestChatListSummaries(t *testing.T) {
	st := newStore(t)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	st.SetClock(func() time.Time { clock = clock.Add(time.Second); return clock })

	quiet := seedChat(t, st, "quiet", true, alice.ID, carol.ID, "u-ghost")
	withBob := seedChat(t, st, "Bob", false, alice.ID, bob.ID)
	seedChat(t, st, "not mine", false, bob.ID, carol.ID)

	send(t, st, withBob, bob.ID, "one")
	send(t, st, withBob, bob.ID, "two")

	list, err := NewLister(st, NewReadState(st)).ChatList(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("ChatList: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].ID != withBob || list[1].ID != quiet {
		t.Fatalf("order = %s, %s", list[0].ID, list[1].ID)
	}

	top := list[0]
	if top.UnreadCount != 2 || top.LastMessage == nil || top.LastMessage.Content != "two" || top.LastMessage.SenderName != "Bob" {
		t.Fatalf("top = %+v (last %+v)", top, top.LastMessage)
	}
	if top.Name != "Bob" || top.IsGroup || len(top.Participants) != 2 {
		t.Fatalf("top = %+v", top)
	}

	q := list[1]
	if q.LastMessage != nil || q.UnreadCount != 0 {
		t.Fatalf("quiet = %+v", q)
	}
	if len(q.Participants) != 2 {
		t.Fatalf("member without profile must be dropped, got %d participants", len(q.Participants))
	}
}
