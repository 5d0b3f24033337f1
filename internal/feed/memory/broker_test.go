package memory

import (
	"context"
	"testing"

	"github.com/chatsync/internal/feed"
)

func TestBrokerFilterAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b := New()

	var chatA, all int
	ha, err := b.Subscribe(ctx, feed.TableMessages, feed.Eq("chat_id", "a"), func(feed.Event) { chatA++ })
	if err != nil {
		t.Fatal(err)
	}
	hall, err := b.Subscribe(ctx, feed.TableMessages, nil, func(feed.Event) { all++ })
	if err != nil {
		t.Fatal(err)
	}

	evA, _ := feed.NewEvent(feed.TableMessages, map[string]string{"id": "m1", "chat_id": "a"})
	evB, _ := feed.NewEvent(feed.TableMessages, map[string]string{"id": "m2", "chat_id": "b"})
	evR, _ := feed.NewEvent(feed.TableReadReceipts, map[string]string{"message_id": "m1", "user_id": "u"})
	for _, ev := range []feed.Event{evA, evB, evR} {
		if err := b.Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if chatA != 1 || all != 2 {
		t.Fatalf("chatA=%d all=%d, want 1 and 2", chatA, all)
	}

	if err := b.Unsubscribe(ha); err != nil {
		t.Fatal(err)
	}
	if err := b.Unsubscribe(ha); err == nil {
		t.Fatal("second Unsubscribe of the same handle should fail")
	}
	_ = b.Publish(ctx, evA)
	if chatA != 1 || all != 3 {
		t.Fatalf("after unsubscribe chatA=%d all=%d", chatA, all)
	}

	if err := b.Unsubscribe(hall); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 0 {
		t.Fatalf("Len = %d, want 0", b.Len())
	}
}

func TestBrokerHandlerMayUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b := New()

	var h feed.Handle
	calls := 0
	h, _ = b.Subscribe(ctx, feed.TableMessages, nil, func(feed.Event) {
		calls++
		_ = b.Unsubscribe(h)
	})
	ev, _ := feed.NewEvent(feed.TableMessages, map[string]string{"chat_id": "a"})
	_ = b.Publish(ctx, ev)
	_ = b.Publish(ctx, ev)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
