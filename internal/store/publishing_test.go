package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/chatsync/internal/feed"
	memfeed "github.com/chatsync/internal/feed/memory"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
	"github.com/chatsync/internal/store/memory"
)

func TestPublishingEmitsOnlyInsertedReceipts(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	broker := memfeed.New()
	pub := store.NewPublishing(mem, broker)

	var mu sync.Mutex
	events := 0
	if _, err := broker.Subscribe(ctx, feed.TableReadReceipts, nil, func(feed.Event) {
		mu.Lock()
		events++
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	c, err := mem.CreateConversation(ctx, "", false)
	if err != nil {
		t.Fatal(err)
	}
	var batch []model.ReadReceipt
	for i := 0; i < 5; i++ {
		m, err := mem.InsertMessage(ctx, c.ID, "u-bob", "hi")
		if err != nil {
			t.Fatal(err)
		}
		batch = append(batch, model.ReadReceipt{MessageID: m.ID, UserID: "u-alice"})
	}

	for round, want := range []int{5, 0} {
		inserted, err := pub.UpsertReceipts(ctx, batch)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if len(inserted) != want {
			t.Fatalf("round %d inserted = %d, want %d", round, len(inserted), want)
		}
	}
	if _, _, _, rows := mem.Counts(); rows != 5 {
		t.Fatalf("receipt rows = %d", rows)
	}
	mu.Lock()
	defer mu.Unlock()
	if events != 5 {
		t.Fatalf("receipt events = %d, want 5", events)
	}
}
