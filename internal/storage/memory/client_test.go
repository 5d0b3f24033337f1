package memory

import (
	"context"
	"testing"
	"time"
)

func TestSessionTTL(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.SetSession(ctx, "s1", "u1", time.Minute); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if got, _ := c.GetSession(ctx, "s1"); got != "u1" {
		t.Fatalf("GetSession = %q", got)
	}
	now = now.Add(2 * time.Minute)
	if got, _ := c.GetSession(ctx, "s1"); got != "" {
		t.Fatalf("expired session returned %q", got)
	}

	c.SetSession(ctx, "s2", "u2", 0)
	c.DeleteSession(ctx, "s2")
	if got, _ := c.GetSession(ctx, "s2"); got != "" {
		t.Fatalf("deleted session returned %q", got)
	}
}
