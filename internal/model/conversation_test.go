package model

import (
	"testing"
	"time"
)

func TestProvisionalTokenRoundTrip(t *testing.T) {
	created := time.UnixMilli(1718000000123)
	p := Provisional{Target: Profile{ID: "b7c1"}, CreatedAt: created}

	tok := p.Token()
	if tok != "temp_1718000000123_b7c1" {
		t.Fatalf("token = %q", tok)
	}

	ref, err := ParseRef(tok)
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	got, ok := ref.(Provisional)
	if !ok {
		t.Fatalf("ParseRef returned %T, want Provisional", ref)
	}
	if got.Target.ID != "b7c1" || !got.CreatedAt.Equal(created) {
		t.Fatalf("got %+v", got)
	}
}

func TestParseRefPersisted(t *testing.T) {
	ref, err := ParseRef(" 5d1e6c1a-7a1e-4a9b-8f00-000000000001 ")
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	if p, ok := ref.(Persisted); !ok || p.ID != "5d1e6c1a-7a1e-4a9b-8f00-000000000001" {
		t.Fatalf("got %#v", ref)
	}
}

func TestParseRefMalformed(t *testing.T) {
	for _, key := range []string{"", "temp_", "temp_abc_u1", "temp_123_", "temp__u1"} {
		if _, err := ParseRef(key); err == nil {
			t.Errorf("ParseRef(%q) succeeded, want error", key)
		}
	}
}

func TestChatSummarySortTime(t *testing.T) {
	upd := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := upd.Add(time.Hour)

	s := ChatSummary{UpdatedAt: upd}
	if !s.SortTime().Equal(upd) {
		t.Fatal("empty chat should sort by updated_at")
	}
	s.LastMessage = &LastMessage{CreatedAt: msg}
	if !s.SortTime().Equal(msg) {
		t.Fatal("chat with messages should sort by last message")
	}
}
