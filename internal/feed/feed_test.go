package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestFilterRoundTrip(t *testing.T) {
	f := Eq("chat_id", "c-1")
	if f.String() != "chat_id=eq.c-1" {
		t.Fatalf("String() = %q", f.String())
	}
	parsed, err := ParseFilter(f.String())
	if err != nil {
		t.Fatal(err)
	}
	if *parsed != *f {
		t.Fatalf("parsed %+v, want %+v", parsed, f)
	}

	if none, err := ParseFilter("  "); err != nil || none != nil {
		t.Fatalf("blank filter: %v %v", none, err)
	}
	if _, err := ParseFilter("chat_id=neq.x"); err == nil {
		t.Fatal("unsupported operator should fail")
	}
}

func TestFilterMatch(t *testing.T) {
	row := json.RawMessage(`{"id":"m1","chat_id":"c-1","is_edited":false}`)
	cases := []struct {
		f    *Filter
		want bool
	}{
		{nil, true},
		{Eq("chat_id", "c-1"), true},
		{Eq("chat_id", "c-2"), false},
		{Eq("missing", "x"), false},
		{Eq("is_edited", "false"), true},
	}
	for _, c := range cases {
		if got := c.f.Match(row); got != c.want {
			t.Errorf("%v.Match = %v, want %v", c.f, got, c.want)
		}
	}
	if Eq("chat_id", "c-1").Match(json.RawMessage(`not json`)) {
		t.Error("garbage row must not match a filter")
	}
}

type countingPublisher struct {
	n   int
	err error
}

func (p *countingPublisher) Publish(context.Context, Event) error {
	p.n++
	return p.err
}

func TestFanoutPublishesToAll(t *testing.T) {
	boom := errors.New("boom")
	first := &countingPublisher{err: boom}
	second := &countingPublisher{}
	ev, err := NewEvent(TableMessages, map[string]string{"id": "m1"})
	if err != nil {
		t.Fatal(err)
	}

	err = Fanout{first, second}.Publish(context.Background(), ev)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if first.n != 1 || second.n != 1 {
		t.Fatalf("calls = %d, %d", first.n, second.n)
	}
}
