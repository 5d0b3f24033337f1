package feed

import (
	"encoding/json"
	"fmt"
)

// Marshal/Unmarshal — общий проводной формат события для брокеров (Redis, NATS, NOTIFY).
func Marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("feed: encode event: %w", err)
	}
	return data, nil
}

func Unmarshal(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("feed: decode event: %w", err)
	}
	if ev.Table == "" || len(ev.Row) == 0 {
		return Event{}, fmt.Errorf("feed: event without table or row")
	}
	return ev, nil
}
