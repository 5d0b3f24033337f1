// Package ws — клиент ленты изменений через WebSocket-шлюз realtime.
//
// Протокол: клиент шлёт join{ref, table, filter} и leave{ref}; сервер отвечает joined{ref}
// или error{ref, error} и присылает insert{ref, table, new} на каждую подходящую вставку.
package ws

import (
	"encoding/json"

	"github.com/chatsync/internal/feed"
)

type FrameType string

const (
	FrameJoin   FrameType = "join"
	FrameLeave  FrameType = "leave"
	FrameJoined FrameType = "joined"
	FrameInsert FrameType = "insert"
	FrameError  FrameType = "error"
)

type Frame struct {
	Type   FrameType       `json:"type"`
	Ref    string          `json:"ref,omitempty"`
	Table  feed.Table      `json:"table,omitempty"`
	Filter string          `json:"filter,omitempty"`
	Row    json.RawMessage `json:"new,omitempty"`
	Error  string          `json:"error,omitempty"`
}
