package model

import "time"

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsEdited  bool      `json:"is_edited"`

	// Заполняются только GetMessages / GetLastMessage.
	Sender   *Profile      `json:"profile,omitempty"`
	Receipts []ReadReceipt `json:"message_read_status,omitempty"`
}

// ReadReceipt — отметка о прочтении (таблица message_read_status).
// Уникальна по (message_id, user_id).
type ReadReceipt struct {
	ID        string    `json:"id,omitempty"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}
