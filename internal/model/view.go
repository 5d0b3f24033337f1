package model

import "time"

// MessageView — сообщение в том виде, в каком его рисует окно чата.
type MessageView struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Sender        string    `json:"sender"`
	SenderID      string    `json:"sender_id"`
	SenderPicture string    `json:"sender_profile_picture"`
	SenderPhone   string    `json:"sender_phone"`
	Timestamp     string    `json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
	IsOwn         bool      `json:"isOwn"`
	IsRead        bool      `json:"isRead"`
}

// LastMessage — превью последнего сообщения в списке чатов.
type LastMessage struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	SenderName     string    `json:"sender_name"`
	SenderID       string    `json:"sender_id"`
	IsReadByOthers bool      `json:"is_read_by_others"`
}

type ChatSummary struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	IsGroup      bool         `json:"is_group"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Participants []Profile    `json:"participants"`
	LastMessage  *LastMessage `json:"last_message"`
	UnreadCount  int          `json:"unread_count"`
	IsTemporary  bool         `json:"isTemporary,omitempty"`
}

// SortTime — время для сортировки списка: последнее сообщение, иначе updated_at чата.
func (s *ChatSummary) SortTime() time.Time {
	if s.LastMessage != nil && !s.LastMessage.CreatedAt.IsZero() {
		return s.LastMessage.CreatedAt
	}
	return s.UpdatedAt
}

// HasParticipant сообщает, есть ли userID среди участников.
func (s *ChatSummary) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
