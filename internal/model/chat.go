package model

import "time"

const RoleMember = "member"

type Chat struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChatMember struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
	Role     string    `json:"role"`
}

// Member — участник чата вместе с профилем. Profile == nil, если профиль не найден.
type Member struct {
	UserID  string   `json:"user_id"`
	Profile *Profile `json:"profile"`
}
