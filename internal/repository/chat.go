package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const chatCols = `id, name, is_group, created_at, updated_at`

func (s *Store) ListMembershipsFor(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.ListMembershipsFor", time.Now())()
	rows, err := s.pool.Query(ctx, `SELECT chat_id FROM chat_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, wrapErr("chatRepo.ListMembershipsFor query", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("chatRepo.ListMembershipsFor scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("chatRepo.ListMembershipsFor rows", err)
	}
	return ids, nil
}

func (s *Store) GetConversations(ctx context.Context, ids []string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetConversations", time.Now())()
	if len(ids) == 0 {
		return []model.Chat{}, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+chatCols+` FROM chats WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapErr("chatRepo.GetConversations query", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, len(ids))
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, wrapErr("chatRepo.GetConversations scan", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("chatRepo.GetConversations rows", err)
	}
	return chats, nil
}

// GetMembers делает LEFT JOIN на profile: участник без профиля возвращается с Profile == nil.
func (s *Store) GetMembers(ctx context.Context, chatID string) ([]model.Member, error) {
	defer logger.DeferLogDuration("chat.GetMembers", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT cm.user_id, p.id, p.user_name, p.phone_no, p.profile_picture
		 FROM chat_members cm
		 LEFT JOIN profile p ON p.id = cm.user_id
		 WHERE cm.chat_id = $1
		 ORDER BY cm.joined_at`, chatID,
	)
	if err != nil {
		return nil, wrapErr("chatRepo.GetMembers query", err)
	}
	defer rows.Close()

	members := make([]model.Member, 0, 2)
	for rows.Next() {
		var (
			m                model.Member
			pid, name, phone *string
			picture          *string
		)
		if err := rows.Scan(&m.UserID, &pid, &name, &phone, &picture); err != nil {
			return nil, wrapErr("chatRepo.GetMembers scan", err)
		}
		if pid != nil {
			m.Profile = &model.Profile{ID: *pid, UserName: deref(name), PhoneNo: deref(phone), ProfilePicture: picture}
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("chatRepo.GetMembers rows", err)
	}
	return members, nil
}

func (s *Store) CreateConversation(ctx context.Context, name string, isGroup bool) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.CreateConversation", time.Now())()
	var namePtr *string
	if name != "" {
		namePtr = &name
	}
	c := &model.Chat{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chats (name, is_group) VALUES ($1, $2) RETURNING `+chatCols,
		namePtr, isGroup,
	).Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, wrapErr("chatRepo.CreateConversation", err)
	}
	return c, nil
}

// AddMembers добавляет участников одной транзакцией; повторное добавление игнорируется.
func (s *Store) AddMembers(ctx context.Context, chatID string, members []model.ChatMember) error {
	defer logger.DeferLogDuration("chat.AddMembers", time.Now())()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr("chatRepo.AddMembers begin", err)
	}
	defer rollback(ctx, tx, "chatRepo.AddMembers")
	if err := insertMembers(ctx, tx, chatID, members); err != nil {
		return wrapErr("chatRepo.AddMembers insert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("chatRepo.AddMembers commit", err)
	}
	return nil
}

// CreateConversationWithMembers вставляет чат и участников в одной транзакции.
func (s *Store) CreateConversationWithMembers(ctx context.Context, name string, isGroup bool, members []model.ChatMember) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.CreateWithMembers", time.Now())()
	var namePtr *string
	if name != "" {
		namePtr = &name
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr("chatRepo.CreateWithMembers begin", err)
	}
	defer rollback(ctx, tx, "chatRepo.CreateWithMembers")

	c := &model.Chat{}
	err = tx.QueryRow(ctx,
		`INSERT INTO chats (name, is_group) VALUES ($1, $2) RETURNING `+chatCols,
		namePtr, isGroup,
	).Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, wrapErr("chatRepo.CreateWithMembers chat", err)
	}
	if err := insertMembers(ctx, tx, c.ID, members); err != nil {
		return nil, wrapErr("chatRepo.CreateWithMembers members", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr("chatRepo.CreateWithMembers commit", err)
	}
	return c, nil
}

func insertMembers(ctx context.Context, tx pgx.Tx, chatID string, members []model.ChatMember) error {
	for _, m := range members {
		joined := m.JoinedAt
		if joined.IsZero() {
			joined = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_members (chat_id, user_id, role, joined_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (chat_id, user_id) DO NOTHING`,
			chatID, m.UserID, m.Role, joined,
		); err != nil {
			return err
		}
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx, op string) {
	if err := tx.Rollback(ctx); err != nil && !isTxClosed(err) {
		logger.Errorf("%s rollback: %v", op, err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
