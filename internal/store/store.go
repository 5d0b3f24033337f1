// Package store описывает контракт хранилища чатов, которым пользуется ядро синхронизации.
// Реализации: repository.Store (Postgres через pgx), memory.Store (для тестов и -dev).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatsync/internal/model"
)

// DefaultSearchLimit — сколько профилей возвращает FindUsers, если limit не задан.
const DefaultSearchLimit = 10

type Store interface {
	ListMembershipsFor(ctx context.Context, userID string) ([]string, error)
	GetConversations(ctx context.Context, ids []string) ([]model.Chat, error)
	GetMembers(ctx context.Context, chatID string) ([]model.Member, error)
	// GetMessages возвращает сообщения по created_at asc вместе с профилем отправителя и отметками о прочтении.
	GetMessages(ctx context.Context, chatID string) ([]model.Message, error)
	// GetLastMessage возвращает (nil, nil), если в чате нет сообщений.
	GetLastMessage(ctx context.Context, chatID string) (*model.Message, error)
	InsertMessage(ctx context.Context, chatID, senderID, content string) (*model.Message, error)
	// UpsertReceipts вставляет отметки с конфликтом по (message_id, user_id): повторная отметка ничего не меняет.
	// Возвращает только реально вставленные строки.
	UpsertReceipts(ctx context.Context, receipts []model.ReadReceipt) ([]model.ReadReceipt, error)
	// FindUsers ищет по подстроке в имени или телефоне без учёта регистра, исключая excludeUserID.
	FindUsers(ctx context.Context, query, excludeUserID string, limit int) ([]model.Profile, error)
	CreateConversation(ctx context.Context, name string, isGroup bool) (*model.Chat, error)
	AddMembers(ctx context.Context, chatID string, members []model.ChatMember) error
	// CreateConversationWithMembers создаёт чат и участников атомарно: при ошибке не остаётся ничего.
	CreateConversationWithMembers(ctx context.Context, name string, isGroup bool, members []model.ChatMember) (*model.Chat, error)

	// GetProfile возвращает ErrNotFound, если профиля нет.
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	// MessageIDsFromOthers — id сообщений чата, отправленных не userID.
	MessageIDsFromOthers(ctx context.Context, chatID, userID string) ([]string, error)
	// ReadMessageIDs — подмножество messageIDs, для которых есть отметка от userID.
	ReadMessageIDs(ctx context.Context, userID string, messageIDs []string) ([]string, error)
	// HasReceiptFromOthers — есть ли хотя бы одна отметка не от senderID (LIMIT 1).
	HasReceiptFromOthers(ctx context.Context, messageID, senderID string) (bool, error)
	// GetMessageChatID возвращает chat_id сообщения или ErrNotFound.
	GetMessageChatID(ctx context.Context, messageID string) (string, error)
}

var ErrNotFound = errors.New("not found")

// TransientError — сетевая ошибка или таймаут хранилища. Повторов на этом уровне нет:
// ошибка уходит вызывающему, UI показывает сбой и сохраняет ввод.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient сообщает, есть ли в цепочке ошибок TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
