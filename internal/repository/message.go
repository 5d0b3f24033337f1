package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const msgCols = `m.id, m.chat_id, m.sender_id, m.content, m.created_at, m.is_edited`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessageWithSender — порядок колонок: msgCols, затем p.id, p.user_name, p.phone_no, p.profile_picture.
func scanMessageWithSender(row rowScanner, m *model.Message) error {
	var pid, name, phone, picture *string
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsEdited,
		&pid, &name, &phone, &picture); err != nil {
		return err
	}
	if pid != nil {
		m.Sender = &model.Profile{ID: *pid, UserName: deref(name), PhoneNo: deref(phone), ProfilePicture: picture}
	}
	return nil
}

func (s *Store) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetMessages", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT `+msgCols+`, p.id, p.user_name, p.phone_no, p.profile_picture
		 FROM messages m
		 LEFT JOIN profile p ON p.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at ASC`, chatID,
	)
	if err != nil {
		return nil, wrapErr("msgRepo.GetMessages query", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 64)
	index := make(map[string]int, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := scanMessageWithSender(rows, &m); err != nil {
			return nil, wrapErr("msgRepo.GetMessages scan", err)
		}
		index[m.ID] = len(msgs)
		ids = append(ids, m.ID)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("msgRepo.GetMessages rows", err)
	}
	if len(ids) == 0 {
		return msgs, nil
	}

	receipts, err := s.receiptsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		i := index[r.MessageID]
		msgs[i].Receipts = append(msgs[i].Receipts, r)
	}
	return msgs, nil
}

func (s *Store) GetLastMessage(ctx context.Context, chatID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLastMessage", time.Now())()
	m := &model.Message{}
	row := s.pool.QueryRow(ctx,
		`SELECT `+msgCols+`, p.id, p.user_name, p.phone_no, p.profile_picture
		 FROM messages m
		 LEFT JOIN profile p ON p.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at DESC
		 LIMIT 1`, chatID,
	)
	if err := scanMessageWithSender(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("msgRepo.GetLastMessage", err)
	}
	return m, nil
}

func (s *Store) InsertMessage(ctx context.Context, chatID, senderID, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Insert", time.Now())()
	m := &model.Message{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (chat_id, sender_id, content)
		 VALUES ($1, $2, $3)
		 RETURNING id, chat_id, sender_id, content, created_at, is_edited`,
		chatID, senderID, content,
	).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsEdited)
	if err != nil {
		return nil, wrapErr("msgRepo.Insert", err)
	}
	return m, nil
}

func (s *Store) MessageIDsFromOthers(ctx context.Context, chatID, userID string) ([]string, error) {
	defer logger.DeferLogDuration("msg.MessageIDsFromOthers", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM messages WHERE chat_id = $1 AND sender_id <> $2`, chatID, userID,
	)
	if err != nil {
		return nil, wrapErr("msgRepo.MessageIDsFromOthers query", err)
	}
	defer rows.Close()
	return collectIDs(rows, "msgRepo.MessageIDsFromOthers")
}

func (s *Store) GetMessageChatID(ctx context.Context, messageID string) (string, error) {
	defer logger.DeferLogDuration("msg.GetMessageChatID", time.Now())()
	var chatID string
	err := s.pool.QueryRow(ctx, `SELECT chat_id FROM messages WHERE id = $1`, messageID).Scan(&chatID)
	if err != nil {
		return "", wrapErr("msgRepo.GetMessageChatID", err)
	}
	return chatID, nil
}
