package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// UpsertReceipts вставляет пачку одним запросом через unnest; конфликт по (message_id, user_id) пропускается.
// RETURNING отдаёт только вставленные строки.
func (s *Store) UpsertReceipts(ctx context.Context, receipts []model.ReadReceipt) ([]model.ReadReceipt, error) {
	defer logger.DeferLogDuration("receipt.Upsert", time.Now())()
	if len(receipts) == 0 {
		return nil, nil
	}
	msgIDs := make([]string, len(receipts))
	userIDs := make([]string, len(receipts))
	readAt := make([]time.Time, len(receipts))
	for i, r := range receipts {
		msgIDs[i] = r.MessageID
		userIDs[i] = r.UserID
		readAt[i] = r.ReadAt
		if readAt[i].IsZero() {
			readAt[i] = time.Now().UTC()
		}
	}
	rows, err := s.pool.Query(ctx,
		`INSERT INTO message_read_status (message_id, user_id, read_at)
		 SELECT * FROM unnest($1::text[], $2::text[], $3::timestamptz[])
		 ON CONFLICT (message_id, user_id) DO NOTHING
		 RETURNING id, message_id, user_id, read_at`,
		msgIDs, userIDs, readAt,
	)
	if err != nil {
		return nil, wrapErr("receiptRepo.Upsert", err)
	}
	defer rows.Close()
	inserted := make([]model.ReadReceipt, 0, len(receipts))
	for rows.Next() {
		var r model.ReadReceipt
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.ReadAt); err != nil {
			return nil, wrapErr("receiptRepo.Upsert scan", err)
		}
		inserted = append(inserted, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("receiptRepo.Upsert rows", err)
	}
	return inserted, nil
}

func (s *Store) receiptsFor(ctx context.Context, messageIDs []string) ([]model.ReadReceipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, user_id, read_at FROM message_read_status
		 WHERE message_id = ANY($1)
		 ORDER BY read_at`, messageIDs,
	)
	if err != nil {
		return nil, wrapErr("receiptRepo.receiptsFor query", err)
	}
	defer rows.Close()

	out := make([]model.ReadReceipt, 0, len(messageIDs))
	for rows.Next() {
		var r model.ReadReceipt
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.ReadAt); err != nil {
			return nil, wrapErr("receiptRepo.receiptsFor scan", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("receiptRepo.receiptsFor rows", err)
	}
	return out, nil
}

func (s *Store) ReadMessageIDs(ctx context.Context, userID string, messageIDs []string) ([]string, error) {
	defer logger.DeferLogDuration("receipt.ReadMessageIDs", time.Now())()
	if len(messageIDs) == 0 {
		return []string{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT message_id FROM message_read_status WHERE user_id = $1 AND message_id = ANY($2)`,
		userID, messageIDs,
	)
	if err != nil {
		return nil, wrapErr("receiptRepo.ReadMessageIDs query", err)
	}
	defer rows.Close()
	return collectIDs(rows, "receiptRepo.ReadMessageIDs")
}

func (s *Store) HasReceiptFromOthers(ctx context.Context, messageID, senderID string) (bool, error) {
	defer logger.DeferLogDuration("receipt.HasReceiptFromOthers", time.Now())()
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM message_read_status WHERE message_id = $1 AND user_id <> $2 LIMIT 1)`,
		messageID, senderID,
	).Scan(&ok)
	if err != nil {
		return false, wrapErr("receiptRepo.HasReceiptFromOthers", err)
	}
	return ok, nil
}

func collectIDs(rows pgx.Rows, op string) ([]string, error) {
	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr(op+" scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op+" rows", err)
	}
	return ids, nil
}
