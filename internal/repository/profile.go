package repository

import (
	"context"
	"strings"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

const profileCols = `id, user_name, phone_no, profile_picture`

func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	defer logger.DeferLogDuration("profile.Get", time.Now())()
	p := &model.Profile{}
	err := s.pool.QueryRow(ctx, `SELECT `+profileCols+` FROM profile WHERE id = $1`, userID).
		Scan(&p.ID, &p.UserName, &p.PhoneNo, &p.ProfilePicture)
	if err != nil {
		return nil, wrapErr("profileRepo.Get", err)
	}
	return p, nil
}

// UpsertProfile создаёт или обновляет профиль (используется при входе и в -dev seed).
func (s *Store) UpsertProfile(ctx context.Context, p model.Profile) error {
	defer logger.DeferLogDuration("profile.Upsert", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profile (id, user_name, phone_no, profile_picture)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET user_name = EXCLUDED.user_name,
		   phone_no = EXCLUDED.phone_no, profile_picture = EXCLUDED.profile_picture`,
		p.ID, p.UserName, p.PhoneNo, p.ProfilePicture,
	)
	if err != nil {
		return wrapErr("profileRepo.Upsert", err)
	}
	return nil
}

func (s *Store) FindUsers(ctx context.Context, query, excludeUserID string, limit int) ([]model.Profile, error) {
	defer logger.DeferLogDuration("profile.FindUsers", time.Now())()
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileCols+` FROM profile
		 WHERE (user_name ILIKE $1 OR phone_no ILIKE $1) AND id <> $2
		 ORDER BY user_name
		 LIMIT $3`,
		pattern, excludeUserID, limit,
	)
	if err != nil {
		return nil, wrapErr("profileRepo.FindUsers query", err)
	}
	defer rows.Close()

	out := make([]model.Profile, 0, limit)
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.ID, &p.UserName, &p.PhoneNo, &p.ProfilePicture); err != nil {
			return nil, wrapErr("profileRepo.FindUsers scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("profileRepo.FindUsers rows", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
