package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/fufnotes/internal/model"
)

type UserStore struct {
	db DBTX
}

func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

// Upsert records the provider identity, refreshing the email if it changed.
func (s *UserStore) Upsert(ctx context.Context, passhroomUserID, email string) (*model.User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_users (passhroom_user_id, email, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (passhroom_user_id) DO UPDATE SET email = excluded.email`,
		passhroomUserID, email, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.Get(ctx, passhroomUserID)
}

func (s *UserStore) Get(ctx context.Context, passhroomUserID string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT passhroom_user_id, email, created_at FROM app_users WHERE passhroom_user_id = ?`,
		passhroomUserID,
	).Scan(&u.PasshroomUserID, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
