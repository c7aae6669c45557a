package services

import (
	"context"
	"database/sql"
	"fmt"
)

// UserDirectory confirms that a user id belongs to a real user.
// Authentication happens upstream.
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// ProfileDirectory checks the upstream profiles table.
type ProfileDirectory struct {
	db *sql.DB
}

func NewProfileDirectory(db *sql.DB) *ProfileDirectory {
	return &ProfileDirectory{db: db}
}

func (d *ProfileDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	var exists bool
	if err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, userID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup profile: %w", err)
	}
	return exists, nil
}

// confirmUser fails with ErrUserNotFound unless userID is a known user.
func confirmUser(ctx context.Context, r *Retrier, users UserDirectory, userID string) error {
	exists, err := withRetry(ctx, r, "lookup_user", func() (bool, error) {
		return users.UserExists(ctx, userID)
	})
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}
	return nil
}
