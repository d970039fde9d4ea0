package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/iouledger/internal/models"
)

// UpsertUser inserts a user or refreshes the username of an existing one.
// A handle moves with its owner: any other user still holding it is left
// without a username.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if user.Username != "" {
		_, err := tx.ExecContext(ctx,
			`UPDATE users SET username = '', updated_at = ?
			 WHERE id <> ? AND username = ? COLLATE NOCASE`,
			now.UnixMicro(), user.ID, user.Username,
		)
		if err != nil {
			return fmt.Errorf("failed to release username: %w", err)
		}
	}

	query := `
		INSERT INTO users (id, username, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username, updated_at = excluded.updated_at
		RETURNING created_at
	`

	var createdAt int64
	err = tx.QueryRowContext(ctx, query,
		user.ID,
		user.Username,
		user.CreatedAt.UnixMicro(),
		user.UpdatedAt.UnixMicro(),
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}
	user.CreatedAt = time.UnixMicro(createdAt).UTC()

	return nil
}

// GetUser retrieves a user by their ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByUsername retrieves a user by handle, ignoring case.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, created_at, updated_at
		FROM users
		WHERE username <> '' AND username = ? COLLATE NOCASE
	`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: username %s", models.ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}

	return user, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var createdAt, updatedAt int64
	if err := row.Scan(&user.ID, &user.Username, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	user.CreatedAt = time.UnixMicro(createdAt).UTC()
	user.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return user, nil
}
