package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/iouledger/internal/models"
)

// UpsertUser records a user. Any other user still holding the same handle
// is left without a username.
func (p *Store) UpsertUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if user.Username != "" {
		_, err := tx.ExecContext(ctx,
			`UPDATE users SET username = '', updated_at = $3 WHERE id <> $1 AND lower(username) = lower($2)`,
			user.ID, user.Username, now)
		if err != nil {
			return fmt.Errorf("failed to release username: %w", err)
		}
	}

	const query = `INSERT INTO users (id, username, created_at, updated_at) VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, updated_at = EXCLUDED.updated_at
	RETURNING created_at`

	err = tx.QueryRowContext(ctx, query, user.ID, user.Username, user.CreatedAt, user.UpdatedAt).Scan(&user.CreatedAt)
	if uniqueConstraint(err) != "" {
		return fmt.Errorf("%w: username %s was claimed concurrently", models.ErrConflict, user.Username)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return nil
}

func (p *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx,
		`SELECT id, username, created_at, updated_at FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (p *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx,
		`SELECT id, username, created_at, updated_at FROM users
		WHERE username <> '' AND lower(username) = lower($1)`, username))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: username %s", models.ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return u, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}
