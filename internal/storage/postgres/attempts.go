package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/iouledger/internal/models"
)

const attemptColumns = `id, iou_id, provider_payment_id, phase, amount, memo, initiated_by, last_error, created_at, updated_at`

func (p *Store) CreateAttempt(ctx context.Context, attempt *models.SettlementAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	if attempt.UpdatedAt.IsZero() {
		attempt.UpdatedAt = attempt.CreatedAt
	}
	var providerID sql.NullString
	if attempt.ProviderPaymentID != "" {
		providerID = sql.NullString{String: attempt.ProviderPaymentID, Valid: true}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Orders this insert against UpdateIOUStatusIfIdle's row lock.
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM ious WHERE id = $1 FOR SHARE`, attempt.IOUID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: iou %s", models.ErrNotFound, attempt.IOUID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock iou: %w", err)
	}

	const query = `INSERT INTO settlement_attempts (` + attemptColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = tx.ExecContext(ctx, query,
		attempt.ID, attempt.IOUID, providerID, string(attempt.Phase), attempt.Amount, attempt.Memo,
		attempt.InitiatedBy, attempt.LastError, attempt.CreatedAt, attempt.UpdatedAt,
	)
	switch uniqueConstraint(err) {
	case "":
	case "settlement_attempts_pkey":
		return fmt.Errorf("%w: attempt %s", models.ErrDuplicate, attempt.ID)
	case "idx_attempts_provider_payment":
		return fmt.Errorf("%w: provider payment %s already bound", models.ErrConflict, attempt.ProviderPaymentID)
	default:
		return fmt.Errorf("%w: iou %s already has a settlement in flight", models.ErrConflict, attempt.IOUID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attempt: %w", err)
	}
	return nil
}

func (p *Store) GetAttempt(ctx context.Context, id string) (*models.SettlementAttempt, error) {
	return p.queryAttempt(ctx, "attempt "+id,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE id = $1`, id)
}

func (p *Store) GetAttemptByProviderID(ctx context.Context, providerPaymentID string) (*models.SettlementAttempt, error) {
	return p.queryAttempt(ctx, "provider payment "+providerPaymentID,
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE provider_payment_id = $1`, providerPaymentID)
}

func (p *Store) GetActiveAttempt(ctx context.Context, iouID string) (*models.SettlementAttempt, error) {
	return p.queryAttempt(ctx, "active attempt for iou "+iouID,
		`SELECT `+attemptColumns+` FROM settlement_attempts
		WHERE iou_id = $1 AND phase IN ('initiated', 'approved')`, iouID)
}

func (p *Store) GetLatestAttempt(ctx context.Context, iouID string) (*models.SettlementAttempt, error) {
	return p.queryAttempt(ctx, "attempts for iou "+iouID,
		`SELECT `+attemptColumns+` FROM settlement_attempts
		WHERE iou_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, iouID)
}

func (p *Store) BindProviderPaymentID(ctx context.Context, attemptID, providerPaymentID string) (*models.SettlementAttempt, error) {
	const query = `UPDATE settlement_attempts SET provider_payment_id = $1, updated_at = $2
	WHERE id = $3 AND provider_payment_id IS NULL RETURNING ` + attemptColumns

	a, err := scanAttempt(p.db.QueryRowContext(ctx, query, providerPaymentID, time.Now().UTC(), attemptID))
	if uniqueConstraint(err) != "" {
		return nil, fmt.Errorf("%w: provider payment %s already bound", models.ErrConflict, providerPaymentID)
	}
	if err == sql.ErrNoRows {
		current, getErr := p.GetAttempt(ctx, attemptID)
		if getErr != nil {
			return nil, getErr
		}
		if current.ProviderPaymentID != providerPaymentID {
			return nil, fmt.Errorf("%w: attempt %s is bound to %s", models.ErrConflict, attemptID, current.ProviderPaymentID)
		}
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind provider payment: %w", err)
	}
	return a, nil
}

func (p *Store) UpdateAttemptPhase(ctx context.Context, attemptID string, expected, next models.Phase, lastError string) (*models.SettlementAttempt, error) {
	const query = `UPDATE settlement_attempts
	SET phase = $1, last_error = CASE WHEN $2 = '' THEN last_error ELSE $2 END, updated_at = $3
	WHERE id = $4 AND phase = $5 RETURNING ` + attemptColumns

	a, err := scanAttempt(p.db.QueryRowContext(ctx, query, string(next), lastError, time.Now().UTC(), attemptID, string(expected)))
	if uniqueConstraint(err) != "" {
		return nil, fmt.Errorf("%w: another settlement is in flight for attempt %s", models.ErrConflict, attemptID)
	}
	if err == sql.ErrNoRows {
		current, getErr := p.GetAttempt(ctx, attemptID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: attempt %s is %s, expected %s", models.ErrConflict, attemptID, current.Phase, expected)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update attempt phase: %w", err)
	}
	return a, nil
}

func (p *Store) ListAttemptsCreatedBefore(ctx context.Context, phase models.Phase, cutoff time.Time, limit int) ([]*models.SettlementAttempt, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	// LIMIT NULL means no limit in PostgreSQL.
	rows, err := p.db.QueryContext(ctx, `SELECT `+attemptColumns+` FROM settlement_attempts
	WHERE phase = $1 AND created_at < $2 ORDER BY created_at ASC, seq ASC LIMIT $3`, string(phase), cutoff.UTC(), lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.SettlementAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}

func (p *Store) queryAttempt(ctx context.Context, what, query string, args ...any) (*models.SettlementAttempt, error) {
	a, err := scanAttempt(p.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return a, nil
}

func scanAttempt(row rowScanner) (*models.SettlementAttempt, error) {
	a := &models.SettlementAttempt{}
	var (
		providerID sql.NullString
		phase      string
	)
	if err := row.Scan(&a.ID, &a.IOUID, &providerID, &phase, &a.Amount, &a.Memo, &a.InitiatedBy, &a.LastError,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ProviderPaymentID = providerID.String
	a.Phase = models.Phase(phase)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}
