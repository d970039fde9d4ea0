package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/iouledger/internal/models"
)

const attemptColumns = `id, iou_id, provider_payment_id, phase, amount, memo, initiated_by, last_error, created_at, updated_at`

// CreateAttempt persists a new settlement attempt. The single-flight index
// rejects a second non-terminal attempt for the same IOU.
func (s *SQLiteStore) CreateAttempt(ctx context.Context, attempt *models.SettlementAttempt) error {
	// Generate ID if not set
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	if attempt.UpdatedAt.IsZero() {
		attempt.UpdatedAt = attempt.CreatedAt
	}

	var providerID any
	if attempt.ProviderPaymentID != "" {
		providerID = attempt.ProviderPaymentID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settlement_attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.IOUID, providerID, string(attempt.Phase), attempt.Amount.String(), attempt.Memo,
		attempt.InitiatedBy, attempt.LastError, attempt.CreatedAt.UnixMicro(), attempt.UpdatedAt.UnixMicro(),
	)
	if isUniqueViolation(err) {
		if strings.Contains(err.Error(), "settlement_attempts.id") {
			return fmt.Errorf("%w: attempt %s", models.ErrDuplicate, attempt.ID)
		}
		return fmt.Errorf("%w: iou %s already has a settlement in flight", models.ErrConflict, attempt.IOUID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// GetAttempt retrieves an attempt by ID.
func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*models.SettlementAttempt, error) {
	return s.queryAttempt(ctx, fmt.Sprintf("attempt %s", id),
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE id = ?`, id)
}

// GetAttemptByProviderID retrieves the attempt bound to a provider payment ID.
func (s *SQLiteStore) GetAttemptByProviderID(ctx context.Context, providerPaymentID string) (*models.SettlementAttempt, error) {
	return s.queryAttempt(ctx, fmt.Sprintf("provider payment %s", providerPaymentID),
		`SELECT `+attemptColumns+` FROM settlement_attempts WHERE provider_payment_id = ?`, providerPaymentID)
}

// GetActiveAttempt returns the in-flight attempt for an IOU.
func (s *SQLiteStore) GetActiveAttempt(ctx context.Context, iouID string) (*models.SettlementAttempt, error) {
	return s.queryAttempt(ctx, fmt.Sprintf("active attempt for iou %s", iouID),
		`SELECT `+attemptColumns+` FROM settlement_attempts
		 WHERE iou_id = ? AND phase IN ('initiated', 'approved')`, iouID)
}

// GetLatestAttempt returns the newest attempt for an IOU.
func (s *SQLiteStore) GetLatestAttempt(ctx context.Context, iouID string) (*models.SettlementAttempt, error) {
	return s.queryAttempt(ctx, fmt.Sprintf("attempts for iou %s", iouID),
		`SELECT `+attemptColumns+` FROM settlement_attempts
		 WHERE iou_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, iouID)
}

// BindProviderPaymentID attaches the provider's payment ID to an attempt
// that does not have one yet.
func (s *SQLiteStore) BindProviderPaymentID(ctx context.Context, attemptID, providerPaymentID string) (*models.SettlementAttempt, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE settlement_attempts SET provider_payment_id = ?, updated_at = ?
		 WHERE id = ? AND provider_payment_id IS NULL`,
		providerPaymentID, time.Now().UTC().UnixMicro(), attemptID,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: provider payment %s already bound", models.ErrConflict, providerPaymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind provider payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}

	current, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if n == 0 && current.ProviderPaymentID != providerPaymentID {
		return nil, fmt.Errorf("%w: attempt %s is bound to %s", models.ErrConflict, attemptID, current.ProviderPaymentID)
	}
	return current, nil
}

// UpdateAttemptPhase applies a compare-and-swap on the attempt phase.
func (s *SQLiteStore) UpdateAttemptPhase(ctx context.Context, attemptID string, expected, next models.Phase, lastError string) (*models.SettlementAttempt, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE settlement_attempts
		 SET phase = ?, last_error = CASE WHEN ? = '' THEN last_error ELSE ? END, updated_at = ?
		 WHERE id = ? AND phase = ?`,
		string(next), lastError, lastError, time.Now().UTC().UnixMicro(), attemptID, string(expected),
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: another settlement is in flight for attempt %s", models.ErrConflict, attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update attempt phase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}

	current, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: attempt %s is %s, expected %s", models.ErrConflict, attemptID, current.Phase, expected)
	}
	return current, nil
}

// ListAttemptsCreatedBefore returns attempts in phase older than cutoff.
func (s *SQLiteStore) ListAttemptsCreatedBefore(ctx context.Context, phase models.Phase, cutoff time.Time, limit int) ([]*models.SettlementAttempt, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM settlement_attempts
		 WHERE phase = ? AND created_at < ? ORDER BY created_at ASC, rowid ASC LIMIT ?`,
		string(phase), cutoff.UnixMicro(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.SettlementAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}
	return attempts, nil
}

func (s *SQLiteStore) queryAttempt(ctx context.Context, what, query string, args ...any) (*models.SettlementAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, query, args...))
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
		providerID           sql.NullString
		phase                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&a.ID, &a.IOUID, &providerID, &phase, &a.Amount, &a.Memo, &a.InitiatedBy, &a.LastError,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.ProviderPaymentID = providerID.String
	a.Phase = models.Phase(phase)
	a.CreatedAt = time.UnixMicro(createdAt).UTC()
	a.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return a, nil
}
