package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/iouledger/internal/models"
)

// RecordCallback stores a receipt unless one with the same fingerprint was
// already recorded, in which case the original is returned.
func (s *SQLiteStore) RecordCallback(ctx context.Context, receipt *models.CallbackReceipt) (*models.CallbackReceipt, bool, error) {
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO callback_receipts (fingerprint, kind, provider_payment_id, iou_id, outcome, phase, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		receipt.Fingerprint, string(receipt.Kind), receipt.ProviderPaymentID, receipt.IOUID,
		receipt.Outcome, string(receipt.Phase), receipt.ReceivedAt.UnixMicro(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record callback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	stored, err := s.GetCallback(ctx, receipt.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 0, nil
}

// GetCallback retrieves a receipt by fingerprint.
func (s *SQLiteStore) GetCallback(ctx context.Context, fingerprint string) (*models.CallbackReceipt, error) {
	r := &models.CallbackReceipt{}
	var (
		kind, phase string
		receivedAt  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, kind, provider_payment_id, iou_id, outcome, phase, received_at
		FROM callback_receipts WHERE fingerprint = ?`, fingerprint,
	).Scan(&r.Fingerprint, &kind, &r.ProviderPaymentID, &r.IOUID, &r.Outcome, &phase, &receivedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: callback %s", models.ErrNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get callback: %w", err)
	}
	r.Kind = models.CallbackKind(kind)
	r.Phase = models.Phase(phase)
	r.ReceivedAt = time.UnixMicro(receivedAt).UTC()
	return r, nil
}
