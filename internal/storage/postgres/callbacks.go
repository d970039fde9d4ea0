package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/iouledger/internal/models"
)

func (p *Store) RecordCallback(ctx context.Context, receipt *models.CallbackReceipt) (*models.CallbackReceipt, bool, error) {
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now().UTC()
	}

	const query = `INSERT INTO callback_receipts (fingerprint, kind, provider_payment_id, iou_id, outcome, phase, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (fingerprint) DO NOTHING`

	res, err := p.db.ExecContext(ctx, query,
		receipt.Fingerprint, string(receipt.Kind), receipt.ProviderPaymentID, receipt.IOUID,
		receipt.Outcome, string(receipt.Phase), receipt.ReceivedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record callback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	stored, err := p.GetCallback(ctx, receipt.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 0, nil
}

func (p *Store) GetCallback(ctx context.Context, fingerprint string) (*models.CallbackReceipt, error) {
	r := &models.CallbackReceipt{}
	var kind, phase string
	err := p.db.QueryRowContext(ctx, `SELECT fingerprint, kind, provider_payment_id, iou_id, outcome, phase, received_at
	FROM callback_receipts WHERE fingerprint = $1`, fingerprint).
		Scan(&r.Fingerprint, &kind, &r.ProviderPaymentID, &r.IOUID, &r.Outcome, &phase, &r.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: callback %s", models.ErrNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get callback: %w", err)
	}
	r.Kind = models.CallbackKind(kind)
	r.Phase = models.Phase(phase)
	r.ReceivedAt = r.ReceivedAt.UTC()
	return r, nil
}
