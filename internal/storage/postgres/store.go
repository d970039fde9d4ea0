// Package postgres implements storage.Store on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already opened database. The schema must exist.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (p *Store) Close() error { return p.db.Close() }

func (p *Store) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// uniqueConstraint returns the name of the violated unique constraint, or ""
// if err is not a unique violation.
func uniqueConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint
	}
	return ""
}

const iouColumns = `id, owner_id, direction, counterparty, amount, note, due_date, status,
	created_at, accepted_at, paid_at, cancelled_at`

func (p *Store) CreateIOU(ctx context.Context, iou *models.IOU) error {
	if iou.ID == "" {
		iou.ID = uuid.New().String()
	}
	if iou.CreatedAt.IsZero() {
		iou.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO ious (` + iouColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := p.db.ExecContext(ctx, query,
		iou.ID, iou.OwnerID, string(iou.Direction), iou.Counterparty, iou.Amount,
		iou.Note, iou.DueDate, string(iou.Status),
		iou.CreatedAt, iou.AcceptedAt, iou.PaidAt, iou.CancelledAt,
	)
	if uniqueConstraint(err) != "" {
		return fmt.Errorf("%w: iou %s", models.ErrDuplicate, iou.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert iou: %w", err)
	}
	return nil
}

func (p *Store) GetIOU(ctx context.Context, id string) (*models.IOU, error) {
	iou, err := scanIOU(p.db.QueryRowContext(ctx, `SELECT `+iouColumns+` FROM ious WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: iou %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get iou: %w", err)
	}
	return iou, nil
}

func (p *Store) UpdateIOUStatus(ctx context.Context, id string, expected, next models.Status, field models.TimestampField, stamp time.Time) (*models.IOU, error) {
	return updateIOUStatus(ctx, p.db, id, expected, next, field, stamp)
}

// UpdateIOUStatusIfIdle locks the IOU row, checks for an in-flight attempt
// and applies the CAS in one transaction. CreateAttempt takes a share lock
// on the same row, so the two cannot interleave.
func (p *Store) UpdateIOUStatusIfIdle(ctx context.Context, id string, expected, next models.Status, field models.TimestampField, stamp time.Time) (*models.IOU, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM ious WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: iou %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock iou: %w", err)
	}
	if models.Status(status) != expected {
		return nil, fmt.Errorf("%w: iou %s is %s, expected %s", models.ErrConflict, id, status, expected)
	}

	var busy bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM settlement_attempts WHERE iou_id = $1 AND phase IN ('initiated', 'approved'))`,
		id).Scan(&busy)
	if err != nil {
		return nil, fmt.Errorf("failed to check attempts: %w", err)
	}
	if busy {
		return nil, fmt.Errorf("%w: iou %s has a settlement in flight", models.ErrConflict, id)
	}

	iou, err := updateIOUStatus(ctx, tx, id, expected, next, field, stamp)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit iou status: %w", err)
	}
	return iou, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateIOUStatus(ctx context.Context, q querier, id string, expected, next models.Status, field models.TimestampField, stamp time.Time) (*models.IOU, error) {
	query := `UPDATE ious SET status = $1 WHERE id = $2 AND status = $3 RETURNING ` + iouColumns
	args := []any{string(next), id, string(expected)}
	switch field {
	case models.StampNone:
	case models.StampAccepted, models.StampPaid, models.StampCancelled:
		col := string(field)
		query = fmt.Sprintf(`UPDATE ious SET status = $1, %s = COALESCE(%s, $4) WHERE id = $2 AND status = $3 RETURNING `+iouColumns, col, col)
		args = append(args, stamp.UTC())
	default:
		return nil, fmt.Errorf("unknown timestamp field %q", field)
	}

	iou, err := scanIOU(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		current, getErr := scanIOU(q.QueryRowContext(ctx, `SELECT `+iouColumns+` FROM ious WHERE id = $1`, id))
		if getErr == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: iou %s", models.ErrNotFound, id)
		}
		if getErr != nil {
			return nil, fmt.Errorf("failed to get iou: %w", getErr)
		}
		return nil, fmt.Errorf("%w: iou %s is %s, expected %s", models.ErrConflict, id, current.Status, expected)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update iou status: %w", err)
	}
	return iou, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIOU(row rowScanner) (*models.IOU, error) {
	iou := &models.IOU{}
	var (
		direction, status                        string
		note                                     sql.NullString
		dueDate, acceptedAt, paidAt, cancelledAt sql.NullTime
	)
	err := row.Scan(&iou.ID, &iou.OwnerID, &direction, &iou.Counterparty, &iou.Amount, &note, &dueDate, &status,
		&iou.CreatedAt, &acceptedAt, &paidAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	iou.Direction = models.Direction(direction)
	iou.Status = models.Status(status)
	iou.CreatedAt = iou.CreatedAt.UTC()
	if note.Valid {
		iou.Note = &note.String
	}
	iou.DueDate = fromNullTime(dueDate)
	iou.AcceptedAt = fromNullTime(acceptedAt)
	iou.PaidAt = fromNullTime(paidAt)
	iou.CancelledAt = fromNullTime(cancelledAt)
	return iou, nil
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
