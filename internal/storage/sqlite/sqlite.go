// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
//
// The pool is limited to one connection: SQLite serializes writers anyway,
// and a single connection makes every compare-and-swap UPDATE atomic without
// SQLITE_BUSY retries.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const iouColumns = `id, owner_id, direction, counterparty, amount, note, due_date, status,
	created_at, accepted_at, paid_at, cancelled_at`

// CreateIOU persists a new IOU to the database.
func (s *SQLiteStore) CreateIOU(ctx context.Context, iou *models.IOU) error {
	// Generate ID if not set
	if iou.ID == "" {
		iou.ID = uuid.New().String()
	}
	if iou.CreatedAt.IsZero() {
		iou.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ious (`+iouColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iou.ID, iou.OwnerID, string(iou.Direction), iou.Counterparty, iou.Amount.String(),
		nullString(iou.Note), nullTime(iou.DueDate), string(iou.Status),
		iou.CreatedAt.UnixMicro(), nullTime(iou.AcceptedAt), nullTime(iou.PaidAt), nullTime(iou.CancelledAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: iou %s", models.ErrDuplicate, iou.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert iou: %w", err)
	}
	return nil
}

// GetIOU retrieves an IOU by ID.
func (s *SQLiteStore) GetIOU(ctx context.Context, id string) (*models.IOU, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+iouColumns+` FROM ious WHERE id = ?`, id)
	iou, err := scanIOU(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: iou %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get iou: %w", err)
	}
	return iou, nil
}

// UpdateIOUStatus applies a compare-and-swap on the IOU status. The stamp
// column is only written when it is still NULL.
func (s *SQLiteStore) UpdateIOUStatus(ctx context.Context, id string, expected, next models.Status, field models.TimestampField, stamp time.Time) (*models.IOU, error) {
	return s.updateIOUStatus(ctx, id, expected, next, field, stamp, false)
}

// UpdateIOUStatusIfIdle is UpdateIOUStatus guarded by the absence of an
// in-flight attempt. Both conditions are checked by the one UPDATE, and the
// single connection orders it against CreateAttempt.
func (s *SQLiteStore) UpdateIOUStatusIfIdle(ctx context.Context, id string, expected, next models.Status, field models.TimestampField, stamp time.Time) (*models.IOU, error) {
	return s.updateIOUStatus(ctx, id, expected, next, field, stamp, true)
}

const idleCondition = ` AND NOT EXISTS (SELECT 1 FROM settlement_attempts
	WHERE settlement_attempts.iou_id = ious.id AND phase IN ('initiated', 'approved'))`

func (s *SQLiteStore) updateIOUStatus(ctx context.Context, id string, expected, next models.Status, field models.TimestampField, stamp time.Time, idle bool) (*models.IOU, error) {
	query := `UPDATE ious SET status = ? WHERE id = ? AND status = ?`
	args := []any{string(next), id, string(expected)}
	if field != models.StampNone {
		col, err := stampColumn(field)
		if err != nil {
			return nil, err
		}
		query = fmt.Sprintf(`UPDATE ious SET status = ?, %s = COALESCE(%s, ?) WHERE id = ? AND status = ?`, col, col)
		args = []any{string(next), stamp.UnixMicro(), id, string(expected)}
	}
	if idle {
		query += idleCondition
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update iou status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}

	current, err := s.GetIOU(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if current.Status == expected {
			return nil, fmt.Errorf("%w: iou %s has a settlement in flight", models.ErrConflict, id)
		}
		return nil, fmt.Errorf("%w: iou %s is %s, expected %s", models.ErrConflict, id, current.Status, expected)
	}
	return current, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIOU(row rowScanner) (*models.IOU, error) {
	iou := &models.IOU{}
	var (
		direction, status                        string
		note                                     sql.NullString
		createdAt                                int64
		dueDate, acceptedAt, paidAt, cancelledAt sql.NullInt64
	)
	err := row.Scan(&iou.ID, &iou.OwnerID, &direction, &iou.Counterparty, &iou.Amount, &note, &dueDate, &status,
		&createdAt, &acceptedAt, &paidAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	iou.Direction = models.Direction(direction)
	iou.Status = models.Status(status)
	iou.CreatedAt = time.UnixMicro(createdAt).UTC()
	if note.Valid {
		iou.Note = &note.String
	}
	iou.DueDate = timeFromNull(dueDate)
	iou.AcceptedAt = timeFromNull(acceptedAt)
	iou.PaidAt = timeFromNull(paidAt)
	iou.CancelledAt = timeFromNull(cancelledAt)
	return iou, nil
}

func stampColumn(field models.TimestampField) (string, error) {
	switch field {
	case models.StampAccepted, models.StampPaid, models.StampCancelled:
		return string(field), nil
	}
	return "", fmt.Errorf("unknown timestamp field %q", field)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMicro(v.Int64).UTC()
	return &t
}

// isUniqueViolation detects constraint failures from the modernc driver,
// which reports them as "constraint failed: UNIQUE constraint failed: ...".
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
