// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"time"

	"github.com/mmynk/iouledger/internal/models"
)

// Store defines the persistence contract for IOUs, settlement attempts,
// users and callback receipts. This abstraction allows swapping storage
// backends (SQLite, PostgreSQL, memory) without changing the ledger.
//
// Every status or phase change goes through a compare-and-swap method.
// Implementations must apply each CAS atomically; a CAS whose expected
// value no longer matches fails with models.ErrConflict and leaves the
// stored row untouched.
type Store interface {
	// CreateIOU persists a new IOU. The store assigns iou.ID when empty.
	// Returns models.ErrDuplicate if the ID is taken.
	CreateIOU(ctx context.Context, iou *models.IOU) error

	// GetIOU retrieves an IOU by ID or returns models.ErrNotFound.
	GetIOU(ctx context.Context, id string) (*models.IOU, error)

	// UpdateIOUStatus sets status to next only if it currently equals
	// expected, and writes stamp to field unless that stamp is already set.
	// Returns the committed record.
	UpdateIOUStatus(ctx context.Context, id string, expected, next models.Status, field models.TimestampField, stamp time.Time) (*models.IOU, error)

	// UpdateIOUStatusIfIdle is UpdateIOUStatus with one more condition
	// checked in the same atomic step: the IOU has no non-terminal attempt.
	// An attempt in flight fails with models.ErrConflict. Implementations
	// must also order this against CreateAttempt for the same IOU, so an
	// attempt inserted concurrently is either seen here or sees the new
	// status when its creator re-reads the IOU.
	UpdateIOUStatusIfIdle(ctx context.Context, id string, expected, next models.Status, field models.TimestampField, stamp time.Time) (*models.IOU, error)

	// CreateAttempt persists a new attempt. The store assigns attempt.ID when
	// empty. Returns models.ErrConflict if the IOU already has a
	// non-terminal attempt.
	CreateAttempt(ctx context.Context, attempt *models.SettlementAttempt) error

	// GetAttempt retrieves an attempt by its ID.
	GetAttempt(ctx context.Context, id string) (*models.SettlementAttempt, error)

	// GetAttemptByProviderID retrieves the attempt bound to a provider
	// payment ID or returns models.ErrNotFound.
	GetAttemptByProviderID(ctx context.Context, providerPaymentID string) (*models.SettlementAttempt, error)

	// GetActiveAttempt returns the non-terminal attempt for an IOU or
	// models.ErrNotFound when none is in flight.
	GetActiveAttempt(ctx context.Context, iouID string) (*models.SettlementAttempt, error)

	// GetLatestAttempt returns the most recently created attempt for an IOU.
	GetLatestAttempt(ctx context.Context, iouID string) (*models.SettlementAttempt, error)

	// BindProviderPaymentID sets the provider payment ID of an attempt that
	// has none. Binding the same ID again is a no-op. Returns
	// models.ErrConflict if the attempt is bound to another ID or the ID is
	// already bound to a different attempt.
	BindProviderPaymentID(ctx context.Context, attemptID, providerPaymentID string) (*models.SettlementAttempt, error)

	// UpdateAttemptPhase moves an attempt from expected to next. lastError
	// is recorded when non-empty.
	UpdateAttemptPhase(ctx context.Context, attemptID string, expected, next models.Phase, lastError string) (*models.SettlementAttempt, error)

	// ListAttemptsCreatedBefore returns attempts in phase created before the
	// cutoff, oldest first.
	ListAttemptsCreatedBefore(ctx context.Context, phase models.Phase, cutoff time.Time, limit int) ([]*models.SettlementAttempt, error)

	// UpsertUser records a verified user, refreshing the username. A
	// username belongs to at most one user, compared case-insensitively;
	// any other user holding it has theirs cleared.
	UpsertUser(ctx context.Context, user *models.User) error

	// GetUser retrieves a user by ID or returns models.ErrNotFound.
	GetUser(ctx context.Context, id string) (*models.User, error)

	// GetUserByUsername looks a user up case-insensitively.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// RecordCallback appends a receipt. If a receipt with the same
	// fingerprint exists it is returned with replayed=true and nothing is
	// written.
	RecordCallback(ctx context.Context, receipt *models.CallbackReceipt) (stored *models.CallbackReceipt, replayed bool, err error)

	// GetCallback looks up a receipt by fingerprint.
	GetCallback(ctx context.Context, fingerprint string) (*models.CallbackReceipt, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
