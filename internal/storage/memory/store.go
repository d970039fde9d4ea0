// Package memory provides an in-memory implementation of storage.Store.
// A single mutex guards all maps, so every compare-and-swap is atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/internal/storage"
)

// Compile-time check: ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// Store keeps records in maps and hands out copies so callers can never
// mutate stored state.
type Store struct {
	mu        sync.Mutex
	ious      map[string]*models.IOU
	attempts  map[string]*models.SettlementAttempt
	byPayment map[string]string // provider payment ID -> attempt ID
	order     map[string]uint64 // attempt ID -> insertion sequence
	seq       uint64
	users     map[string]*models.User
	receipts  map[string]*models.CallbackReceipt
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		ious:      make(map[string]*models.IOU),
		attempts:  make(map[string]*models.SettlementAttempt),
		byPayment: make(map[string]string),
		order:     make(map[string]uint64),
		users:     make(map[string]*models.User),
		receipts:  make(map[string]*models.CallbackReceipt),
	}
}

func (s *Store) CreateIOU(ctx context.Context, iou *models.IOU) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if iou.ID == "" {
		iou.ID = uuid.New().String()
	}
	if _, exists := s.ious[iou.ID]; exists {
		return fmt.Errorf("%w: iou %s", models.ErrDuplicate, iou.ID)
	}
	s.ious[iou.ID] = iou.Clone()
	return nil
}

func (s *Store) GetIOU(ctx context.Context, id string) (*models.IOU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iou, ok := s.ious[id]
	if !ok {
		return nil, fmt.Errorf("%w: iou %s", models.ErrNotFound, id)
	}
	return iou.Clone(), nil
}

func (s *Store) UpdateIOUStatus(ctx context.Context, id string, expected, next models.Status, field models.TimestampField, stamp time.Time) (*models.IOU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iou, ok := s.ious[id]
	if !ok {
		return nil, fmt.Errorf("%w: iou %s", models.ErrNotFound, id)
	}
	if iou.Status != expected {
		return nil, fmt.Errorf("%w: iou %s is %s, expected %s", models.ErrConflict, id, iou.Status, expected)
	}
	iou.Status = next
	iou.SetStampOnce(field, stamp)
	return iou.Clone(), nil
}

func (s *Store) UpdateIOUStatusIfIdle(ctx context.Context, id string, expected, next models.Status, field models.TimestampField, stamp time.Time) (*models.IOU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iou, ok := s.ious[id]
	if !ok {
		return nil, fmt.Errorf("%w: iou %s", models.ErrNotFound, id)
	}
	if iou.Status != expected {
		return nil, fmt.Errorf("%w: iou %s is %s, expected %s", models.ErrConflict, id, iou.Status, expected)
	}
	if active := s.activeLocked(id); active != nil {
		return nil, fmt.Errorf("%w: iou %s has settlement %s %s", models.ErrConflict, id, active.ID, active.Phase)
	}
	iou.Status = next
	iou.SetStampOnce(field, stamp)
	return iou.Clone(), nil
}

func (s *Store) CreateAttempt(ctx context.Context, attempt *models.SettlementAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if _, exists := s.attempts[attempt.ID]; exists {
		return fmt.Errorf("%w: attempt %s", models.ErrDuplicate, attempt.ID)
	}
	if !attempt.Phase.Terminal() {
		if active := s.activeLocked(attempt.IOUID); active != nil {
			return fmt.Errorf("%w: iou %s already has attempt %s in flight", models.ErrConflict, attempt.IOUID, active.ID)
		}
	}
	if attempt.ProviderPaymentID != "" {
		if _, taken := s.byPayment[attempt.ProviderPaymentID]; taken {
			return fmt.Errorf("%w: provider payment %s already bound", models.ErrConflict, attempt.ProviderPaymentID)
		}
		s.byPayment[attempt.ProviderPaymentID] = attempt.ID
	}
	s.seq++
	s.order[attempt.ID] = s.seq
	s.attempts[attempt.ID] = attempt.Clone()
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (*models.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, fmt.Errorf("%w: attempt %s", models.ErrNotFound, id)
	}
	return a.Clone(), nil
}

func (s *Store) GetAttemptByProviderID(ctx context.Context, providerPaymentID string) (*models.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPayment[providerPaymentID]
	if !ok {
		return nil, fmt.Errorf("%w: provider payment %s", models.ErrNotFound, providerPaymentID)
	}
	return s.attempts[id].Clone(), nil
}

func (s *Store) GetActiveAttempt(ctx context.Context, iouID string) (*models.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a := s.activeLocked(iouID); a != nil {
		return a.Clone(), nil
	}
	return nil, fmt.Errorf("%w: no active attempt for iou %s", models.ErrNotFound, iouID)
}

func (s *Store) GetLatestAttempt(ctx context.Context, iouID string) (*models.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.SettlementAttempt
	for _, a := range s.attempts {
		if a.IOUID != iouID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) ||
			(a.CreatedAt.Equal(latest.CreatedAt) && s.order[a.ID] > s.order[latest.ID]) {
			latest = a
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no attempts for iou %s", models.ErrNotFound, iouID)
	}
	return latest.Clone(), nil
}

func (s *Store) BindProviderPaymentID(ctx context.Context, attemptID, providerPaymentID string) (*models.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, fmt.Errorf("%w: attempt %s", models.ErrNotFound, attemptID)
	}
	if a.ProviderPaymentID == providerPaymentID {
		return a.Clone(), nil
	}
	if a.ProviderPaymentID != "" {
		return nil, fmt.Errorf("%w: attempt %s is bound to %s", models.ErrConflict, attemptID, a.ProviderPaymentID)
	}
	if other, taken := s.byPayment[providerPaymentID]; taken && other != attemptID {
		return nil, fmt.Errorf("%w: provider payment %s already bound", models.ErrConflict, providerPaymentID)
	}
	a.ProviderPaymentID = providerPaymentID
	a.UpdatedAt = time.Now().UTC()
	s.byPayment[providerPaymentID] = attemptID
	return a.Clone(), nil
}

func (s *Store) UpdateAttemptPhase(ctx context.Context, attemptID string, expected, next models.Phase, lastError string) (*models.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, fmt.Errorf("%w: attempt %s", models.ErrNotFound, attemptID)
	}
	if a.Phase != expected {
		return nil, fmt.Errorf("%w: attempt %s is %s, expected %s", models.ErrConflict, attemptID, a.Phase, expected)
	}
	a.Phase = next
	if lastError != "" {
		a.LastError = lastError
	}
	a.UpdatedAt = time.Now().UTC()
	return a.Clone(), nil
}

func (s *Store) ListAttemptsCreatedBefore(ctx context.Context, phase models.Phase, cutoff time.Time, limit int) ([]*models.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.SettlementAttempt
	for _, a := range s.attempts {
		if a.Phase == phase && a.CreatedAt.Before(cutoff) {
			result = append(result, a.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return s.order[result[i].ID] < s.order[result[j].ID]
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpsertUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if user.Username != "" {
		for id, u := range s.users {
			if id != user.ID && strings.EqualFold(u.Username, user.Username) {
				u.Username = ""
				u.UpdatedAt = now
			}
		}
	}
	if existing, ok := s.users[user.ID]; ok {
		existing.Username = user.Username
		existing.UpdatedAt = now
		*user = *existing
		return nil
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	stored := *user
	s.users[user.ID] = &stored
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}
	c := *u
	return &c, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username != "" && strings.EqualFold(u.Username, username) {
			c := *u
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: username %s", models.ErrNotFound, username)
}

func (s *Store) RecordCallback(ctx context.Context, receipt *models.CallbackReceipt) (*models.CallbackReceipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.receipts[receipt.Fingerprint]; ok {
		c := *existing
		return &c, true, nil
	}
	stored := *receipt
	s.receipts[receipt.Fingerprint] = &stored
	c := stored
	return &c, false, nil
}

func (s *Store) GetCallback(ctx context.Context, fingerprint string) (*models.CallbackReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[fingerprint]
	if !ok {
		return nil, fmt.Errorf("%w: callback %s", models.ErrNotFound, fingerprint)
	}
	c := *r
	return &c, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) activeLocked(iouID string) *models.SettlementAttempt {
	for _, a := range s.attempts {
		if a.IOUID == iouID && !a.Phase.Terminal() {
			return a
		}
	}
	return nil
}
