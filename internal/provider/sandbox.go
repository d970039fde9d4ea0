package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mmynk/iouledger/internal/models"
)

// Sandbox is an in-process provider for local development and tests. It
// accepts every payment and never calls back on its own; drive the
// handshake through the callback service instead.
type Sandbox struct {
	mu       sync.Mutex
	payments map[string]PaymentRequest

	// Fail, when set, is returned by Initiate instead of creating a payment.
	Fail error
}

// NewSandbox creates an empty sandbox.
func NewSandbox() *Sandbox {
	return &Sandbox{payments: make(map[string]PaymentRequest)}
}

func (s *Sandbox) Available() bool { return true }

func (s *Sandbox) Initiate(ctx context.Context, req PaymentRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		return "", s.Fail
	}
	id := "sandbox_" + uuid.New().String()
	s.payments[id] = req
	return id, nil
}

// Payment returns the request recorded under a sandbox payment ID.
func (s *Sandbox) Payment(id string) (PaymentRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	return p, ok
}

// Payments returns the number of payments started.
func (s *Sandbox) Payments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

// VerifyIdentity accepts tokens of the form "<uid>" or "<uid>:<username>".
func (s *Sandbox) VerifyIdentity(_ context.Context, accessToken string) (*Identity, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, fmt.Errorf("%w: access token is required", models.ErrValidation)
	}
	uid, username, _ := strings.Cut(token, ":")
	return &Identity{UID: uid, Username: username}, nil
}
