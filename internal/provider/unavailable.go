package provider

import (
	"context"
	"fmt"

	"github.com/mmynk/iouledger/internal/models"
)

// Unavailable is used when no provider is configured. Every call fails with
// models.ErrProviderUnavailable.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Initiate(context.Context, PaymentRequest) (string, error) {
	return "", fmt.Errorf("%w: no payment provider configured", models.ErrProviderUnavailable)
}

func (Unavailable) VerifyIdentity(context.Context, string) (*Identity, error) {
	return nil, fmt.Errorf("%w: no identity provider configured", models.ErrProviderUnavailable)
}
