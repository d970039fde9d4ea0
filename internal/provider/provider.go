// Package provider talks to the external payment platform that moves money
// for a settlement. The ledger only asks a provider to start a payment; the
// outcome arrives later through the callback handlers.
package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentRequest is what a settlement attempt asks the provider to charge.
type PaymentRequest struct {
	IOUID     string
	AttemptID string
	Payer     string
	Amount    decimal.Decimal
	Memo      string
}

// PaymentProvider starts payments.
type PaymentProvider interface {
	// Available reports whether payments can be started at all.
	Available() bool

	// Initiate registers the payment and returns the provider's payment ID.
	Initiate(ctx context.Context, req PaymentRequest) (string, error)
}

// Identity is a user as vouched for by the provider.
type Identity struct {
	UID      string
	Username string
}

// IdentityVerifier exchanges a provider access token for the user it
// belongs to.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, accessToken string) (*Identity, error)
}
