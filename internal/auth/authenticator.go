package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/internal/provider"
)

var ErrInvalidCredentials = errors.New("invalid provider access token")

// Authenticator signs a user in from a credential issued elsewhere.
// This abstraction allows swapping identity sources without changing the
// service layer code.
type Authenticator interface {
	// Authenticate verifies credential and returns the signed-in user.
	Authenticate(ctx context.Context, credential string) (*models.User, error)
}

// UserRegistry records users who signed in.
type UserRegistry interface {
	RegisterUser(ctx context.Context, id, username string) (*models.User, error)
}

// ProviderAuthenticator trusts the payment provider to vouch for a user's
// identity and records the user so IOU counterparties can be resolved.
type ProviderAuthenticator struct {
	verifier provider.IdentityVerifier
	users    UserRegistry
}

// NewProviderAuthenticator creates an authenticator backed by verifier.
func NewProviderAuthenticator(verifier provider.IdentityVerifier, users UserRegistry) *ProviderAuthenticator {
	return &ProviderAuthenticator{
		verifier: verifier,
		users:    users,
	}
}

// Authenticate exchanges a provider access token for a registered user.
func (a *ProviderAuthenticator) Authenticate(ctx context.Context, credential string) (*models.User, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("%w: access token is required", models.ErrValidation)
	}

	identity, err := a.verifier.VerifyIdentity(ctx, credential)
	if errors.Is(err, models.ErrPermissionDenied) || errors.Is(err, models.ErrValidation) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if identity.UID == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := a.users.RegisterUser(ctx, identity.UID, identity.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	return user, nil
}
