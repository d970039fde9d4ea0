package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/iouledger/internal/auth"
	"github.com/mmynk/iouledger/internal/middleware"
	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/pkg/api"
)

// UserLookup fetches a stored user.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// AuthService implements the AuthService RPC interface.
type AuthService struct {
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	users         UserLookup
	logger        *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(authenticator auth.Authenticator, jwtManager *auth.JWTManager, users UserLookup, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		users:         users,
		logger:        logger,
	}
}

// SignIn verifies a provider access token and issues a session token.
func (s *AuthService) SignIn(ctx context.Context, req *connect.Request[api.SignInRequest]) (*connect.Response[api.SignInResponse], error) {
	user, err := s.authenticator.Authenticate(ctx, req.Msg.AccessToken)
	if err != nil {
		s.logger.WarnContext(ctx, "Sign-in failed", "error", err)
		return nil, connectError(ctx, s.logger, "SignIn", err)
	}

	// Generate JWT token
	token, err := s.jwtManager.Generate(user)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to generate token", "user_id", user.ID, "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	s.logger.InfoContext(ctx, "User signed in", "user_id", user.ID, "username", user.Username)
	return connect.NewResponse(&api.SignInResponse{
		User:  toAPIUser(user),
		Token: token,
	}), nil
}

// GetCurrentUser returns the currently authenticated user's information.
func (s *AuthService) GetCurrentUser(ctx context.Context, req *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		// The session outlived the stored record; answer from the claims.
		user = &models.User{ID: userID, Username: middleware.GetUsername(ctx)}
	} else if err != nil {
		return nil, connectError(ctx, s.logger, "GetCurrentUser", err)
	}
	return connect.NewResponse(&api.GetCurrentUserResponse{User: toAPIUser(user)}), nil
}
