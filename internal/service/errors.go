package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/iouledger/internal/auth"
	"github.com/mmynk/iouledger/internal/middleware"
	"github.com/mmynk/iouledger/internal/models"
)

// connectError maps a ledger error onto a Connect code. Errors outside the
// taxonomy are logged and returned as a bare Internal error.
func connectError(ctx context.Context, logger *slog.Logger, op string, err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, models.ErrValidation):
		code = connect.CodeInvalidArgument
	case errors.Is(err, models.ErrIllegalTransition):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, models.ErrAmountMismatch):
		code = connect.CodeDataLoss
	case errors.Is(err, models.ErrConflict):
		code = connect.CodeAborted
	case errors.Is(err, models.ErrProviderUnavailable):
		code = connect.CodeUnavailable
	case errors.Is(err, models.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, models.ErrDuplicate):
		code = connect.CodeAlreadyExists
	case errors.Is(err, models.ErrPermissionDenied):
		code = connect.CodePermissionDenied
	case errors.Is(err, auth.ErrInvalidCredentials):
		code = connect.CodeUnauthenticated
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	}
	if code == connect.CodeInternal {
		logger.ErrorContext(ctx, op+" failed", "error", err)
		return connect.NewError(code, errors.New("internal error"))
	}
	return connect.NewError(code, err)
}

// requireUser returns the authenticated user ID from ctx.
func requireUser(ctx context.Context) (string, error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}
	return userID, nil
}
