package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/iouledger/internal/ledger"
	"github.com/mmynk/iouledger/pkg/api"
)

// PaymentCallbackService implements the PaymentCallbackService RPC
// interface. The payer's client relays each provider callback here; every
// entry point is safe to call repeatedly with the same payload.
type PaymentCallbackService struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewPaymentCallbackService creates a callback service backed by l.
func NewPaymentCallbackService(l *ledger.Ledger, logger *slog.Logger) *PaymentCallbackService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentCallbackService{
		ledger: l,
		logger: logger,
	}
}

// AttemptPhaseHeader carries the attempt phase on a rejected callback.
const AttemptPhaseHeader = "Settlement-Phase"

type callbackHandler func(context.Context, ledger.Callback) (*ledger.Ack, error)

func (s *PaymentCallbackService) handle(ctx context.Context, op string, fn callbackHandler, msg *api.PaymentCallback) (*connect.Response[api.PaymentAck], error) {
	if _, err := requireUser(ctx); err != nil {
		return nil, err
	}
	ack, err := fn(ctx, fromAPICallback(msg))
	if err != nil {
		cerr := connectError(ctx, s.logger, op, err)
		// A rejected callback still reports where the attempt ended up.
		var connectErr *connect.Error
		if ack != nil && ack.Attempt != nil && errors.As(cerr, &connectErr) {
			connectErr.Meta().Set(AttemptPhaseHeader, string(ack.Attempt.Phase))
		}
		return nil, cerr
	}
	return connect.NewResponse(toAPIAck(ack)), nil
}

// ApprovePayment handles the provider's approval callback.
func (s *PaymentCallbackService) ApprovePayment(ctx context.Context, req *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error) {
	return s.handle(ctx, "ApprovePayment", s.ledger.HandleApproval, req.Msg)
}

// CompletePayment handles the provider's completion callback.
func (s *PaymentCallbackService) CompletePayment(ctx context.Context, req *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error) {
	return s.handle(ctx, "CompletePayment", s.ledger.HandleCompletion, req.Msg)
}

// CancelPayment handles the provider's cancel callback.
func (s *PaymentCallbackService) CancelPayment(ctx context.Context, req *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error) {
	return s.handle(ctx, "CancelPayment", s.ledger.HandleCancel, req.Msg)
}

// ReportPaymentError handles the provider's error callback.
func (s *PaymentCallbackService) ReportPaymentError(ctx context.Context, req *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error) {
	return s.handle(ctx, "ReportPaymentError", s.ledger.HandleError, req.Msg)
}
