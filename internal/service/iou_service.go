package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/iouledger/internal/ledger"
	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/pkg/api"
)

// IOUService implements the IOUService RPC interface.
type IOUService struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewIOUService creates a new IOU service backed by l.
func NewIOUService(l *ledger.Ledger, logger *slog.Logger) *IOUService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IOUService{
		ledger: l,
		logger: logger,
	}
}

// CreateIOU records a new IOU owned by the caller.
func (s *IOUService) CreateIOU(ctx context.Context, req *connect.Request[api.CreateIOURequest]) (*connect.Response[api.CreateIOUResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "CreateIOU request", "user_id", userID, "direction", req.Msg.Direction)

	iou, err := s.ledger.CreateIOU(ctx, models.NewIOUParams{
		OwnerID:      userID,
		Direction:    req.Msg.Direction,
		Counterparty: req.Msg.Counterparty,
		Amount:       req.Msg.Amount,
		Note:         req.Msg.Note,
		DueDate:      req.Msg.DueDate,
	})
	if err != nil {
		return nil, connectError(ctx, s.logger, "CreateIOU", err)
	}

	s.logger.InfoContext(ctx, "IOU created", "iou_id", iou.ID, "user_id", userID)
	return connect.NewResponse(&api.CreateIOUResponse{IOU: toAPIIOU(iou)}), nil
}

// GetIOU returns an IOU the caller is a party to.
func (s *IOUService) GetIOU(ctx context.Context, req *connect.Request[api.GetIOURequest]) (*connect.Response[api.GetIOUResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	iou, err := s.ledger.GetIOU(ctx, userID, req.Msg.IOUID)
	if err != nil {
		return nil, connectError(ctx, s.logger, "GetIOU", err)
	}
	return connect.NewResponse(&api.GetIOUResponse{IOU: toAPIIOU(iou)}), nil
}

// AcceptIOU acknowledges a pending IOU on behalf of its counterparty.
func (s *IOUService) AcceptIOU(ctx context.Context, req *connect.Request[api.AcceptIOURequest]) (*connect.Response[api.AcceptIOUResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "AcceptIOU request", "iou_id", req.Msg.IOUID, "user_id", userID)

	iou, err := s.ledger.AcceptIOU(ctx, userID, req.Msg.IOUID)
	if err != nil {
		return nil, connectError(ctx, s.logger, "AcceptIOU", err)
	}
	return connect.NewResponse(&api.AcceptIOUResponse{IOU: toAPIIOU(iou)}), nil
}

// RejectIOU cancels a pending IOU.
func (s *IOUService) RejectIOU(ctx context.Context, req *connect.Request[api.RejectIOURequest]) (*connect.Response[api.RejectIOUResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "RejectIOU request", "iou_id", req.Msg.IOUID, "user_id", userID)

	iou, err := s.ledger.RejectIOU(ctx, userID, req.Msg.IOUID)
	if err != nil {
		return nil, connectError(ctx, s.logger, "RejectIOU", err)
	}
	return connect.NewResponse(&api.RejectIOUResponse{IOU: toAPIIOU(iou)}), nil
}

// BeginSettlement starts paying an IOU through the payment provider.
func (s *IOUService) BeginSettlement(ctx context.Context, req *connect.Request[api.BeginSettlementRequest]) (*connect.Response[api.BeginSettlementResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "BeginSettlement request", "iou_id", req.Msg.IOUID, "user_id", userID)

	attempt, err := s.ledger.BeginSettlement(ctx, userID, req.Msg.IOUID)
	if err != nil {
		return nil, connectError(ctx, s.logger, "BeginSettlement", err)
	}

	s.logger.InfoContext(ctx, "Settlement initiated",
		"iou_id", attempt.IOUID,
		"attempt_id", attempt.ID,
		"provider_payment_id", attempt.ProviderPaymentID,
	)
	return connect.NewResponse(&api.BeginSettlementResponse{Attempt: toAPIAttempt(attempt)}), nil
}

// CancelSettlement abandons the in-flight payment for an IOU.
func (s *IOUService) CancelSettlement(ctx context.Context, req *connect.Request[api.CancelSettlementRequest]) (*connect.Response[api.CancelSettlementResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "CancelSettlement request", "iou_id", req.Msg.IOUID, "user_id", userID)

	attempt, err := s.ledger.CancelSettlement(ctx, userID, req.Msg.IOUID)
	if err != nil {
		return nil, connectError(ctx, s.logger, "CancelSettlement", err)
	}
	return connect.NewResponse(&api.CancelSettlementResponse{Attempt: toAPIAttempt(attempt)}), nil
}

// GetSettlement returns the latest payment attempt for an IOU.
func (s *IOUService) GetSettlement(ctx context.Context, req *connect.Request[api.GetSettlementRequest]) (*connect.Response[api.GetSettlementResponse], error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	attempt, err := s.ledger.GetSettlement(ctx, userID, req.Msg.IOUID)
	if err != nil {
		return nil, connectError(ctx, s.logger, "GetSettlement", err)
	}
	return connect.NewResponse(&api.GetSettlementResponse{Attempt: toAPIAttempt(attempt)}), nil
}
