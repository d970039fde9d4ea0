package service

import (
	"github.com/mmynk/iouledger/internal/ledger"
	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/pkg/api"
)

func toAPIIOU(iou *models.IOU) *api.IOU {
	if iou == nil {
		return nil
	}
	return &api.IOU{
		ID:           iou.ID,
		OwnerID:      iou.OwnerID,
		Direction:    string(iou.Direction),
		Counterparty: iou.Counterparty,
		Amount:       iou.Amount,
		Note:         iou.Note,
		DueDate:      iou.DueDate,
		Status:       string(iou.Status),
		CreatedAt:    iou.CreatedAt,
		AcceptedAt:   iou.AcceptedAt,
		PaidAt:       iou.PaidAt,
		CancelledAt:  iou.CancelledAt,
	}
}

func toAPIAttempt(a *models.SettlementAttempt) *api.SettlementAttempt {
	if a == nil {
		return nil
	}
	return &api.SettlementAttempt{
		ID:                a.ID,
		IOUID:             a.IOUID,
		ProviderPaymentID: a.ProviderPaymentID,
		Phase:             string(a.Phase),
		Amount:            a.Amount,
		Memo:              a.Memo,
		LastError:         a.LastError,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toAPIUser(u *models.User) *api.User {
	if u == nil {
		return nil
	}
	return &api.User{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
	}
}

func toAPIAck(ack *ledger.Ack) *api.PaymentAck {
	if ack == nil {
		return &api.PaymentAck{}
	}
	return &api.PaymentAck{
		Attempt:  toAPIAttempt(ack.Attempt),
		IOU:      toAPIIOU(ack.IOU),
		Replayed: ack.Replayed,
		Message:  ack.Message,
	}
}

func fromAPICallback(cb *api.PaymentCallback) ledger.Callback {
	return ledger.Callback{
		ProviderPaymentID: cb.ProviderPaymentID,
		IOUID:             cb.IOUID,
		Amount:            cb.Amount,
		Memo:              cb.Memo,
		Message:           cb.Message,
	}
}
