// Package api defines the request and response messages of the iouledger
// RPC services. Messages travel as JSON; see package apiconnect.
package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// IOU is the wire form of a debt record.
type IOU struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Direction    string          `json:"direction"`
	Counterparty string          `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"`
	Note         *string         `json:"note,omitempty"`
	DueDate      *time.Time      `json:"due_date,omitempty"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	AcceptedAt   *time.Time      `json:"accepted_at,omitempty"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
}

// SettlementAttempt describes one payment try for an IOU.
type SettlementAttempt struct {
	ID                string          `json:"id"`
	IOUID             string          `json:"iou_id"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	Phase             string          `json:"phase"`
	Amount            decimal.Decimal `json:"amount"`
	Memo              string          `json:"memo"`
	LastError         string          `json:"last_error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IOUService

type CreateIOURequest struct {
	Direction    string          `json:"direction"`
	Counterparty string          `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note,omitempty"`
	// DueDate is RFC 3339 or YYYY-MM-DD.
	DueDate string `json:"due_date,omitempty"`
}

type CreateIOUResponse struct {
	IOU *IOU `json:"iou"`
}

type GetIOURequest struct {
	IOUID string `json:"iou_id"`
}

type GetIOUResponse struct {
	IOU *IOU `json:"iou"`
}

type AcceptIOURequest struct {
	IOUID string `json:"iou_id"`
}

type AcceptIOUResponse struct {
	IOU *IOU `json:"iou"`
}

type RejectIOURequest struct {
	IOUID string `json:"iou_id"`
}

type RejectIOUResponse struct {
	IOU *IOU `json:"iou"`
}

type BeginSettlementRequest struct {
	IOUID string `json:"iou_id"`
}

type BeginSettlementResponse struct {
	Attempt *SettlementAttempt `json:"attempt"`
}

type CancelSettlementRequest struct {
	IOUID string `json:"iou_id"`
}

type CancelSettlementResponse struct {
	Attempt *SettlementAttempt `json:"attempt"`
}

type GetSettlementRequest struct {
	IOUID string `json:"iou_id"`
}

type GetSettlementResponse struct {
	Attempt *SettlementAttempt `json:"attempt"`
}

// PaymentCallbackService

// PaymentCallback is a provider notification about a payment. Only
// ProviderPaymentID is required.
type PaymentCallback struct {
	ProviderPaymentID string           `json:"provider_payment_id"`
	IOUID             string           `json:"iou_id,omitempty"`
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	Memo              string           `json:"memo,omitempty"`
	// Message is the provider's error text for ReportPaymentError.
	Message string `json:"message,omitempty"`
}

// PaymentAck acknowledges a callback.
type PaymentAck struct {
	Attempt  *SettlementAttempt `json:"attempt,omitempty"`
	IOU      *IOU               `json:"iou,omitempty"`
	Replayed bool               `json:"replayed,omitempty"`
	Message  string             `json:"message,omitempty"`
}

// AuthService

type SignInRequest struct {
	// AccessToken is the payment provider's access token for the user.
	AccessToken string `json:"access_token"`
}

type SignInResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

type GetCurrentUserRequest struct{}

type GetCurrentUserResponse struct {
	User *User `json:"user"`
}
