package models

import "time"

// CallbackKind identifies which provider notification arrived.
type CallbackKind string

const (
	CallbackApproval   CallbackKind = "approval"
	CallbackCompletion CallbackKind = "completion"
	CallbackCancel     CallbackKind = "cancel"
	CallbackError      CallbackKind = "error"
)

// CallbackReceipt is the log entry for one distinct callback payload.
// Fingerprint is unique; replays of the same payload map to the same receipt.
type CallbackReceipt struct {
	Fingerprint       string
	Kind              CallbackKind
	ProviderPaymentID string
	IOUID             string

	// Outcome is "ok" on success or the error text that was returned.
	Outcome string

	// Phase is the attempt phase after the callback was handled.
	Phase Phase

	ReceivedAt time.Time
}
