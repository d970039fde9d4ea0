// Package models defines the domain types of the IOU ledger.
//
// # Records
//
//   - IOU: a debt between an owner and a counterparty, tracked by Status
//   - SettlementAttempt: one try at paying an IOU through the payment provider
//   - User: a provider-verified identity
//   - CallbackReceipt: the log entry for a provider callback payload
//
// # Rules
//
// Fields of an IOU other than Status and the transition stamps never change
// after creation. Stamps are written once. Exactly one non-terminal
// SettlementAttempt may exist per IOU; an IOU is Paid only after one of its
// attempts reached PhaseCompleted.
//
// The error taxonomy in errors.go is shared by every layer; wrap with %w and
// match with errors.Is.
package models
