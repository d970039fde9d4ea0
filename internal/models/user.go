package models

import "time"

// User is a party whose identity was verified by the provider.
type User struct {
	// ID is the provider-issued user identifier.
	ID string

	// Username is the provider handle, used to resolve IOU counterparties.
	// May be empty when the user did not share it.
	Username string

	CreatedAt time.Time
	UpdatedAt time.Time
}
