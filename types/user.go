package types

import "time"

// User represents a registered account.
// It contains identity, credential, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the optional unique login name chosen by the user.
	// Accounts created with only an email leave it nil.
	Username *string `json:"username,omitempty" db:"username"`

	// Email is the user's unique email address, stored lower-cased.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the salted bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

