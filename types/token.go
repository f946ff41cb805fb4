package types

import "time"

// PasswordResetToken is the single outstanding reset credential for an
// account. Only the SHA-256 hash of the opaque value is kept.
type PasswordResetToken struct {
	Email      string     `db:"email"`
	TokenHash  string     `db:"token_hash"`
	IssuedAt   time.Time  `db:"issued_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	ConsumedAt *time.Time `db:"consumed_at"`
	AppliedAt  *time.Time `db:"applied_at"`
}

// Consumed reports whether the token has already been confirmed.
func (t PasswordResetToken) Consumed() bool {
	return t.ConsumedAt != nil
}

// ExpiredAt reports whether the token is no longer usable at now.
func (t PasswordResetToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RevokedToken records a session token id that must no longer verify.
type RevokedToken struct {
	TokenID   string    `db:"token_id"`
	ExpiresAt time.Time `db:"expires_at"`
	RevokedAt time.Time `db:"revoked_at"`
}
