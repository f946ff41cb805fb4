package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/greencycle/apiserver/types"
)

const resetTokenColumns = `email, token_hash, issued_at, expires_at, consumed_at, applied_at`

// ResetTokenRepository persists password reset tokens, one row per email.
type ResetTokenRepository struct {
	db *sql.DB
}

func NewResetTokenRepository(db *sql.DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Upsert stores token as the only outstanding token for its email,
// replacing whatever was there before in one statement.
func (r *ResetTokenRepository) Upsert(ctx context.Context, token types.PasswordResetToken) error {
	const query = `
		INSERT INTO password_reset_tokens (email, token_hash, issued_at, expires_at, consumed_at, applied_at)
		VALUES ($1, $2, $3, $4, NULL, NULL)
		ON CONFLICT (email) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at,
			consumed_at = NULL,
			applied_at = NULL`
	_, err := r.db.ExecContext(
		ctx,
		query,
		normalizeEmail(token.Email),
		token.TokenHash,
		token.IssuedAt,
		token.ExpiresAt,
	)
	return err
}

func (r *ResetTokenRepository) Get(ctx context.Context, email string) (types.PasswordResetToken, error) {
	const query = `
		SELECT ` + resetTokenColumns + `
		FROM password_reset_tokens
		WHERE email = $1`
	return scanResetToken(r.db.QueryRowContext(ctx, query, normalizeEmail(email)))
}

// Consume locks the token row for email, runs check against it and, when
// check passes, marks the token consumed at the given time. Both steps run
// in one transaction so a token can be consumed at most once.
func (r *ResetTokenRepository) Consume(
	ctx context.Context,
	email string,
	at time.Time,
	check func(types.PasswordResetToken) error,
) (err error) {
	email = normalizeEmail(email)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const selectQuery = `
		SELECT ` + resetTokenColumns + `
		FROM password_reset_tokens
		WHERE email = $1
		FOR UPDATE`
	token, err := scanResetToken(tx.QueryRowContext(ctx, selectQuery, email))
	if err != nil {
		return err
	}
	if err = check(token); err != nil {
		return err
	}

	const updateQuery = `
		UPDATE password_reset_tokens
		SET consumed_at = $1
		WHERE email = $2`
	if _, err = tx.ExecContext(ctx, updateQuery, at, email); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkApplied records that the password change backed by a consumed token
// has been written.
func (r *ResetTokenRepository) MarkApplied(ctx context.Context, email string, at time.Time) error {
	const query = `
		UPDATE password_reset_tokens
		SET applied_at = $1
		WHERE email = $2 AND consumed_at IS NOT NULL AND applied_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, at, normalizeEmail(email))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM password_reset_tokens WHERE expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanResetToken(row *sql.Row) (types.PasswordResetToken, error) {
	var token types.PasswordResetToken
	var consumedAt, appliedAt sql.NullTime
	err := row.Scan(
		&token.Email,
		&token.TokenHash,
		&token.IssuedAt,
		&token.ExpiresAt,
		&consumedAt,
		&appliedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.PasswordResetToken{}, ErrNotFound
		}
		return types.PasswordResetToken{}, err
	}
	if consumedAt.Valid {
		token.ConsumedAt = &consumedAt.Time
	}
	if appliedAt.Valid {
		token.AppliedAt = &appliedAt.Time
	}
	return token, nil
}
