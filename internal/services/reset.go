package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/greencycle/apiserver/internal/store"
	"github.com/greencycle/apiserver/types"
)

const (
	// ResetTokenBytes is the amount of randomness in a reset token; the
	// hex form handed to users is twice as long.
	ResetTokenBytes      = 32
	DefaultResetTokenTTL = time.Hour
)

// ResetTokenRepository persists at most one reset token per email.
type ResetTokenRepository interface {
	Upsert(ctx context.Context, token types.PasswordResetToken) error
	Get(ctx context.Context, email string) (types.PasswordResetToken, error)
	Consume(ctx context.Context, email string, at time.Time, check func(types.PasswordResetToken) error) error
	MarkApplied(ctx context.Context, email string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type ResetConfig struct {
	TTL time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// PasswordResetTokenService issues single-use, expiring reset tokens
// scoped to one email and confirms them.
//
// Per email the token moves NoActiveToken -> Issued -> {Consumed, Expired}.
// Issuing again replaces whatever token the email had.
type PasswordResetTokenService struct {
	repo ResetTokenRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewPasswordResetTokenService(repo ResetTokenRepository, cfg ResetConfig) *PasswordResetTokenService {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &PasswordResetTokenService{repo: repo, ttl: ttl, now: now}
}

// Issue generates a new token for email, superseding any earlier one, and
// returns its plaintext form. Only a hash of the token is stored.
func (s *PasswordResetTokenService) Issue(ctx context.Context, email string) (string, time.Time, error) {
	token, hash, err := generateResetToken()
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	record := types.PasswordResetToken{
		Email:     normalizeEmail(email),
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return "", time.Time{}, persistenceError("store reset token", err)
	}
	return token, record.ExpiresAt, nil
}

// Confirm consumes the token for email if candidate matches it and it is
// neither used nor expired. Checking and consuming happen atomically, so
// the same token never confirms twice.
func (s *PasswordResetTokenService) Confirm(ctx context.Context, email, candidate string) error {
	now := s.now()
	candidateHash := hashResetToken(candidate)

	err := s.repo.Consume(ctx, normalizeEmail(email), now, func(token types.PasswordResetToken) error {
		if token.Consumed() {
			return ErrTokenAlreadyConsumed
		}
		if token.ExpiredAt(now) {
			return ErrTokenExpired
		}
		if subtle.ConstantTimeCompare([]byte(candidateHash), []byte(token.TokenHash)) != 1 {
			return ErrTokenMismatch
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNoSuchToken
	case IsResetTokenError(err):
		return err
	default:
		return persistenceError("consume reset token", err)
	}
}

// MarkApplied closes the confirmed-but-not-applied window for email once
// the new password has been written.
func (s *PasswordResetTokenService) MarkApplied(ctx context.Context, email string) error {
	err := s.repo.MarkApplied(ctx, normalizeEmail(email), s.now())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return persistenceError("mark reset applied", err)
	}
	return nil
}

// IsConfirmedPending reports whether email has a confirmed token whose
// password change has not been applied yet and which has not expired.
func (s *PasswordResetTokenService) IsConfirmedPending(ctx context.Context, email string) (bool, error) {
	token, err := s.repo.Get(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, persistenceError("get reset token", err)
	}
	return token.Consumed() && token.AppliedAt == nil && !token.ExpiredAt(s.now()), nil
}

// PruneExpired removes tokens past their expiry.
func (s *PasswordResetTokenService) PruneExpired(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, persistenceError("prune reset tokens", err)
	}
	return removed, nil
}

func generateResetToken() (token, hash string, err error) {
	buf := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", oops.In("reset").Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(buf)
	return token, hashResetToken(token), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
