package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/greencycle/apiserver/types"
)

const DefaultSessionTokenTTL = 24 * time.Hour

// RevocationList records session tokens that were logged out before
// their expiry.
type RevocationList interface {
	Revoke(ctx context.Context, token types.RevokedToken) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type SessionConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// SessionClaims is the verified content of a session token.
type SessionClaims struct {
	UserID    int
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionTokenService issues and verifies signed, time-bound session
// tokens. Tokens are HS256 JWTs and are never stored server side.
type SessionTokenService struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	now     func() time.Time
	revoked RevocationList
}

// NewSessionTokenService builds the service. revoked may be nil, in which
// case logout is unsupported and only signature and expiry are checked.
func NewSessionTokenService(cfg SessionConfig, revoked RevocationList) (*SessionTokenService, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("session token secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SessionTokenService{
		secret:  []byte(secret),
		issuer:  cfg.Issuer,
		ttl:     ttl,
		now:     now,
		revoked: revoked,
	}, nil
}

// TTL returns the configured lifetime of issued tokens.
func (s *SessionTokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for userID valid for the configured TTL.
func (s *SessionTokenService) Issue(userID int) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.issuer,
		Subject:   strconv.Itoa(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, oops.In("session").Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks the signature first, then expiry, then the revocation
// list. Tampered or malformed tokens yield ErrInvalidToken; expired ones
// ErrExpiredToken.
func (s *SessionTokenService) Verify(ctx context.Context, tokenString string) (SessionClaims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return SessionClaims{}, err
	}

	if s.revoked != nil && claims.TokenID != "" {
		revoked, err := s.revoked.IsRevoked(ctx, claims.TokenID)
		if err != nil {
			return SessionClaims{}, persistenceError("check token revocation", err)
		}
		if revoked {
			return SessionClaims{}, ErrRevokedToken
		}
	}
	return claims, nil
}

// Revoke invalidates a still-valid token until its natural expiry.
func (s *SessionTokenService) Revoke(ctx context.Context, tokenString string) error {
	if s.revoked == nil {
		return errors.New("token revocation is not configured")
	}
	claims, err := s.Verify(ctx, tokenString)
	if err != nil {
		return err
	}
	if claims.TokenID == "" {
		return ErrInvalidToken
	}
	err = s.revoked.Revoke(ctx, types.RevokedToken{
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
		RevokedAt: s.now(),
	})
	if err != nil {
		return persistenceError("revoke session token", err)
	}
	return nil
}

func (s *SessionTokenService) parse(tokenString string) (SessionClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return SessionClaims{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredToken
		}
		return SessionClaims{}, ErrInvalidToken
	}
	if !token.Valid {
		return SessionClaims{}, ErrInvalidToken
	}

	userID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || userID < 1 {
		return SessionClaims{}, ErrInvalidToken
	}

	out := SessionClaims{UserID: userID, TokenID: claims.ID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
