package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/greencycle/apiserver/internal/store"
	"github.com/greencycle/apiserver/types"
)

// CodePersistence tags storage failures that surface as server errors.
const CodePersistence = "PERSISTENCE_ERROR"

// maxPasswordBytes is the longest input bcrypt will hash.
const maxPasswordBytes = 72

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdatePasswordHash(ctx context.Context, id int, passwordHash string) error
}

// CredentialStore owns user records and their password hashes.
type CredentialStore struct {
	repo UserRepository
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

func NewCredentialStore(repo UserRepository, cost int) *CredentialStore {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &CredentialStore{repo: repo, cost: cost}
}

// CreateUser hashes password and inserts the user. A username or email
// already in use yields ErrDuplicateAccount.
func (s *CredentialStore) CreateUser(ctx context.Context, username *string, email, password string) (types.User, error) {
	hash, err := s.hash(password)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:     username,
		Email:        normalizeEmail(email),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, ErrDuplicateAccount
		}
		return types.User{}, persistenceError("create user", err)
	}
	return user, nil
}

// FindByIdentifier looks a user up by username or email. A missing user is
// reported as store.ErrNotFound.
func (s *CredentialStore) FindByIdentifier(ctx context.Context, identifier string) (types.User, error) {
	user, err := s.repo.GetByIdentifier(ctx, strings.TrimSpace(identifier))
	return user, lookupError("find user by identifier", err)
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	return user, lookupError("find user by email", err)
}

func (s *CredentialStore) FindByID(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	return user, lookupError("find user by id", err)
}

// SetPassword replaces the stored hash with a fresh salted hash of
// newPassword.
func (s *CredentialStore) SetPassword(ctx context.Context, user types.User, newPassword string) error {
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return persistenceError("update password hash", err)
	}
	return nil
}

// VerifyPassword compares candidate against the stored hash in constant time.
func (s *CredentialStore) VerifyPassword(user types.User, candidate string) bool {
	if user.PasswordHash == "" || candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(candidate)) == nil
}

// VerifyDummy spends the same work as VerifyPassword against a throwaway
// hash. Used when no account matched so that response time does not tell
// callers whether the account exists.
func (s *CredentialStore) VerifyDummy(candidate string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("greencycle-dummy-password"), s.cost)
	})
	if s.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(candidate))
	}
}

func (s *CredentialStore) hash(password string) (string, error) {
	if password == "" {
		return "", newValidationError("password", "required")
	}
	if len(password) > maxPasswordBytes {
		return "", newValidationError("password", "too long")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", oops.In("credentials").Code("HASH_FAILED").Wrap(err)
	}
	return string(hashed), nil
}

func lookupError(op string, err error) error {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return err
	}
	return persistenceError(op, err)
}

func persistenceError(op string, err error) error {
	return oops.In("services").
		Code(CodePersistence).
		With("operation", op).
		Wrapf(err, "%s", op)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
