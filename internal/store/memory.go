package store

import (
	"context"
	"sync"
	"time"

	"github.com/greencycle/apiserver/types"
)

// MemoryUserRepository keeps users in process memory. It is meant for
// single-process development runs and tests; uniqueness is checked and the
// insert applied under one lock.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	nextID int
	users  map[int]types.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int]types.User)}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id int) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	email = normalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) GetByIdentifier(_ context.Context, identifier string) (types.User, error) {
	email := normalizeEmail(identifier)
	r.mu.RLock()
	defer r.mu.RUnlock()
	found := types.User{}
	for _, user := range r.users {
		matches := user.Email == email || (user.Username != nil && *user.Username == identifier)
		if matches && (found.ID == 0 || user.ID < found.ID) {
			found = user
		}
	}
	if found.ID == 0 {
		return types.User{}, ErrNotFound
	}
	return cloneUser(found), nil
}

func (r *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	user.Email = normalizeEmail(user.Email)
	if user.Username != nil && *user.Username == "" {
		user.Username = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, ErrDuplicate
		}
		if user.Username != nil && existing.Username != nil && *existing.Username == *user.Username {
			return types.User{}, ErrDuplicate
		}
	}

	r.nextID++
	now := time.Now().UTC()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) UpdatePasswordHash(_ context.Context, id int, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return nil
}

func cloneUser(user types.User) types.User {
	if user.Username != nil {
		username := *user.Username
		user.Username = &username
	}
	return user
}

// MemoryResetTokenRepository keeps reset tokens in process memory, keyed by
// email. Suitable only when a single process serves all requests.
type MemoryResetTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]types.PasswordResetToken
}

func NewMemoryResetTokenRepository() *MemoryResetTokenRepository {
	return &MemoryResetTokenRepository{tokens: make(map[string]types.PasswordResetToken)}
}

func (r *MemoryResetTokenRepository) Upsert(_ context.Context, token types.PasswordResetToken) error {
	token.Email = normalizeEmail(token.Email)
	token.ConsumedAt = nil
	token.AppliedAt = nil
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.Email] = token
	return nil
}

func (r *MemoryResetTokenRepository) Get(_ context.Context, email string) (types.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[normalizeEmail(email)]
	if !ok {
		return types.PasswordResetToken{}, ErrNotFound
	}
	return token, nil
}

func (r *MemoryResetTokenRepository) Consume(
	_ context.Context,
	email string,
	at time.Time,
	check func(types.PasswordResetToken) error,
) error {
	email = normalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[email]
	if !ok {
		return ErrNotFound
	}
	if err := check(token); err != nil {
		return err
	}
	consumedAt := at
	token.ConsumedAt = &consumedAt
	r.tokens[email] = token
	return nil
}

func (r *MemoryResetTokenRepository) MarkApplied(_ context.Context, email string, at time.Time) error {
	email = normalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[email]
	if !ok || token.ConsumedAt == nil || token.AppliedAt != nil {
		return ErrNotFound
	}
	appliedAt := at
	token.AppliedAt = &appliedAt
	r.tokens[email] = token
	return nil
}

func (r *MemoryResetTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for email, token := range r.tokens {
		if !token.ExpiresAt.After(before) {
			delete(r.tokens, email)
			removed++
		}
	}
	return removed, nil
}

// MemoryRevocationRepository is the in-process revocation list.
type MemoryRevocationRepository struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

func NewMemoryRevocationRepository() *MemoryRevocationRepository {
	return &MemoryRevocationRepository{revoked: make(map[string]time.Time)}
}

func (r *MemoryRevocationRepository) Revoke(_ context.Context, token types.RevokedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.revoked[token.TokenID]; !ok {
		r.revoked[token.TokenID] = token.ExpiresAt
	}
	return nil
}

func (r *MemoryRevocationRepository) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.revoked[tokenID]
	return ok, nil
}

func (r *MemoryRevocationRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, expiresAt := range r.revoked {
		if !expiresAt.After(before) {
			delete(r.revoked, id)
			removed++
		}
	}
	return removed, nil
}
