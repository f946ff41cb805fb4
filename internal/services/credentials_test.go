package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/greencycle/apiserver/internal/store"
	"github.com/greencycle/apiserver/types"
)

func strPtr(s string) *string { return &s }

func TestCredentialStore_CreateAndVerify(t *testing.T) {
	creds := NewCredentialStore(store.NewMemoryUserRepository(), bcrypt.MinCost)
	ctx := context.Background()

	user, err := creds.CreateUser(ctx, strPtr("alice"), "  Alice@X.io ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.io", user.Email)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	assert.True(t, strings.HasPrefix(user.PasswordHash, "$2"))

	assert.True(t, creds.VerifyPassword(user, "secret1"))
	assert.False(t, creds.VerifyPassword(user, "secret2"))
	assert.False(t, creds.VerifyPassword(user, ""))

	byName, err := creds.FindByIdentifier(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	byEmail, err := creds.FindByIdentifier(ctx, "ALICE@x.io")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
}

func TestCredentialStore_SaltsEachHash(t *testing.T) {
	creds := NewCredentialStore(store.NewMemoryUserRepository(), bcrypt.MinCost)
	ctx := context.Background()

	a, err := creds.CreateUser(ctx, nil, "a@x.io", "samepass")
	require.NoError(t, err)
	b, err := creds.CreateUser(ctx, nil, "b@x.io", "samepass")
	require.NoError(t, err)

	assert.NotEqual(t, a.PasswordHash, b.PasswordHash)
}

func TestCredentialStore_Duplicate(t *testing.T) {
	creds := NewCredentialStore(store.NewMemoryUserRepository(), bcrypt.MinCost)
	ctx := context.Background()

	_, err := creds.CreateUser(ctx, strPtr("alice"), "a@x.io", "secret1")
	require.NoError(t, err)

	_, err = creds.CreateUser(ctx, strPtr("other"), "A@X.IO", "secret1")
	assert.ErrorIs(t, err, ErrDuplicateAccount)

	_, err = creds.CreateUser(ctx, strPtr("alice"), "b@x.io", "secret1")
	assert.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestCredentialStore_SetPassword(t *testing.T) {
	creds := NewCredentialStore(store.NewMemoryUserRepository(), bcrypt.MinCost)
	ctx := context.Background()

	user, err := creds.CreateUser(ctx, nil, "a@x.io", "oldpass")
	require.NoError(t, err)
	require.NoError(t, creds.SetPassword(ctx, user, "newpass"))

	reloaded, err := creds.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, creds.VerifyPassword(reloaded, "newpass"))
	assert.False(t, creds.VerifyPassword(reloaded, "oldpass"))
}

func TestCredentialStore_RejectsUnhashablePasswords(t *testing.T) {
	creds := NewCredentialStore(store.NewMemoryUserRepository(), bcrypt.MinCost)

	_, err := creds.CreateUser(context.Background(), nil, "a@x.io", strings.Repeat("p", 73))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "password", verr.Field)

	_, err = creds.CreateUser(context.Background(), nil, "a@x.io", "")
	require.True(t, errors.As(err, &verr))
}

func TestCredentialStore_NotFound(t *testing.T) {
	creds := NewCredentialStore(store.NewMemoryUserRepository(), bcrypt.MinCost)

	_, err := creds.FindByIdentifier(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// must not panic and must tolerate any input
	creds.VerifyDummy("whatever")
	creds.VerifyDummy("")
}

type failingUserRepo struct {
	store.MemoryUserRepository
	err error
}

func (r *failingUserRepo) GetByIdentifier(context.Context, string) (types.User, error) {
	return types.User{}, r.err
}

func (r *failingUserRepo) Create(context.Context, types.User) (types.User, error) {
	return types.User{}, r.err
}

func TestCredentialStore_WrapsPersistenceErrors(t *testing.T) {
	boom := errors.New("connection reset")
	creds := NewCredentialStore(&failingUserRepo{err: boom}, bcrypt.MinCost)

	_, err := creds.FindByIdentifier(context.Background(), "alice")
	require.ErrorIs(t, err, boom)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, CodePersistence, oopsErr.Code())

	_, err = creds.CreateUser(context.Background(), nil, "a@x.io", "secret1")
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDuplicateAccount)
}

func TestNewCredentialStore_ClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewCredentialStore(nil, 0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewCredentialStore(nil, 99).cost)
	assert.Equal(t, bcrypt.MinCost, NewCredentialStore(nil, bcrypt.MinCost).cost)
}
