package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/greencycle/apiserver/internal/store"
)

const testSecret = "test-secret"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingDelivery struct {
	mu       sync.Mutex
	messages []ResetMessage
	err      error
}

func (d *recordingDelivery) DeliverResetToken(_ context.Context, msg ResetMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return d.err
}

func (d *recordingDelivery) last(t *testing.T) ResetMessage {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.messages, "no reset message delivered")
	return d.messages[len(d.messages)-1]
}

type testEnv struct {
	clock    *fakeClock
	users    *store.MemoryUserRepository
	resets   *store.MemoryResetTokenRepository
	revoked  *store.MemoryRevocationRepository
	creds    *CredentialStore
	sessions *SessionTokenService
	tokens   *PasswordResetTokenService
	delivery *recordingDelivery
	accounts *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:    newFakeClock(),
		users:    store.NewMemoryUserRepository(),
		resets:   store.NewMemoryResetTokenRepository(),
		revoked:  store.NewMemoryRevocationRepository(),
		delivery: &recordingDelivery{},
	}
	env.creds = NewCredentialStore(env.users, bcrypt.MinCost)

	sessions, err := NewSessionTokenService(SessionConfig{
		Secret: testSecret,
		Issuer: "greencycle-test",
		TTL:    time.Hour,
		Now:    env.clock.Now,
	}, env.revoked)
	require.NoError(t, err)
	env.sessions = sessions

	env.tokens = NewPasswordResetTokenService(env.resets, ResetConfig{
		TTL: 15 * time.Minute,
		Now: env.clock.Now,
	})

	accounts, err := NewAccountService(AccountDependencies{
		Credentials: env.creds,
		Sessions:    env.sessions,
		Resets:      env.tokens,
		Delivery:    env.delivery,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	env.accounts = accounts
	return env
}

func (e *testEnv) signup(t *testing.T, username, email, password string) {
	t.Helper()
	_, err := e.accounts.Signup(context.Background(), SignupInput{
		Username:        username,
		Email:           email,
		Password:        password,
		PasswordConfirm: password,
	})
	require.NoError(t, err)
}
