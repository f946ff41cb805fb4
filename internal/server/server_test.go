package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/greencycle/apiserver/config"
	"github.com/greencycle/apiserver/internal/handlers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() config.Config {
	return config.Config{
		Env:          "test",
		ServerPort:   18080,
		StoreBackend: config.StoreBackendMemory,
		Auth: config.AuthConfig{
			JWTSecret:         "server-secret",
			JWTIssuer:         "greencycle-test",
			SessionTokenTTL:   time.Hour,
			ResetTokenTTL:     time.Hour,
			BcryptCost:        bcrypt.MinCost,
			PasswordMinLength: 6,
		},
		HTTP: config.HTTPConfig{
			RateLimitPerMinute: 100,
			RequestTimeout:     5 * time.Second,
		},
		MQ:      config.MQConfig{Backend: config.MQBackendNone, ResetChannel: "password-reset"},
		Storage: config.StorageConfig{Backend: config.StorageBackendNone, CatalogPrefix: "catalog"},
	}
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_MemoryBackend(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	assert.Equal(t, ":18080", srv.Addr())
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rewards", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	signup := postJSON(t, router, "/signup", map[string]string{
		"username": "alice", "email": "alice@x.com", "password": "Secret1", "passwordConfirm": "Secret1",
	})
	assert.Equal(t, http.StatusCreated, signup.Code)

	login := postJSON(t, router, "/login", map[string]string{"identifier": "alice", "password": "Secret1"})
	require.Equal(t, http.StatusOK, login.Code)
	var resp handlers.LoginResponse
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// without a broker configured, forgot_password still answers uniformly
	forgot := postJSON(t, router, "/forgot_password", map[string]string{"email": "alice@x.com"})
	assert.Equal(t, http.StatusOK, forgot.Code)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Auth.JWTSecret = ""
	_, err := New(context.Background(), cfg, discardLogger())
	assert.ErrorContains(t, err, "JWT_SECRET")

	cfg = memoryConfig()
	cfg.MQ.Backend = config.MQBackendPubSub
	_, err = New(context.Background(), cfg, discardLogger())
	assert.ErrorContains(t, err, "message broker")
}

func TestRouter_RateLimitsAuthRoutesOnly(t *testing.T) {
	cfg := memoryConfig()
	cfg.HTTP.RateLimitPerMinute = 2
	srv, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	router := srv.Router()

	body := map[string]string{"identifier": "nobody", "password": "whatever"}
	assert.Equal(t, http.StatusUnauthorized, postJSON(t, router, "/login", body).Code)
	assert.Equal(t, http.StatusUnauthorized, postJSON(t, router, "/login", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, postJSON(t, router, "/login", body).Code)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRouter_RateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	cfg := memoryConfig()
	cfg.HTTP.RateLimitPerMinute = 1
	srv, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	router := srv.Router()

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		data, err := json.Marshal(map[string]string{"identifier": "nobody", "password": "whatever"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{
		http.StatusUnauthorized,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes)
}

func TestJanitor_SweepsAndStops(t *testing.T) {
	var resets, revoked atomic.Int32
	j := newJanitor(discardLogger(), 5*time.Millisecond,
		func(context.Context) (int64, error) { resets.Add(1); return 1, nil },
		func(context.Context) (int64, error) { revoked.Add(1); return 0, errors.New("db down") },
	)

	j.start()
	j.start()
	assert.Eventually(t, func() bool {
		return resets.Load() >= 2 && revoked.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	j.stop()
	after := resets.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, resets.Load())

	j.stop()
}
