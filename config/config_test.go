package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTokenTTL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 6, cfg.Auth.PasswordMinLength)
	assert.Equal(t, MQBackendNone, cfg.MQ.Backend)
	assert.Equal(t, "password-reset", cfg.MQ.ResetChannel)
	assert.Equal(t, StorageBackendNone, cfg.Storage.Backend)
	assert.False(t, cfg.Database.UseSSL)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "  padded  ")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SESSION_TOKEN_TTL", "30m")
	t.Setenv("RESET_TOKEN_TTL", "15m")
	t.Setenv("DB_USE_SSL", "true")
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.7")

	cfg := LoadConfig()

	assert.Equal(t, "padded", cfg.Auth.JWTSecret)
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, 30*time.Minute, cfg.Auth.SessionTokenTTL)
	assert.Equal(t, 15*time.Minute, cfg.Auth.ResetTokenTTL)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.HTTP.AllowedOrigins)

	prefixes, err := cfg.HTTP.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.0.2.7/32", prefixes[1].String())
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("SESSION_TOKEN_TTL", "forever")
	t.Setenv("DB_USE_SSL", "maybe")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTokenTTL)
	assert.False(t, cfg.Database.UseSSL)
}

func TestConfig_Validate(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	base := LoadConfig

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "JWT_SECRET"},
		{name: "zero session ttl", mutate: func(c *Config) { c.Auth.SessionTokenTTL = 0 }, wantErr: "SESSION_TOKEN_TTL"},
		{name: "negative reset ttl", mutate: func(c *Config) { c.Auth.ResetTokenTTL = -time.Second }, wantErr: "RESET_TOKEN_TTL"},
		{name: "unknown store", mutate: func(c *Config) { c.StoreBackend = "redis" }, wantErr: "STORE_BACKEND"},
		{name: "unknown mq", mutate: func(c *Config) { c.MQ.Backend = "kafka" }, wantErr: "MQ_BACKEND"},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.HTTP.TrustedProxies = []string{"not-an-ip"} }, wantErr: "TRUSTED_PROXIES"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantErr: "STORAGE_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
