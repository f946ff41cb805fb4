package db

import (
	"net/url"
	"testing"

	"github.com/greencycle/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL(t *testing.T) {
	cfg := config.Config{Database: config.DatabaseConfig{
		Host:     "db.internal",
		Port:     6543,
		User:     "app",
		Password: "p@ss/word",
		DBName:   "greencycle",
	}}

	parsed, err := url.Parse(URL(cfg))
	require.NoError(t, err)
	assert.Equal(t, "postgres", parsed.Scheme)
	assert.Equal(t, "db.internal:6543", parsed.Host)
	assert.Equal(t, "/greencycle", parsed.Path)
	assert.Equal(t, "app", parsed.User.Username())
	pw, _ := parsed.User.Password()
	assert.Equal(t, "p@ss/word", pw)
	assert.Equal(t, "disable", parsed.Query().Get("sslmode"))

	cfg.Database.UseSSL = true
	parsed, err = url.Parse(URL(cfg))
	require.NoError(t, err)
	assert.Equal(t, "require", parsed.Query().Get("sslmode"))
}
