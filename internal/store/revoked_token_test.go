package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greencycle/apiserver/types"
)

func TestRevocationRepository_Revoke(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRevocationRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+revoked_tokens.+ON\s+CONFLICT\s+\(token_id\)\s+DO\s+NOTHING`).
		WithArgs("jti-1", now.Add(time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Revoke(context.Background(), types.RevokedToken{
		TokenID:   "jti-1",
		ExpiresAt: now.Add(time.Hour),
		RevokedAt: now,
	})
	require.NoError(t, err)
}

func TestRevocationRepository_IsRevoked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRevocationRepository(db)

	mock.ExpectQuery(`SELECT\s+EXISTS`).
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT\s+EXISTS`).
		WithArgs("jti-2").
		WillReturnError(errors.New("connection reset"))

	revoked, err := repo.IsRevoked(context.Background(), "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = repo.IsRevoked(context.Background(), "jti-2")
	assert.Error(t, err)
}

func TestRevocationRepository_DeleteExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRevocationRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(`DELETE\s+FROM\s+revoked_tokens\s+WHERE\s+expires_at\s*<=\s*\$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}
