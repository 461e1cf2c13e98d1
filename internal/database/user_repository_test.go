//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"infermarket/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func TestUserRepository_Create(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	ctx := context.Background()

	user := &User{
		ID:           uuid.New().String(),
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		BalanceSats:  0,
		CreatedAt:    time.Now().UTC(),
	}

	err := repo.Create(ctx, user)
	require.NoError(t, err)

	retrieved, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, retrieved.Email)
	assert.Equal(t, int64(0), retrieved.BalanceSats)
	assert.False(t, retrieved.IsAdmin)
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	ctx := context.Background()

	user1 := &User{ID: uuid.New().String(), Email: "dup@example.com", PasswordHash: "h1", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, user1))

	user2 := &User{ID: uuid.New().String(), Email: "dup@example.com", PasswordHash: "h2", CreatedAt: time.Now().UTC()}
	err := repo.Create(ctx, user2)
	assert.ErrorIs(t, err, ErrUserEmailExists)
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	ctx := context.Background()

	user, err := repo.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Nil(t, user)
}

func TestUserRepository_GetBalance(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	ctx := context.Background()

	user := &User{ID: uuid.New().String(), Email: "bal@example.com", PasswordHash: "h", BalanceSats: 5000, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, user))

	balance, err := repo.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)
}

func TestUserRepository_GetBalance_NotFound(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	ctx := context.Background()

	_, err := repo.GetBalance(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrUserNotFound)
}
