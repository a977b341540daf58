package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/comicvault/internal/models"
	"github.com/vrsandeep/comicvault/internal/store"
	"github.com/vrsandeep/comicvault/internal/testutil"
)

func TestUserStore_CreateAndGet(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()

	t.Run("Create User Success", func(t *testing.T) {
		user, err := s.CreateUser(ctx, &models.User{Name: "Ann", Email: "ann@x.io", PasswordHash: "hash"})
		require.NoError(t, err)
		assert.NotZero(t, user.ID)
		assert.Equal(t, models.RoleUser, user.Role, "role defaults to user")
		assert.False(t, user.CreatedAt.IsZero())
	})

	t.Run("Create User with Duplicate Email", func(t *testing.T) {
		_, err := s.CreateUser(ctx, &models.User{Name: "Ann 2", Email: "ann@x.io", PasswordHash: "hash"})
		assert.Error(t, err)
	})

	t.Run("Get User By Email", func(t *testing.T) {
		user, err := s.GetUserByEmail(ctx, "ann@x.io")
		require.NoError(t, err)
		assert.Equal(t, "Ann", user.Name)
		assert.Equal(t, "hash", user.PasswordHash)
	})

	t.Run("Get Non-existent User", func(t *testing.T) {
		_, err := s.GetUserByEmail(ctx, "nobody@x.io")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestUserStore_UpdateAndDelete(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	user, err := s.CreateUser(ctx, &models.User{Name: "Bob", Email: "bob@x.io", PasswordHash: "h", CreatedAt: created})
	require.NoError(t, err)

	user.Name = "Robert"
	user.Role = models.RoleAdmin
	user.UpdatedAt = time.Time{}
	require.NoError(t, s.UpdateUser(ctx, user))

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Robert", got.Name)
	assert.Equal(t, models.RoleAdmin, got.Role)
	assert.True(t, got.CreatedAt.Equal(created), "createdAt from the source survives")

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.DeleteUser(ctx, user.ID))
	_, err = s.GetUserByID(ctx, user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.UpdateUser(ctx, user), store.ErrNotFound)
}

func TestSessions(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, &models.User{Name: "Ann", Email: "ann@x.io", PasswordHash: "h"})
	require.NoError(t, err)

	token, err := s.CreateSession(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	got, err := s.GetUserFromSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	require.NoError(t, s.DeleteSession(ctx, token))
	_, err = s.GetUserFromSession(ctx, token)
	assert.ErrorIs(t, err, store.ErrInvalidSession)
}
