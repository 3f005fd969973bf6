package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fahmiardi/lamestnews/internal/config"
	"github.com/fahmiardi/lamestnews/internal/models"
)

func newTestDB(t *testing.T) (*RedisDB, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.DefaultConfig()
	cfg.Store.Addr = mr.Addr()
	return NewRedisDBWithClient(client, cfg), mr
}

func createTestUser(t *testing.T, db *RedisDB, username string) *models.User {
	t.Helper()

	ctx := context.Background()
	token, err := db.CreateUser(ctx, username, "secret")
	require.NoError(t, err)

	user, err := db.AuthenticateUser(ctx, token)
	require.NoError(t, err)
	return user
}

// setUserKarma rewrites the stored karma and refreshes the struct, for
// tests that need a user past a karma gate.
func setUserKarma(t *testing.T, db *RedisDB, user *models.User, karma int64) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, db.Client.HSet(ctx, keyUser(user.ID), "karma", karma).Err())
	user.Karma = karma
}
