package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-session/internal/domain"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWishlistRepository_LoadMissingKey(t *testing.T) {
	_, client := setupMiniredis(t)
	repo := NewWishlistRepository(client, "device-1")

	ids, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWishlistRepository_SaveAndLoad(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewWishlistRepository(client, "device-1")
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, []domain.ProductID{101, 202}))

	raw, err := mr.Get("session:device-1:wishlist")
	require.NoError(t, err)
	assert.JSONEq(t, `[101,202]`, raw)
	assert.Equal(t, time.Duration(0), mr.TTL("session:device-1:wishlist"))

	ids, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProductID{101, 202}, ids)

	require.NoError(t, repo.Save(ctx, nil))
	raw, _ = mr.Get("session:device-1:wishlist")
	assert.JSONEq(t, `[]`, raw)
}

func TestWishlistRepository_DevicesAreIsolated(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, NewWishlistRepository(client, "a").Save(ctx, []domain.ProductID{1}))

	ids, err := NewWishlistRepository(client, "b").Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWishlistRepository_CorruptValue(t *testing.T) {
	mr, client := setupMiniredis(t)
	require.NoError(t, mr.Set("session:device-1:wishlist", "not-json"))

	_, err := NewWishlistRepository(client, "device-1").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal wishlist")
}

func TestWishlistRepository_ConnectionError(t *testing.T) {
	mr, client := setupMiniredis(t)
	mr.Close()

	_, err := NewWishlistRepository(client, "device-1").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get wishlist")
}

func TestCredentialRepository_RoundTrip(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewCredentialRepository(client, "device-1", 5*time.Minute)
	ctx := context.Background()

	tok, err := repo.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, repo.SaveRefreshToken(ctx, "refresh-1"))
	require.NoError(t, repo.SaveAccessToken(ctx, "access-1"))

	tok, _ = repo.RefreshToken(ctx)
	assert.Equal(t, "refresh-1", tok)
	tok, _ = repo.AccessToken(ctx)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, 5*time.Minute, mr.TTL("session:device-1:access"))
	assert.Equal(t, time.Duration(0), mr.TTL("session:device-1:refresh"))
}

func TestCredentialRepository_AccessTokenExpires(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewCredentialRepository(client, "device-1", time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.SaveAccessToken(ctx, "access-1"))
	mr.FastForward(2 * time.Minute)

	tok, err := repo.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestCredentialRepository_EmptyValueDeletes(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewCredentialRepository(client, "device-1", 0)
	ctx := context.Background()

	require.NoError(t, repo.SaveRefreshToken(ctx, "refresh-1"))
	require.NoError(t, repo.SaveRefreshToken(ctx, ""))

	assert.False(t, mr.Exists("session:device-1:refresh"))
}

func TestCredentialRepository_Clear(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewCredentialRepository(client, "device-1", 0)
	ctx := context.Background()

	require.NoError(t, repo.SaveRefreshToken(ctx, "refresh-1"))
	require.NoError(t, repo.SaveAccessToken(ctx, "access-1"))
	require.NoError(t, repo.Clear(ctx))

	assert.False(t, mr.Exists("session:device-1:refresh"))
	assert.False(t, mr.Exists("session:device-1:access"))
}

func TestStore_Ping(t *testing.T) {
	mr, client := setupMiniredis(t)
	s := NewStore(client, "device-1", 0)

	assert.NoError(t, s.Ping(context.Background()))
	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
