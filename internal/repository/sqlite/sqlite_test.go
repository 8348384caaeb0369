package sqlite

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/pkg/database"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := database.DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "session.db")

	db, err := database.OpenSQLite(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(context.Background(), db, slog.New(slog.NewTextHandler(io.Discard, nil))))
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupDB(t)
	assert.NoError(t, Migrate(context.Background(), db, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestWishlistRepository_EmptyDevice(t *testing.T) {
	repo := NewWishlistRepository(setupDB(t), "device-1")

	ids, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWishlistRepository_SaveOverwritesAndKeepsOrder(t *testing.T) {
	repo := NewWishlistRepository(setupDB(t), "device-1")
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, []domain.ProductID{101, 202}))
	require.NoError(t, repo.Save(ctx, []domain.ProductID{303, 101}))

	ids, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProductID{303, 101}, ids)
}

func TestWishlistRepository_DevicesAreIsolated(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	require.NoError(t, NewWishlistRepository(db, "a").Save(ctx, []domain.ProductID{1}))
	ids, err := NewWishlistRepository(db, "b").Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWishlistRepository_CorruptRow(t *testing.T) {
	db := setupDB(t)
	_, err := db.Exec(`INSERT INTO guest_wishlist (device_id, product_ids) VALUES ('device-1', '{oops')`)
	require.NoError(t, err)

	_, err = NewWishlistRepository(db, "device-1").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal wishlist")
}

func TestWishlistRepository_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := database.DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "session.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.OpenSQLite(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db, logger))
	require.NoError(t, NewWishlistRepository(db, "device-1").Save(ctx, []domain.ProductID{7}))
	require.NoError(t, db.Close())

	db, err = database.OpenSQLite(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()
	ids, err := NewWishlistRepository(db, "device-1").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProductID{7}, ids)
}

func TestCredentialRepository_Lifecycle(t *testing.T) {
	repo := NewCredentialRepository(setupDB(t), "device-1")
	ctx := context.Background()

	tok, err := repo.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, repo.SaveRefreshToken(ctx, "refresh-1"))
	require.NoError(t, repo.SaveAccessToken(ctx, "access-1"))
	require.NoError(t, repo.SaveRefreshToken(ctx, "refresh-2"))

	refresh, _ := repo.RefreshToken(ctx)
	access, _ := repo.AccessToken(ctx)
	assert.Equal(t, "refresh-2", refresh)
	assert.Equal(t, "access-1", access)

	require.NoError(t, repo.Clear(ctx))
	refresh, _ = repo.RefreshToken(ctx)
	access, _ = repo.AccessToken(ctx)
	assert.Empty(t, refresh)
	assert.Empty(t, access)
}

func TestStore(t *testing.T) {
	s := NewStore(setupDB(t), "device-1")
	assert.NoError(t, s.Ping(context.Background()))
	assert.NotNil(t, s.Wishlist())
	assert.NotNil(t, s.Credentials())
}
