// Package sqlite keeps device-local state in an embedded SQLite database.
// It is the default storage driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/repository"
	"github.com/utafrali/storefront-session/pkg/database"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var (
	_ repository.LocalWishlistRepository = (*WishlistRepository)(nil)
	_ repository.CredentialRepository    = (*CredentialRepository)(nil)
	_ repository.Store                   = (*Store)(nil)
)

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	return database.RunMigrations(ctx, db, sub, logger)
}

// WishlistRepository stores the guest wishlist as a JSON array per device.
type WishlistRepository struct {
	db       *sql.DB
	deviceID string
}

// NewWishlistRepository creates a SQLite-backed guest wishlist repository.
func NewWishlistRepository(db *sql.DB, deviceID string) *WishlistRepository {
	return &WishlistRepository{db: db, deviceID: deviceID}
}

const selectWishlist = `SELECT product_ids FROM guest_wishlist WHERE device_id = ?`

// Load returns the stored ids, or none if the device has no row yet.
func (r *WishlistRepository) Load(ctx context.Context) (ids []domain.ProductID, err error) {
	ctx, end := database.TraceQuery(ctx, "sqlite", "LoadWishlist", selectWishlist)
	defer func() { end(err) }()

	var raw string
	err = r.db.QueryRowContext(ctx, selectWishlist, r.deviceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []domain.ProductID{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query wishlist: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal wishlist: %w", err)
	}
	return ids, nil
}

const upsertWishlist = `
	INSERT INTO guest_wishlist (device_id, product_ids, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (device_id) DO UPDATE SET
		product_ids = excluded.product_ids,
		updated_at  = excluded.updated_at`

// Save overwrites the stored ids.
func (r *WishlistRepository) Save(ctx context.Context, ids []domain.ProductID) (err error) {
	ctx, end := database.TraceQuery(ctx, "sqlite", "SaveWishlist", upsertWishlist)
	defer func() { end(err) }()

	if ids == nil {
		ids = []domain.ProductID{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal wishlist: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, upsertWishlist, r.deviceID, string(data)); err != nil {
		return fmt.Errorf("upsert wishlist: %w", err)
	}
	return nil
}

// CredentialRepository stores the device's tokens in one row.
type CredentialRepository struct {
	db       *sql.DB
	deviceID string
}

// NewCredentialRepository creates a SQLite-backed credential repository.
func NewCredentialRepository(db *sql.DB, deviceID string) *CredentialRepository {
	return &CredentialRepository{db: db, deviceID: deviceID}
}

// column is interpolated into queries; only these two names are accepted.
func (r *CredentialRepository) read(ctx context.Context, column string) (tok string, err error) {
	query := fmt.Sprintf(`SELECT %s FROM credentials WHERE device_id = ?`, column)
	ctx, end := database.TraceQuery(ctx, "sqlite", "ReadCredential", query)
	defer func() { end(err) }()

	err = r.db.QueryRowContext(ctx, query, r.deviceID).Scan(&tok)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query %s: %w", column, err)
	}
	return tok, nil
}

func (r *CredentialRepository) write(ctx context.Context, column, value string) (err error) {
	query := fmt.Sprintf(`
		INSERT INTO credentials (device_id, %[1]s, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (device_id) DO UPDATE SET
			%[1]s      = excluded.%[1]s,
			updated_at = excluded.updated_at`, column)
	ctx, end := database.TraceQuery(ctx, "sqlite", "WriteCredential", query)
	defer func() { end(err) }()

	if _, err := r.db.ExecContext(ctx, query, r.deviceID, value); err != nil {
		return fmt.Errorf("upsert %s: %w", column, err)
	}
	return nil
}

func (r *CredentialRepository) RefreshToken(ctx context.Context) (string, error) {
	return r.read(ctx, "refresh_token")
}

func (r *CredentialRepository) SaveRefreshToken(ctx context.Context, token string) error {
	return r.write(ctx, "refresh_token", token)
}

func (r *CredentialRepository) AccessToken(ctx context.Context) (string, error) {
	return r.read(ctx, "access_token")
}

func (r *CredentialRepository) SaveAccessToken(ctx context.Context, token string) error {
	return r.write(ctx, "access_token", token)
}

const deleteCredentials = `DELETE FROM credentials WHERE device_id = ?`

// Clear removes the device's credential row.
func (r *CredentialRepository) Clear(ctx context.Context) (err error) {
	ctx, end := database.TraceQuery(ctx, "sqlite", "ClearCredentials", deleteCredentials)
	defer func() { end(err) }()

	if _, err := r.db.ExecContext(ctx, deleteCredentials, r.deviceID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// Store is the sqlite storage driver.
type Store struct {
	db          *sql.DB
	wishlist    *WishlistRepository
	credentials *CredentialRepository
}

// NewStore wires both repositories for deviceID onto an already migrated db.
// The store owns db and closes it.
func NewStore(db *sql.DB, deviceID string) *Store {
	return &Store{
		db:          db,
		wishlist:    NewWishlistRepository(db, deviceID),
		credentials: NewCredentialRepository(db, deviceID),
	}
}

func (s *Store) Wishlist() repository.LocalWishlistRepository  { return s.wishlist }
func (s *Store) Credentials() repository.CredentialRepository { return s.credentials }
func (s *Store) Ping(ctx context.Context) error                { return s.db.PingContext(ctx) }
func (s *Store) Close() error                                  { return s.db.Close() }
