package repository

import (
	"context"

	"github.com/utafrali/storefront-session/internal/domain"
)

// LocalWishlistRepository persists the guest wishlist on this device as an
// ordered sequence of product ids.
type LocalWishlistRepository interface {
	// Load returns the stored sequence, or an empty one if nothing was saved.
	Load(ctx context.Context) ([]domain.ProductID, error)

	// Save replaces the stored sequence.
	Save(ctx context.Context, ids []domain.ProductID) error
}

// CredentialRepository persists the refresh capability and the last access
// token for this device. Missing values are returned as "".
type CredentialRepository interface {
	RefreshToken(ctx context.Context) (string, error)
	SaveRefreshToken(ctx context.Context, token string) error

	AccessToken(ctx context.Context) (string, error)
	SaveAccessToken(ctx context.Context, token string) error

	// Clear removes both tokens.
	Clear(ctx context.Context) error
}

// Store bundles the device-local repositories behind one storage driver.
type Store interface {
	Wishlist() LocalWishlistRepository
	Credentials() CredentialRepository
	Ping(ctx context.Context) error
	Close() error
}
