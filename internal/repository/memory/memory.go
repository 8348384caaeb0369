// Package memory keeps device-local state in process memory. It backs the
// "memory" storage driver and serves as the fake in tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/repository"
)

var (
	_ repository.LocalWishlistRepository = (*WishlistRepository)(nil)
	_ repository.CredentialRepository    = (*CredentialRepository)(nil)
	_ repository.Store                   = (*Store)(nil)
)

// WishlistRepository is an in-memory LocalWishlistRepository.
type WishlistRepository struct {
	mu    sync.Mutex
	ids   []domain.ProductID
	saves int
}

// NewWishlistRepository returns a repository seeded with ids.
func NewWishlistRepository(ids ...domain.ProductID) *WishlistRepository {
	return &WishlistRepository{ids: slices.Clone(ids)}
}

func (r *WishlistRepository) Load(_ context.Context) ([]domain.ProductID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ids), nil
}

func (r *WishlistRepository) Save(_ context.Context, ids []domain.ProductID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = slices.Clone(ids)
	r.saves++
	return nil
}

// Saves reports how many times Save was called.
func (r *WishlistRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// CredentialRepository is an in-memory CredentialRepository.
type CredentialRepository struct {
	mu      sync.Mutex
	refresh string
	access  string
}

// NewCredentialRepository returns a repository holding refresh, which may be "".
func NewCredentialRepository(refresh string) *CredentialRepository {
	return &CredentialRepository{refresh: refresh}
}

func (r *CredentialRepository) RefreshToken(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refresh, nil
}

func (r *CredentialRepository) SaveRefreshToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh = token
	return nil
}

func (r *CredentialRepository) AccessToken(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.access, nil
}

func (r *CredentialRepository) SaveAccessToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.access = token
	return nil
}

func (r *CredentialRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh, r.access = "", ""
	return nil
}

// Store is the memory storage driver.
type Store struct {
	wishlist    *WishlistRepository
	credentials *CredentialRepository
}

// NewStore returns an empty memory store.
func NewStore() *Store {
	return &Store{
		wishlist:    NewWishlistRepository(),
		credentials: NewCredentialRepository(""),
	}
}

func (s *Store) Wishlist() repository.LocalWishlistRepository  { return s.wishlist }
func (s *Store) Credentials() repository.CredentialRepository { return s.credentials }
func (s *Store) Ping(context.Context) error                    { return nil }
func (s *Store) Close() error                                  { return nil }
