package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/repository"
	"github.com/utafrali/storefront-session/pkg/database"
)

const keyPrefix = "session:"

var (
	_ repository.LocalWishlistRepository = (*WishlistRepository)(nil)
	_ repository.CredentialRepository    = (*CredentialRepository)(nil)
	_ repository.Store                   = (*Store)(nil)
)

func wishlistKey(deviceID string) string { return keyPrefix + deviceID + ":wishlist" }
func refreshKey(deviceID string) string  { return keyPrefix + deviceID + ":refresh" }
func accessKey(deviceID string) string   { return keyPrefix + deviceID + ":access" }

// WishlistRepository stores the guest wishlist of one device as a JSON array
// under session:{device}:wishlist.
type WishlistRepository struct {
	client   *redis.Client
	deviceID string
}

// NewWishlistRepository creates a Redis-backed guest wishlist repository.
func NewWishlistRepository(client *redis.Client, deviceID string) *WishlistRepository {
	return &WishlistRepository{client: client, deviceID: deviceID}
}

// Load returns the stored ids, or none if the key is absent.
func (r *WishlistRepository) Load(ctx context.Context) (ids []domain.ProductID, err error) {
	key := wishlistKey(r.deviceID)
	ctx, end := database.TraceQuery(ctx, "redis", "LoadWishlist", "GET "+key)
	defer func() { end(err) }()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []domain.ProductID{}, nil
		}
		return nil, fmt.Errorf("redis get wishlist: %w", err)
	}

	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal wishlist: %w", err)
	}
	return ids, nil
}

// Save overwrites the stored ids. Guest data never expires.
func (r *WishlistRepository) Save(ctx context.Context, ids []domain.ProductID) (err error) {
	key := wishlistKey(r.deviceID)
	ctx, end := database.TraceQuery(ctx, "redis", "SaveWishlist", "SET "+key)
	defer func() { end(err) }()

	if ids == nil {
		ids = []domain.ProductID{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal wishlist: %w", err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set wishlist: %w", err)
	}
	return nil
}

// CredentialRepository stores the device's tokens as plain string keys. The
// access token gets ttl so a stale one does not outlive its usefulness.
type CredentialRepository struct {
	client    *redis.Client
	deviceID  string
	accessTTL time.Duration
}

// NewCredentialRepository creates a Redis-backed credential repository.
// A zero accessTTL keeps the access token until replaced.
func NewCredentialRepository(client *redis.Client, deviceID string, accessTTL time.Duration) *CredentialRepository {
	return &CredentialRepository{client: client, deviceID: deviceID, accessTTL: accessTTL}
}

func (r *CredentialRepository) get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (r *CredentialRepository) set(ctx context.Context, key, value string, ttl time.Duration) error {
	if value == "" {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis del %s: %w", key, err)
		}
		return nil
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *CredentialRepository) RefreshToken(ctx context.Context) (string, error) {
	return r.get(ctx, refreshKey(r.deviceID))
}

func (r *CredentialRepository) SaveRefreshToken(ctx context.Context, token string) error {
	return r.set(ctx, refreshKey(r.deviceID), token, 0)
}

func (r *CredentialRepository) AccessToken(ctx context.Context) (string, error) {
	return r.get(ctx, accessKey(r.deviceID))
}

func (r *CredentialRepository) SaveAccessToken(ctx context.Context, token string) error {
	return r.set(ctx, accessKey(r.deviceID), token, r.accessTTL)
}

// Clear deletes both tokens in one round trip.
func (r *CredentialRepository) Clear(ctx context.Context) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, refreshKey(r.deviceID))
		p.Del(ctx, accessKey(r.deviceID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis clear credentials: %w", err)
	}
	return nil
}

// Store is the redis storage driver.
type Store struct {
	client      *redis.Client
	wishlist    *WishlistRepository
	credentials *CredentialRepository
}

// NewStore wires both repositories for deviceID onto client. The store owns
// the client and closes it.
func NewStore(client *redis.Client, deviceID string, accessTTL time.Duration) *Store {
	return &Store{
		client:      client,
		wishlist:    NewWishlistRepository(client, deviceID),
		credentials: NewCredentialRepository(client, deviceID, accessTTL),
	}
}

func (s *Store) Wishlist() repository.LocalWishlistRepository  { return s.wishlist }
func (s *Store) Credentials() repository.CredentialRepository { return s.credentials }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
