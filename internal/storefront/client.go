// Package storefront is a typed client for the storefront backend's wishlist
// endpoints. Every call goes through the authorizing gateway.
package storefront

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/gateway"
	apperrors "github.com/utafrali/storefront-session/pkg/errors"
	"github.com/utafrali/storefront-session/pkg/validator"
)

const (
	wishlistProductsPath = "tailor/wishlist-products/%s/"
	wishlistPath         = "tailor/wishlist/"
	favoritePath         = "tailor/wishlist/%d/"
)

// Requester sends backend requests. gateway.Gateway satisfies it.
type Requester interface {
	Do(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
}

type addFavoriteRequest struct {
	Product domain.ProductID `json:"product"`
}

type addFavoriteResponse struct {
	ID domain.FavoriteID `json:"id" validate:"gt=0"`
}

// Client calls the wishlist endpoints.
type Client struct {
	requester Requester
	logger    *slog.Logger
}

// NewClient creates a Client sending through requester.
func NewClient(requester Requester, logger *slog.Logger) *Client {
	return &Client{requester: requester, logger: logger}
}

// ListFavorites returns the account wishlist with product documents in lang.
// Payloads that are not an array of records with positive ids fail with
// ErrMalformedResponse.
func (c *Client) ListFavorites(ctx context.Context, lang string) ([]domain.FavoriteRecord, error) {
	resp, err := c.requester.Do(ctx, &gateway.Request{
		Method: http.MethodGet,
		Path:   productsPath(lang),
	})
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return decodeRecords(resp)
}

// HydrateGuest returns product documents for ids without a credential. An
// empty ids list makes no call.
func (c *Client) HydrateGuest(ctx context.Context, lang string, ids []domain.ProductID) ([]domain.FavoriteRecord, error) {
	if len(ids) == 0 {
		return []domain.FavoriteRecord{}, nil
	}
	resp, err := c.requester.Do(ctx, &gateway.Request{
		Method: http.MethodGet,
		Path:   productsPath(lang),
		Query:  url.Values{"ids": {joinIDs(ids)}},
		Public: true,
	})
	if err != nil {
		return nil, fmt.Errorf("hydrate guest wishlist: %w", err)
	}
	return decodeRecords(resp)
}

// AddFavorite creates a server wishlist record for productID and returns its id.
func (c *Client) AddFavorite(ctx context.Context, productID domain.ProductID) (domain.FavoriteID, error) {
	resp, err := c.requester.Do(ctx, &gateway.Request{
		Method: http.MethodPost,
		Path:   wishlistPath,
		Body:   addFavoriteRequest{Product: productID},
	})
	if err != nil {
		return 0, fmt.Errorf("add favorite %d: %w", productID, err)
	}

	var out addFavoriteResponse
	if err := resp.Decode(&out); err != nil {
		return 0, err
	}
	if err := validator.Validate(out); err != nil {
		return 0, apperrors.MalformedResponse("add favorite response: " + err.Error())
	}

	c.logger.DebugContext(ctx, "favorite added",
		slog.Int64("product_id", int64(productID)),
		slog.Int64("favorite_id", int64(out.ID)),
	)
	return out.ID, nil
}

// RemoveFavorite deletes the server wishlist record favoriteID.
func (c *Client) RemoveFavorite(ctx context.Context, favoriteID domain.FavoriteID) error {
	if favoriteID <= 0 {
		return apperrors.InvalidInput("favorite id must be positive")
	}
	if _, err := c.requester.Do(ctx, &gateway.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf(favoritePath, favoriteID),
	}); err != nil {
		return fmt.Errorf("remove favorite %d: %w", favoriteID, err)
	}

	c.logger.DebugContext(ctx, "favorite removed", slog.Int64("favorite_id", int64(favoriteID)))
	return nil
}

func decodeRecords(resp *gateway.Response) ([]domain.FavoriteRecord, error) {
	var records []domain.FavoriteRecord
	if err := resp.Decode(&records); err != nil {
		return nil, err
	}
	if records == nil {
		return nil, apperrors.MalformedResponse("wishlist payload is not an array")
	}
	if err := validator.ValidateSlice(records); err != nil {
		return nil, apperrors.MalformedResponse("wishlist payload: " + err.Error())
	}
	return records, nil
}

func productsPath(lang string) string {
	if lang == "" {
		lang = "en"
	}
	return fmt.Sprintf(wishlistProductsPath, url.PathEscape(lang))
}

func joinIDs(ids []domain.ProductID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	return strings.Join(parts, ",")
}
