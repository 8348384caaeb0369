package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/wishlist"
	"github.com/utafrali/storefront-session/pkg/httputil"
	"github.com/utafrali/storefront-session/pkg/pagination"
)

// WishlistHandler handles HTTP requests for the active wishlist.
type WishlistHandler struct {
	sessions SessionManager
	logger   *slog.Logger
}

// NewWishlistHandler creates a new wishlist HTTP handler.
func NewWishlistHandler(sessions SessionManager, logger *slog.Logger) *WishlistHandler {
	return &WishlistHandler{sessions: sessions, logger: logger}
}

// WishlistResponse lists the wishlist in insertion order.
type WishlistResponse struct {
	Items []domain.WishlistEntry `json:"items"`
	Count int                    `json:"count"`
	Mode  wishlist.Mode          `json:"mode"`
}

// ToggleResponse reports a product's membership after a toggle.
type ToggleResponse struct {
	ProductID domain.ProductID `json:"product_id"`
	Present   bool             `json:"present"`
}

func listResponse(store *wishlist.Store) WishlistResponse {
	items := store.Entries()
	return WishlistResponse{Items: items, Count: len(items), Mode: store.Mode()}
}

// List handles GET /api/v1/wishlist
func (h *WishlistHandler) List(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: listResponse(h.sessions.Wishlist())})
}

// Exists handles GET /api/v1/wishlist/{productId}
func (h *WishlistHandler) Exists(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseProductID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}
	exists := h.sessions.Wishlist().Contains(domain.ProductID(id))
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]bool{"exists": exists}})
}

// Toggle handles POST /api/v1/wishlist/{productId}/toggle
func (h *WishlistHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseProductID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	present, err := h.sessions.Wishlist().Toggle(r.Context(), domain.ProductID(id))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: ToggleResponse{ProductID: domain.ProductID(id), Present: present},
	})
}

// Products handles GET /api/v1/wishlist/products?lang=&page=&per_page=
func (h *WishlistHandler) Products(w http.ResponseWriter, r *http.Request) {
	records, err := h.sessions.Wishlist().Hydrate(r.Context(), r.URL.Query().Get("lang"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	products := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		if rec.Raw != nil {
			products = append(products, rec.Raw)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: pagination.Paginate(products, pagination.FromRequest(r)),
	})
}
