package domain

import "encoding/json"

// ProductID identifies a catalog product.
type ProductID int64

// FavoriteID identifies a server-side wishlist record. Zero means the entry
// has no server record (guest entries, or adds not yet confirmed).
type FavoriteID int64

// WishlistEntry is one product in a wishlist.
type WishlistEntry struct {
	ProductID  ProductID  `json:"product_id"`
	FavoriteID FavoriteID `json:"favorite_id,omitempty"`
}

// HasFavorite reports whether the entry is backed by a server record.
func (e WishlistEntry) HasFavorite() bool {
	return e.FavoriteID != 0
}

// FavoriteRecord is one element of the server wishlist payload. The product
// document is kept verbatim for the hydrate hand-off.
type FavoriteRecord struct {
	ProductID  ProductID       `json:"id" validate:"gt=0"`
	FavoriteID FavoriteID      `json:"favourite_id" validate:"gte=0"`
	Raw        json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes id and favourite_id and retains the whole document.
func (r *FavoriteRecord) UnmarshalJSON(data []byte) error {
	var head struct {
		ProductID  ProductID   `json:"id"`
		FavoriteID *FavoriteID `json:"favourite_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	r.ProductID = head.ProductID
	r.FavoriteID = 0
	if head.FavoriteID != nil {
		r.FavoriteID = *head.FavoriteID
	}
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Entry converts the record into a wishlist entry.
func (r FavoriteRecord) Entry() WishlistEntry {
	return WishlistEntry{ProductID: r.ProductID, FavoriteID: r.FavoriteID}
}

// NormalizeEntries folds entries by product id, keeping the first occurrence
// (and its favorite id) and preserving order.
func NormalizeEntries(entries []WishlistEntry) []WishlistEntry {
	seen := make(map[ProductID]struct{}, len(entries))
	out := make([]WishlistEntry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.ProductID]; dup {
			continue
		}
		seen[e.ProductID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// EntriesFromIDs builds guest entries from a persisted id sequence.
func EntriesFromIDs(ids []ProductID) []WishlistEntry {
	entries := make([]WishlistEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, WishlistEntry{ProductID: id})
	}
	return NormalizeEntries(entries)
}
