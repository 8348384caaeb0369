// Package wishlist holds the in-memory wishlist of one session and keeps it
// in step with its durable side: local persistence for guests, the backend
// for signed-in accounts.
package wishlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/repository"
	apperrors "github.com/utafrali/storefront-session/pkg/errors"
)

// ErrStaleFetch is returned by Reload when its result was discarded because
// the caller gave up or the wishlist changed while the fetch was running.
var ErrStaleFetch = errors.New("stale wishlist fetch discarded")

// Mode says where a store's durable state lives.
type Mode string

const (
	ModeGuest   Mode = "guest"
	ModeAccount Mode = "account"
)

// Remote is the backend wishlist API. storefront.Client satisfies it.
type Remote interface {
	ListFavorites(ctx context.Context, lang string) ([]domain.FavoriteRecord, error)
	HydrateGuest(ctx context.Context, lang string, ids []domain.ProductID) ([]domain.FavoriteRecord, error)
	AddFavorite(ctx context.Context, productID domain.ProductID) (domain.FavoriteID, error)
	RemoveFavorite(ctx context.Context, favoriteID domain.FavoriteID) error
}

// Store is a set of products with insertion order. Mutations are applied
// in memory first and are visible to readers before any backend call
// starts. Safe for concurrent use.
type Store struct {
	mode   Mode
	local  repository.LocalWishlistRepository
	remote Remote
	lang   string
	logger *slog.Logger

	mu      sync.Mutex
	order   []domain.ProductID
	favs    map[domain.ProductID]domain.FavoriteID
	gen     uint64 // bumped by every mutation
	fetches uint64 // last fetch ticket handed out
	applied uint64 // ticket of the fetch whose result is loaded
}

// NewGuestStore returns an empty store persisting to local.
func NewGuestStore(local repository.LocalWishlistRepository, remote Remote, lang string, logger *slog.Logger) *Store {
	return newStore(ModeGuest, local, remote, lang, logger)
}

// NewAccountStore returns an empty store backed by the account wishlist.
func NewAccountStore(remote Remote, lang string, logger *slog.Logger) *Store {
	return newStore(ModeAccount, nil, remote, lang, logger)
}

func newStore(mode Mode, local repository.LocalWishlistRepository, remote Remote, lang string, logger *slog.Logger) *Store {
	return &Store{
		mode:   mode,
		local:  local,
		remote: remote,
		lang:   lang,
		logger: logger.With(slog.String("wishlist_mode", string(mode))),
		favs:   make(map[domain.ProductID]domain.FavoriteID),
	}
}

// Mode reports whether the store is guest or account backed.
func (s *Store) Mode() Mode {
	return s.mode
}

// Contains reports whether productID is in the wishlist.
func (s *Store) Contains(productID domain.ProductID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.favs[productID]
	return ok
}

// Len returns the number of products.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// IDs returns the product ids in insertion order.
func (s *Store) IDs() []domain.ProductID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Entries returns a copy of the wishlist in insertion order.
func (s *Store) Entries() []domain.WishlistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WishlistEntry, len(s.order))
	for i, id := range s.order {
		out[i] = domain.WishlistEntry{ProductID: id, FavoriteID: s.favs[id]}
	}
	return out
}

// Toggle flips productID's membership and reports whether it is now present.
//
// Guest stores persist the full id list before returning; if that write
// fails the flip is undone and the error returned. Account stores call the
// backend after the flip and return its error without undoing anything.
func (s *Store) Toggle(ctx context.Context, productID domain.ProductID) (bool, error) {
	if productID <= 0 {
		return false, apperrors.InvalidInput("product id must be positive")
	}

	s.mu.Lock()
	_, had := s.favs[productID]
	prevFav := s.favs[productID]
	pos := slices.Index(s.order, productID)
	if had {
		s.removeLocked(productID)
	} else {
		s.addLocked(productID, 0)
	}
	s.gen++
	present := !had

	if s.mode == ModeGuest {
		err := s.local.Save(ctx, slices.Clone(s.order))
		if err != nil {
			if had {
				s.order = slices.Insert(s.order, pos, productID)
				s.favs[productID] = prevFav
			} else {
				s.removeLocked(productID)
			}
		}
		s.mu.Unlock()
		if err != nil {
			toggleTotal.WithLabelValues(string(s.mode), resultError).Inc()
			s.logger.WarnContext(ctx, "guest wishlist not saved, toggle undone",
				slog.Int64("product_id", int64(productID)),
				slog.String("error", err.Error()),
			)
			return had, fmt.Errorf("save guest wishlist: %w", err)
		}
		toggleTotal.WithLabelValues(string(s.mode), resultFor(present)).Inc()
		return present, nil
	}
	s.mu.Unlock()

	if present {
		favID, err := s.remote.AddFavorite(ctx, productID)
		if err != nil {
			toggleTotal.WithLabelValues(string(s.mode), resultError).Inc()
			return present, err
		}
		s.mu.Lock()
		if _, still := s.favs[productID]; still {
			s.favs[productID] = favID
		}
		s.mu.Unlock()
		toggleTotal.WithLabelValues(string(s.mode), resultAdded).Inc()
		return present, nil
	}

	if prevFav != 0 {
		if err := s.remote.RemoveFavorite(ctx, prevFav); err != nil {
			toggleTotal.WithLabelValues(string(s.mode), resultError).Inc()
			return present, err
		}
	}
	toggleTotal.WithLabelValues(string(s.mode), resultRemoved).Inc()
	return present, nil
}

// Reload replaces the wishlist with a fresh read of its durable side: the
// local record for guests, the account list for accounts. The result is
// dropped with ErrStaleFetch if ctx ends first, if a mutation happened after
// the fetch started, or if a later Reload already applied. Any other error
// leaves the current contents untouched.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	s.fetches++
	ticket, startGen := s.fetches, s.gen
	s.mu.Unlock()

	entries, err := s.fetch(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrStaleFetch, ctxErr)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrStaleFetch, ctx.Err())
	case s.gen != startGen, ticket < s.applied:
		s.logger.DebugContext(ctx, "discarding stale wishlist fetch",
			slog.Uint64("ticket", ticket),
			slog.Uint64("applied", s.applied),
		)
		return ErrStaleFetch
	}

	s.order = s.order[:0]
	clear(s.favs)
	for _, e := range domain.NormalizeEntries(entries) {
		s.addLocked(e.ProductID, e.FavoriteID)
	}
	s.applied = ticket
	return nil
}

// Hydrate returns the backend product documents for the current wishlist,
// for rendering. lang falls back to the store's language.
func (s *Store) Hydrate(ctx context.Context, lang string) ([]domain.FavoriteRecord, error) {
	if lang == "" {
		lang = s.lang
	}
	if s.mode == ModeGuest {
		return s.remote.HydrateGuest(ctx, lang, s.IDs())
	}
	return s.remote.ListFavorites(ctx, lang)
}

func (s *Store) fetch(ctx context.Context) ([]domain.WishlistEntry, error) {
	if s.mode == ModeGuest {
		ids, err := s.local.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load guest wishlist: %w", err)
		}
		return domain.EntriesFromIDs(ids), nil
	}

	records, err := s.remote.ListFavorites(ctx, s.lang)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.WishlistEntry, len(records))
	for i, r := range records {
		entries[i] = r.Entry()
	}
	if dropped := len(entries) - len(domain.NormalizeEntries(entries)); dropped > 0 {
		s.logger.InfoContext(ctx, "duplicate products in server wishlist", slog.Int("dropped", dropped))
	}
	return entries, nil
}

func (s *Store) addLocked(id domain.ProductID, fav domain.FavoriteID) {
	if _, ok := s.favs[id]; ok {
		return
	}
	s.order = append(s.order, id)
	s.favs[id] = fav
}

func (s *Store) removeLocked(id domain.ProductID) {
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	delete(s.favs, id)
}
