// Package session decides whether the visitor is a guest or signed in and
// owns the wishlist store that matches that decision.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/repository"
	"github.com/utafrali/storefront-session/internal/wishlist"
	apperrors "github.com/utafrali/storefront-session/pkg/errors"
)

// ErrWishlistLoad marks a session change that succeeded while loading the
// new wishlist did not. The session is usable; RetryFetch loads the list.
var ErrWishlistLoad = errors.New("wishlist not loaded")

// errSuperseded stops a bootstrap step once Login, Logout or Expire has
// changed the session underneath it.
var errSuperseded = errors.New("session changed concurrently")

// Refresher exchanges the stored refresh capability for a credential.
// auth.Refresher satisfies it.
type Refresher interface {
	HasCapability(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (*domain.Credential, error)
}

// CredentialHolder is the in-memory credential shared with the gateway.
type CredentialHolder interface {
	Current() *domain.Credential
	Set(cred *domain.Credential)
	Clear()
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Refresher   Refresher
	Credentials CredentialHolder
	CredRepo    repository.CredentialRepository
	Local       repository.LocalWishlistRepository
	Remote      wishlist.Remote
	Lang        string
	Logger      *slog.Logger
}

// Manager runs the session lifecycle. Exactly one wishlist store is active
// at a time; it is replaced on every guest/account switch.
type Manager struct {
	deps   Deps
	logger *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	session domain.Session
	store   *wishlist.Store
	epoch   uint64 // bumped by every explicit session change
	settled bool
	bootErr error
}

// NewManager returns a Manager in the guest state with an empty guest store.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:    deps,
		logger:  deps.Logger,
		session: domain.NewGuestSession(),
		store:   wishlist.NewGuestStore(deps.Local, deps.Remote, deps.Lang, deps.Logger),
	}
}

// Bootstrap settles the initial session:
//
//   - no stored refresh capability: guest, wishlist from local persistence,
//     no network call;
//   - refresh succeeds: authenticated, wishlist from the account list;
//   - refresh fails: refresh_failed, wishlist from local persistence.
//
// A failed account wishlist fetch does not undo authentication; the store
// stays empty and the error is returned. Later calls return the settled
// result; concurrent calls share one attempt.
func (m *Manager) Bootstrap(ctx context.Context) (domain.Session, error) {
	m.mu.Lock()
	if m.settled {
		defer m.mu.Unlock()
		return m.snapshotLocked(), m.bootErr
	}
	m.mu.Unlock()

	ch := m.group.DoChan("bootstrap", func() (any, error) {
		err := m.bootstrap(context.WithoutCancel(ctx))
		m.mu.Lock()
		m.settled = true
		m.bootErr = err
		m.mu.Unlock()
		return nil, err
	})

	select {
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	case res := <-ch:
		return m.Snapshot(), res.Err
	}
}

func (m *Manager) bootstrap(ctx context.Context) error {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	err := m.settle(ctx, epoch)
	if errors.Is(err, errSuperseded) {
		m.logger.InfoContext(ctx, "bootstrap superseded by an explicit session change")
		return nil
	}
	return err
}

// settle runs the bootstrap steps. Every state change and store install is
// conditional on epoch, so a concurrent Login or Logout wins.
func (m *Manager) settle(ctx context.Context, epoch uint64) error {
	has, err := m.deps.Refresher.HasCapability(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "could not read refresh capability, continuing as guest",
			slog.String("error", err.Error()),
		)
	}
	if !has {
		m.logger.InfoContext(ctx, "no stored session, starting as guest")
		return m.useGuestStore(ctx, epoch)
	}

	if err := m.transition(epoch, domain.StateAuthenticating, nil); err != nil {
		return err
	}

	cred, err := m.deps.Refresher.Refresh(ctx)
	if err != nil {
		m.logger.InfoContext(ctx, "stored session could not be renewed, continuing as guest",
			slog.String("error", err.Error()),
		)
		if tErr := m.transition(epoch, domain.StateRefreshFailed, nil); tErr != nil {
			return tErr
		}
		if gErr := m.useGuestStore(ctx, epoch); gErr != nil {
			return gErr
		}
		if errors.Is(err, apperrors.ErrRefreshFailed) {
			return nil
		}
		return fmt.Errorf("refresh stored session: %w", err)
	}

	if err := m.transition(epoch, domain.StateAuthenticated, cred); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "session restored", slog.String("subject", cred.Subject))
	return m.useAccountStore(ctx, epoch)
}

// RetryFetch reloads the active store from its durable side, typically
// after Bootstrap or Login reported a failed wishlist fetch.
func (m *Manager) RetryFetch(ctx context.Context) error {
	store := m.Wishlist()
	if err := store.Reload(ctx); err != nil {
		return fmt.Errorf("reload wishlist: %w", err)
	}
	return nil
}

// Login adopts credentials issued by a sign-in form, switches to an
// account store and loads it. The guest record stays on disk untouched.
func (m *Manager) Login(ctx context.Context, access, refresh string) (domain.Session, error) {
	access, refresh = strings.TrimSpace(access), strings.TrimSpace(refresh)
	if access == "" || refresh == "" {
		return m.Snapshot(), apperrors.InvalidInput("access and refresh tokens are required")
	}

	m.mu.Lock()
	state := m.session.State
	m.mu.Unlock()
	if state == domain.StateAuthenticating {
		return m.Snapshot(), apperrors.Conflict("session restore in progress")
	}

	if err := m.deps.CredRepo.SaveRefreshToken(ctx, refresh); err != nil {
		return m.Snapshot(), fmt.Errorf("save refresh token: %w", err)
	}
	if err := m.deps.CredRepo.SaveAccessToken(ctx, access); err != nil {
		return m.Snapshot(), fmt.Errorf("save access token: %w", err)
	}

	cred := domain.NewCredential(access)
	m.deps.Credentials.Set(cred)

	m.mu.Lock()
	switch {
	case m.session.State == domain.StateAuthenticating:
		m.mu.Unlock()
		return m.Snapshot(), apperrors.Conflict("session restore in progress")
	case m.session.State == domain.StateAuthenticated:
		m.session.Credential = cred
	default:
		if err := m.transitionLocked(domain.StateAuthenticated, cred); err != nil {
			m.mu.Unlock()
			return m.Snapshot(), err
		}
	}
	m.epoch++
	epoch := m.epoch
	m.settled = true
	m.bootErr = nil
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "signed in", slog.String("subject", cred.Subject))
	return m.Snapshot(), ignoreSuperseded(m.useAccountStore(ctx, epoch))
}

// Logout forgets the credentials and switches to a guest store loaded from
// local persistence.
func (m *Manager) Logout(ctx context.Context) (domain.Session, error) {
	m.mu.Lock()
	state := m.session.State
	m.mu.Unlock()
	if state == domain.StateAuthenticating {
		return m.Snapshot(), apperrors.Conflict("session restore in progress")
	}

	m.deps.Credentials.Clear()
	if err := m.deps.CredRepo.Clear(ctx); err != nil {
		return m.Snapshot(), fmt.Errorf("clear credentials: %w", err)
	}

	m.mu.Lock()
	if m.session.State == domain.StateAuthenticating {
		m.mu.Unlock()
		return m.Snapshot(), apperrors.Conflict("session restore in progress")
	}
	if m.session.State == domain.StateAuthenticated {
		if err := m.transitionLocked(domain.StateGuest, nil); err != nil {
			m.mu.Unlock()
			return m.Snapshot(), err
		}
		m.logger.InfoContext(ctx, "signed out")
	}
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	return m.Snapshot(), ignoreSuperseded(m.useGuestStore(ctx, epoch))
}

// Expire ends an authenticated session whose refresh token the backend
// rejected mid-session: the state becomes refresh_failed and the guest
// store is loaded. Other states are left alone.
func (m *Manager) Expire(ctx context.Context) error {
	m.mu.Lock()
	if m.session.State != domain.StateAuthenticated {
		m.mu.Unlock()
		return nil
	}
	if err := m.transitionLocked(domain.StateRefreshFailed, nil); err != nil {
		m.mu.Unlock()
		return err
	}
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session expired, continuing as guest")
	return ignoreSuperseded(m.useGuestStore(ctx, epoch))
}

// Snapshot returns the current session. When authenticated it carries the
// credential in use, which may be newer than the one the session started with.
func (m *Manager) Snapshot() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() domain.Session {
	s := m.session
	if s.State == domain.StateAuthenticated {
		if cur := m.deps.Credentials.Current(); cur != nil {
			s.Credential = cur
		}
	}
	return s
}

// Wishlist returns the active store.
func (m *Manager) Wishlist() *wishlist.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}

func (m *Manager) useGuestStore(ctx context.Context, epoch uint64) error {
	store := wishlist.NewGuestStore(m.deps.Local, m.deps.Remote, m.deps.Lang, m.logger)
	return m.activate(ctx, store, epoch)
}

func (m *Manager) useAccountStore(ctx context.Context, epoch uint64) error {
	store := wishlist.NewAccountStore(m.deps.Remote, m.deps.Lang, m.logger)
	return m.activate(ctx, store, epoch)
}

// activate installs store and loads it, unless the session moved on since
// epoch. The store is installed even when loading fails so mutations keep
// working.
func (m *Manager) activate(ctx context.Context, store *wishlist.Store, epoch uint64) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return errSuperseded
	}
	m.store = store
	m.mu.Unlock()

	if err := store.Reload(ctx); err != nil {
		m.logger.WarnContext(ctx, "wishlist fetch failed",
			slog.String("mode", string(store.Mode())),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %w", ErrWishlistLoad, store.Mode(), err)
	}
	return nil
}

func (m *Manager) transition(epoch uint64, to domain.SessionState, cred *domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return errSuperseded
	}
	return m.transitionLocked(to, cred)
}

func (m *Manager) transitionLocked(to domain.SessionState, cred *domain.Credential) error {
	from := m.session.State
	next, err := m.session.Transition(to, cred)
	if err != nil {
		return err
	}
	m.session = next
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

func ignoreSuperseded(err error) error {
	if errors.Is(err, errSuperseded) {
		return nil
	}
	return err
}
