package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-session/internal/auth"
	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/repository/memory"
	"github.com/utafrali/storefront-session/internal/session"
	apperrors "github.com/utafrali/storefront-session/pkg/errors"
	"github.com/utafrali/storefront-session/pkg/health"
	"github.com/utafrali/storefront-session/pkg/middleware"
)

// ============================================================================
// Stubs
// ============================================================================

type noRefresh struct{}

func (noRefresh) HasCapability(context.Context) (bool, error) { return false, nil }

func (noRefresh) Refresh(context.Context) (*domain.Credential, error) {
	return nil, apperrors.RefreshFailed("no refresh token stored")
}

type stubRemote struct {
	mu      sync.Mutex
	records []domain.FavoriteRecord
	listErr error
	addErr  error
	nextFav domain.FavoriteID
}

func (s *stubRemote) ListFavorites(context.Context, string) ([]domain.FavoriteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, s.listErr
}

func (s *stubRemote) HydrateGuest(_ context.Context, _ string, ids []domain.ProductID) ([]domain.FavoriteRecord, error) {
	out := make([]domain.FavoriteRecord, 0, len(ids))
	for _, id := range ids {
		raw, _ := json.Marshal(map[string]any{"id": id, "name": "product"})
		out = append(out, domain.FavoriteRecord{ProductID: id, Raw: raw})
	}
	return out, nil
}

func (s *stubRemote) AddFavorite(context.Context, domain.ProductID) (domain.FavoriteID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFav++
	return s.nextFav, s.addErr
}

func (s *stubRemote) RemoveFavorite(context.Context, domain.FavoriteID) error { return nil }

// ============================================================================
// Test helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	router  http.Handler
	manager *session.Manager
	remote  *stubRemote
	local   *memory.WishlistRepository
}

func newTestEnv(t *testing.T, localIDs ...domain.ProductID) *testEnv {
	t.Helper()
	remote := &stubRemote{}
	local := memory.NewWishlistRepository(localIDs...)
	mgr := session.NewManager(session.Deps{
		Refresher:   noRefresh{},
		Credentials: auth.NewCredentials(),
		CredRepo:    memory.NewCredentialRepository(""),
		Local:       local,
		Remote:      remote,
		Lang:        "en",
		Logger:      testLogger(),
	})
	_, err := mgr.Bootstrap(context.Background())
	require.NoError(t, err)

	router := NewRouter(mgr, health.NewHandler(), testLogger(), RouterConfig{CORS: middleware.DefaultCORSConfig()})
	return &testEnv{router: router, manager: mgr, remote: remote, local: local}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if data != nil && env.Data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func signedAccess(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

// ============================================================================
// Session endpoints
// ============================================================================

func TestGetSession_Guest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/session/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp SessionResponse
	decode(t, rec, &resp)
	assert.Equal(t, domain.StateGuest, resp.State)
	assert.False(t, resp.Authenticated)
	assert.Empty(t, resp.Subject)
	assert.Nil(t, resp.ExpiresAt)
	assert.Equal(t, "guest", string(resp.WishlistMode))
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.remote.records = []domain.FavoriteRecord{{ProductID: 9, FavoriteID: 90}}
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	rec := env.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{
		Access:  signedAccess(t, "42", exp),
		Refresh: "refresh-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SessionResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Authenticated)
	assert.Equal(t, "42", resp.Subject)
	require.NotNil(t, resp.ExpiresAt)
	assert.True(t, exp.Equal(*resp.ExpiresAt))
	assert.NotContains(t, rec.Body.String(), "refresh-1")

	rec = env.do(t, http.MethodGet, "/api/v1/wishlist/", nil)
	var list WishlistResponse
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, []domain.WishlistEntry{{ProductID: 9, FavoriteID: 90}}, list.Items)
}

func TestLogin_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/session/login", map[string]string{"access": "a"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	e := decode(t, rec, nil)
	require.NotNil(t, e.Error)
	assert.Equal(t, "VALIDATION_ERROR", e.Error.Code)
	assert.Contains(t, e.Error.Fields, "Refresh")
}

func TestLogin_WrongContentType(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/login", bytes.NewBufferString("access=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestLogin_WishlistFetchFailureStillSignsIn(t *testing.T) {
	env := newTestEnv(t)
	env.remote.listErr = apperrors.Network(errors.New("connection refused"))

	rec := env.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{Access: "opaque", Refresh: "r"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Authenticated)
	assert.Equal(t, "account", string(resp.WishlistMode))

	env.remote.mu.Lock()
	env.remote.listErr = nil
	env.remote.records = []domain.FavoriteRecord{{ProductID: 3, FavoriteID: 30}}
	env.remote.mu.Unlock()

	rec = env.do(t, http.MethodPost, "/api/v1/session/wishlist/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list WishlistResponse
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)
}

func TestReload_ReportsBackendError(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{Access: "opaque", Refresh: "r"})
	env.remote.mu.Lock()
	env.remote.listErr = apperrors.MalformedResponse("wishlist payload is not an array")
	env.remote.mu.Unlock()

	rec := env.do(t, http.MethodPost, "/api/v1/session/wishlist/reload", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	e := decode(t, rec, nil)
	assert.Equal(t, "MALFORMED_RESPONSE", e.Error.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, 101)
	env.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{Access: "opaque", Refresh: "r"})

	rec := env.do(t, http.MethodPost, "/api/v1/session/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	decode(t, rec, &resp)
	assert.Equal(t, domain.StateGuest, resp.State)
	assert.Equal(t, []domain.ProductID{101}, env.manager.Wishlist().IDs())
}

// ============================================================================
// Wishlist endpoints
// ============================================================================

func TestToggle_Guest(t *testing.T) {
	env := newTestEnv(t, 101, 202)

	rec := env.do(t, http.MethodPost, "/api/v1/wishlist/101/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var toggled ToggleResponse
	decode(t, rec, &toggled)
	assert.Equal(t, ToggleResponse{ProductID: 101, Present: false}, toggled)

	rec = env.do(t, http.MethodGet, "/api/v1/wishlist/101", nil)
	var exists map[string]bool
	decode(t, rec, &exists)
	assert.False(t, exists["exists"])

	persisted, err := env.local.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.ProductID{202}, persisted)
}

func TestToggle_InvalidProductID(t *testing.T) {
	env := newTestEnv(t)

	for _, id := range []string{"abc", "0", "-4"} {
		rec := env.do(t, http.MethodPost, "/api/v1/wishlist/"+id+"/toggle", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, id)
		e := decode(t, rec, nil)
		assert.Equal(t, "INVALID_PARAMETER", e.Error.Code)
	}
}

func TestToggle_AccountNetworkErrorKeepsOptimisticState(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{Access: "opaque", Refresh: "r"})
	env.remote.mu.Lock()
	env.remote.addErr = apperrors.Network(errors.New("connection reset"))
	env.remote.mu.Unlock()

	rec := env.do(t, http.MethodPost, "/api/v1/wishlist/55/toggle", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	e := decode(t, rec, nil)
	assert.Equal(t, "NETWORK_ERROR", e.Error.Code)

	assert.True(t, env.manager.Wishlist().Contains(55))
}

func TestToggle_AccountUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/session/login", LoginRequest{Access: "opaque", Refresh: "r"})
	env.remote.mu.Lock()
	env.remote.addErr = apperrors.Unauthorized("credential rejected after refresh")
	env.remote.mu.Unlock()

	rec := env.do(t, http.MethodPost, "/api/v1/wishlist/55/toggle", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProducts_GuestHydration(t *testing.T) {
	env := newTestEnv(t, 1, 2)

	rec := env.do(t, http.MethodGet, "/api/v1/wishlist/products?lang=tr", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Items      []map[string]any `json:"items"`
		TotalCount int              `json:"total_count"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, float64(1), page.Items[0]["id"])
}

func TestProducts_Paginated(t *testing.T) {
	env := newTestEnv(t, 1, 2)

	rec := env.do(t, http.MethodGet, "/api/v1/wishlist/products?page=2&per_page=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Items   []map[string]any `json:"items"`
		HasPrev bool             `json:"has_prev"`
		HasNext bool             `json:"has_next"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, float64(2), page.Items[0]["id"])
	assert.True(t, page.HasPrev)
	assert.False(t, page.HasNext)
}

// ============================================================================
// Operational endpoints
// ============================================================================

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestPprof_DeniedOutsideAllowlist(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec, nil).Error.Code)
}

func TestCorrelationIDEchoed(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/", nil)
	req.Header.Set(middleware.CorrelationHeader, "corr-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", rec.Header().Get(middleware.CorrelationHeader))
}
