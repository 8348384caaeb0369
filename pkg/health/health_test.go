package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveReady(t *testing.T, h *Handler) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	h.ReadinessHandler().ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec, resp
}

func TestLivenessHandler_AlwaysReturns200(t *testing.T) {
	h := NewHandler()
	h.Register("storage", func(ctx context.Context) error { return fmt.Errorf("disk full") })

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUp, resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("storage", func(ctx context.Context) error { return nil })
	h.RegisterNonCritical("storefront", func(ctx context.Context) error { return nil })

	rec, resp := serveReady(t, h)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusUp, resp.Status)
	assert.Equal(t, StatusUp, resp.Checks["storage"].Status)
	assert.True(t, resp.Checks["storage"].Critical)
	assert.False(t, resp.Checks["storefront"].Critical)
}

func TestReadinessHandler_NoCheckers(t *testing.T) {
	rec, resp := serveReady(t, NewHandler())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusUp, resp.Status)
}

func TestReadinessHandler_NonCriticalDown_ReturnsDegraded200(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("storage", func(ctx context.Context) error { return nil })
	h.RegisterNonCritical("storefront", func(ctx context.Context) error { return fmt.Errorf("circuit open") })

	rec, resp := serveReady(t, h)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusDown, resp.Checks["storefront"].Status)
	assert.Equal(t, "circuit open", resp.Checks["storefront"].Error)
}

func TestReadinessHandler_CriticalDown_Returns503(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("storage", func(ctx context.Context) error { return fmt.Errorf("connection refused") })
	h.RegisterNonCritical("storefront", func(ctx context.Context) error { return fmt.Errorf("circuit open") })

	rec, resp := serveReady(t, h)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusDown, resp.Status)
}

func TestRegister_IsCriticalByDefault(t *testing.T) {
	h := NewHandler()
	h.Register("storage", func(ctx context.Context) error { return fmt.Errorf("fail") })

	rec, resp := serveReady(t, h)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, resp.Checks["storage"].Critical)
}

func TestRegister_Overwrite(t *testing.T) {
	h := NewHandler()
	h.Register("storage", func(ctx context.Context) error { return fmt.Errorf("fail") })
	h.Register("storage", func(ctx context.Context) error { return nil })

	rec, _ := serveReady(t, h)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHandler()
	for _, name := range []string{"a", "b", "c"} {
		h.Register(name, func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		})
	}

	start := time.Now()
	rec, _ := serveReady(t, h)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}
