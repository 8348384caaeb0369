package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/storefront-session/internal/domain"
	"github.com/utafrali/storefront-session/internal/repository"
	apperrors "github.com/utafrali/storefront-session/pkg/errors"
	"github.com/utafrali/storefront-session/pkg/httpclient"
	"github.com/utafrali/storefront-session/pkg/tracing"
	"github.com/utafrali/storefront-session/pkg/validator"
)

// RefreshPath is the backend endpoint exchanging a refresh token for an
// access token.
const RefreshPath = "auth/jwt/refresh/"

const flightKey = "refresh"

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access" validate:"required"`
	Refresh string `json:"refresh"`
}

// Refresher exchanges the stored refresh token for a new access credential.
// At most one exchange is in flight at a time; concurrent callers share its
// result.
type Refresher struct {
	doer     httpclient.Doer
	endpoint string
	creds    *Credentials
	repo     repository.CredentialRepository
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer

	group    singleflight.Group
	onReject func(ctx context.Context)
}

// NewRefresher creates a Refresher posting to baseURL + RefreshPath through
// doer. doer must not be the authorizing gateway.
func NewRefresher(doer httpclient.Doer, baseURL string, creds *Credentials, repo repository.CredentialRepository, logger *slog.Logger) *Refresher {
	return &Refresher{
		doer:     doer,
		endpoint: strings.TrimRight(baseURL, "/") + "/" + RefreshPath,
		creds:    creds,
		repo:     repo,
		timeout:  15 * time.Second,
		logger:   logger,
		tracer:   tracing.Tracer("github.com/utafrali/storefront-session/internal/auth"),
	}
}

// OnReject registers fn to run after the backend rejects the refresh token
// and the stored tokens are cleared. Set it before the Refresher is shared.
func (r *Refresher) OnReject(fn func(ctx context.Context)) {
	r.onReject = fn
}

// HasCapability reports whether a refresh token is stored.
func (r *Refresher) HasCapability(ctx context.Context) (bool, error) {
	tok, err := r.repo.RefreshToken(ctx)
	if err != nil {
		return false, fmt.Errorf("read refresh token: %w", err)
	}
	return tok != "", nil
}

// Refresh always performs an exchange (or joins the one in flight).
func (r *Refresher) Refresh(ctx context.Context) (*domain.Credential, error) {
	return r.do(ctx, func() (*domain.Credential, bool) { return nil, false })
}

// RefreshIfStale refreshes only if used is still the current credential.
// When another caller has already replaced it, the replacement is returned
// without a network call. The check runs inside the flight, so a burst of
// callers holding the same rejected credential causes one exchange.
func (r *Refresher) RefreshIfStale(ctx context.Context, used *domain.Credential) (*domain.Credential, error) {
	return r.do(ctx, func() (*domain.Credential, bool) {
		cur := r.creds.Current()
		if cur != nil && !cur.Same(used) {
			return cur, true
		}
		return nil, false
	})
}

func (r *Refresher) do(ctx context.Context, shortcut func() (*domain.Credential, bool)) (*domain.Credential, error) {
	// The exchange outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	flightCtx := context.WithoutCancel(ctx)

	ch := r.group.DoChan(flightKey, func() (any, error) {
		if cur, ok := shortcut(); ok {
			refreshTotal.WithLabelValues(outcomeReused).Inc()
			return cur, nil
		}
		fctx, cancel := context.WithTimeout(flightCtx, r.timeout)
		defer cancel()
		return r.exchange(fctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Credential), nil
	}
}

func (r *Refresher) exchange(ctx context.Context) (cred *domain.Credential, err error) {
	ctx, span := r.tracer.Start(ctx, "auth.refresh", trace.WithSpanKind(trace.SpanKindClient))
	defer func() { tracing.EndSpan(span, err) }()

	refreshToken, err := r.repo.RefreshToken(ctx)
	if err != nil {
		refreshTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("read refresh token: %w", err)
	}
	if refreshToken == "" {
		refreshTotal.WithLabelValues(outcomeAbsent).Inc()
		return nil, apperrors.RefreshFailed("no refresh token stored")
	}

	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("marshal refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.doer.Do(ctx, req)
	if err != nil {
		refreshTotal.WithLabelValues(outcomeError).Inc()
		if httpclient.IsRejected(err) {
			return nil, apperrors.ServiceUnavailable("storefront backend circuit open")
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.Network(err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		parsed := httpclient.ParseResponseError(resp, "auth")
		if rejected(resp.StatusCode) {
			return nil, r.reject(ctx, parsed)
		}
		refreshTotal.WithLabelValues(outcomeError).Inc()
		return nil, parsed
	}
	defer resp.Body.Close()

	var payload refreshResponse
	if err := validator.DecodeStrict(resp.Body, &payload); err != nil {
		refreshTotal.WithLabelValues(outcomeMalformed).Inc()
		return nil, apperrors.MalformedResponse("refresh response: " + err.Error())
	}

	cred = domain.NewCredential(payload.Access)
	r.creds.Set(cred)

	if err := r.repo.SaveAccessToken(ctx, payload.Access); err != nil {
		r.logger.WarnContext(ctx, "failed to persist access token", slog.String("error", err.Error()))
	}
	if payload.Refresh != "" && payload.Refresh != refreshToken {
		if err := r.repo.SaveRefreshToken(ctx, payload.Refresh); err != nil {
			r.logger.WarnContext(ctx, "failed to persist rotated refresh token", slog.String("error", err.Error()))
		}
	}

	refreshTotal.WithLabelValues(outcomeSuccess).Inc()
	r.logger.InfoContext(ctx, "access token refreshed",
		slog.String("subject", cred.Subject),
		slog.Time("expires_at", cred.ExpiresAt),
	)
	return cred, nil
}

// rejected reports whether status means the backend refused the refresh
// token itself. Throttling and timeouts say nothing about the token.
func rejected(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// reject handles a refresh token the backend refused. The dead token is
// removed so later bootstraps go straight to guest.
func (r *Refresher) reject(ctx context.Context, cause error) error {
	refreshTotal.WithLabelValues(outcomeRejected).Inc()
	r.creds.Clear()
	if err := r.repo.Clear(ctx); err != nil {
		r.logger.WarnContext(ctx, "failed to clear rejected credentials", slog.String("error", err.Error()))
	}
	r.logger.InfoContext(ctx, "refresh token rejected", slog.String("cause", cause.Error()))
	if r.onReject != nil {
		r.onReject(ctx)
	}

	return &apperrors.AppError{
		Code:    "REFRESH_FAILED",
		Message: "refresh token rejected",
		Status:  http.StatusUnauthorized,
		Err:     fmt.Errorf("%w: %v", apperrors.ErrRefreshFailed, cause),
	}
}
