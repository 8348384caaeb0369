package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/utafrali/storefront-session/internal/domain"
	apperrors "github.com/utafrali/storefront-session/pkg/errors"
	"github.com/utafrali/storefront-session/pkg/httpclient"
	"github.com/utafrali/storefront-session/pkg/logger"
	"github.com/utafrali/storefront-session/pkg/tracing"
)

const maxResponseBytes = 4 << 20

// CredentialSource exposes the credential currently in use.
type CredentialSource interface {
	Current() *domain.Credential
}

// TokenRefresher replaces a credential the backend rejected.
type TokenRefresher interface {
	RefreshIfStale(ctx context.Context, used *domain.Credential) (*domain.Credential, error)
}

// Request describes one backend call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded when non-nil.
	Body any
	// Public requests carry no credential and never trigger a refresh.
	Public bool
}

// Response is a fully read 2xx backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into dst.
func (r *Response) Decode(dst any) error {
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return apperrors.MalformedResponse(fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

// Gateway authorizes backend calls with the current credential. A 401 leads
// to one refresh and one retry; nothing else is retried here.
type Gateway struct {
	doer      httpclient.Doer
	baseURL   string
	creds     CredentialSource
	refresher TokenRefresher
	limiter   *rate.Limiter
	skew      time.Duration
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRateLimit caps outgoing requests at limit per second with burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(g *Gateway) { g.limiter = rate.NewLimiter(limit, burst) }
}

// WithExpirySkew refreshes credentials that expire within skew before use.
func WithExpirySkew(skew time.Duration) Option {
	return func(g *Gateway) { g.skew = skew }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a Gateway sending through doer to baseURL.
func New(doer httpclient.Doer, baseURL string, creds CredentialSource, refresher TokenRefresher, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		doer:      doer,
		baseURL:   strings.TrimRight(baseURL, "/") + "/",
		creds:     creds,
		refresher: refresher,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		skew:      30 * time.Second,
		now:       time.Now,
		logger:    logger,
		tracer:    tracing.Tracer("github.com/utafrali/storefront-session/internal/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do sends req and returns the 2xx response. Failures come back as
// AppErrors: ErrUnauthorized when the credential cannot be renewed or is
// rejected after renewal, ErrNetwork for transport failures, and the mapped
// backend error for any other non-2xx status.
func (g *Gateway) Do(ctx context.Context, req *Request) (resp *Response, err error) {
	correlationID := logger.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
		ctx = logger.WithCorrelationID(ctx, correlationID)
	}

	ctx, span := g.tracer.Start(ctx, "gateway.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("gateway.path", req.Path),
			attribute.Bool("gateway.public", req.Public),
		),
	)
	outcome := outcomeOK
	defer func() {
		span.SetAttributes(attribute.String("gateway.outcome", outcome))
		tracing.EndSpan(span, err)
		requestsTotal.WithLabelValues(req.Method, outcome).Inc()
	}()

	target, body, err := g.prepare(req)
	if err != nil {
		outcome = outcomeError
		return nil, err
	}

	if req.Public {
		raw, err := g.send(ctx, req.Method, target, body, nil, correlationID)
		if err != nil {
			outcome = classify(err)
			return nil, err
		}
		return g.finish(raw, &outcome)
	}

	cred := g.creds.Current()
	refreshed := false
	if cred == nil || cred.Expired(g.now(), g.skew) {
		span.AddEvent("proactive refresh")
		if cred, err = g.renew(ctx, cred); err != nil {
			outcome = classify(err)
			return nil, err
		}
		refreshed = true
	}

	raw, err := g.send(ctx, req.Method, target, body, cred, correlationID)
	if err != nil {
		outcome = classify(err)
		return nil, err
	}

	if raw.StatusCode == http.StatusUnauthorized {
		drain(raw)
		if refreshed {
			outcome = outcomeUnauthorized
			return nil, g.unauthorized(ctx, req)
		}

		g.logger.InfoContext(ctx, "credential rejected, refreshing",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
		)
		span.AddEvent("reactive refresh")
		if cred, err = g.renew(ctx, cred); err != nil {
			outcome = classify(err)
			return nil, err
		}

		raw, err = g.send(ctx, req.Method, target, body, cred, correlationID)
		if err != nil {
			outcome = classify(err)
			return nil, err
		}
		if raw.StatusCode == http.StatusUnauthorized {
			drain(raw)
			outcome = outcomeUnauthorized
			return nil, g.unauthorized(ctx, req)
		}
		outcome = outcomeRefreshed
	}

	return g.finish(raw, &outcome)
}

func (g *Gateway) prepare(req *Request) (string, []byte, error) {
	target := g.baseURL + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	if req.Body == nil {
		return target, nil, nil
	}
	body, err := json.Marshal(req.Body)
	if err != nil {
		return "", nil, apperrors.InvalidInput(fmt.Sprintf("encode request body: %v", err))
	}
	return target, body, nil
}

// renew asks for a credential to replace used. Refresh failure is terminal
// for the call; other failures (network, cancellation) pass through.
func (g *Gateway) renew(ctx context.Context, used *domain.Credential) (*domain.Credential, error) {
	cred, err := g.refresher.RefreshIfStale(ctx, used)
	if err == nil {
		return cred, nil
	}
	if errors.Is(err, apperrors.ErrRefreshFailed) {
		g.logger.WarnContext(ctx, "credential could not be renewed", slog.String("error", err.Error()))
		return nil, &apperrors.AppError{
			Code:    "UNAUTHORIZED",
			Message: "session expired",
			Status:  http.StatusUnauthorized,
			Err:     fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err),
		}
	}
	return nil, err
}

func (g *Gateway) unauthorized(ctx context.Context, req *Request) error {
	g.logger.WarnContext(ctx, "credential rejected after refresh",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
	)
	return apperrors.Unauthorized("credential rejected after refresh")
}

func (g *Gateway) send(ctx context.Context, method, target string, body []byte, cred *domain.Credential, correlationID string) (*http.Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.ServiceUnavailable("rate limit: " + err.Error())
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Correlation-ID", correlationID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if cred != nil {
		httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := g.doer.Do(ctx, httpReq)
	if err == nil {
		return resp, nil
	}

	var appErr *apperrors.AppError
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case httpclient.IsRejected(err):
		return nil, apperrors.ServiceUnavailable("storefront backend circuit open")
	case errors.As(err, &appErr):
		return nil, err
	default:
		return nil, apperrors.Network(err)
	}
}

func (g *Gateway) finish(raw *http.Response, outcome *string) (*Response, error) {
	if raw.StatusCode < 200 || raw.StatusCode > 299 {
		err := httpclient.ParseResponseError(raw, "storefront")
		*outcome = classify(err)
		return nil, err
	}
	defer raw.Body.Close()

	data, err := io.ReadAll(io.LimitReader(raw.Body, maxResponseBytes))
	if err != nil {
		*outcome = outcomeNetwork
		return nil, apperrors.Network(fmt.Errorf("read response body: %w", err))
	}
	return &Response{StatusCode: raw.StatusCode, Header: raw.Header, Body: data}, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
