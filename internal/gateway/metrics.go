package gateway

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/storefront-session/pkg/errors"
)

const (
	outcomeOK           = "ok"
	outcomeRefreshed    = "refreshed"
	outcomeUnauthorized = "unauthorized"
	outcomeNetwork      = "network"
	outcomeUnavailable  = "unavailable"
	outcomeCanceled     = "canceled"
	outcomeClientError  = "client_error"
	outcomeError        = "error"
)

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "session_gateway_requests_total",
		Help: "Backend requests sent through the authorizing gateway by outcome",
	},
	[]string{"method", "outcome"},
)

func classify(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	case errors.Is(err, apperrors.ErrUnauthorized):
		return outcomeUnauthorized
	case errors.Is(err, apperrors.ErrNetwork):
		return outcomeNetwork
	case errors.Is(err, apperrors.ErrServiceUnavail):
		return outcomeUnavailable
	case apperrors.HTTPStatus(err) < 500:
		return outcomeClientError
	default:
		return outcomeError
	}
}
