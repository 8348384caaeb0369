package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront-session/pkg/logger"
)

// SubjectFunc reports the account subject of the current session, or "" for
// a guest.
type SubjectFunc func() string

// RequestLogger stores a request-scoped logger in the context, enriched with
// correlation_id, subject, trace_id and span_id. Mount it after RequestLogging
// and Tracing so those fields are already present.
func RequestLogger(base *slog.Logger, subject SubjectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if subject != nil {
				if s := subject(); s != "" {
					ctx = logger.WithSubject(ctx, s)
				}
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
