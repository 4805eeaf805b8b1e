package middleware

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"

	"github.com/frahmantamala/asset-loan/pkg/logger"
)

const TraceHeader = "X-Trace-ID"

var validTraceID = regexp.MustCompile(`^[A-Za-z0-9._-]{8,64}$`)

// RequestID binds a trace id to the request context and echoes it back.
// A well-formed inbound X-Trace-ID is kept so the helpdesk and callers can
// correlate; anything else is replaced by a fresh uuid.
func RequestID(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(TraceHeader)
			if !validTraceID.MatchString(traceID) {
				traceID = uuid.NewString()
			}

			ctx := logger.WithTraceID(r.Context(), base, traceID)
			if reqID := middleware.GetReqID(ctx); reqID != "" {
				ctx = logger.With(ctx, "request_id", reqID)
			}

			w.Header().Set(TraceHeader, traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
