package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/asset-loan/pkg/logger"
)

const (
	filtered     = "[FILTERED]"
	maxBodyBytes = 4 << 10
)

// redactedFields are matched against lower-cased JSON keys and header names.
var redactedFields = map[string]bool{
	"password":         true,
	"password_hash":    true,
	"token":            true,
	"access_token":     true,
	"refresh_token":    true,
	"approval_token":   true,
	"authorization":    true,
	"api_key":          true,
	"x-helpdesk-key":   true,
	"applicant_name":   true,
	"applicant_email":  true,
	"applicant_phone":  true,
	"staff_id":         true,
	"cookie":           true,
	"set-cookie":       true,
	"jwt_secret":       true,
	"callback_api_key": true,
}

// quietPaths are probed by load balancers and only logged at debug.
var quietPaths = map[string]bool{
	"/api/v1/health": true,
	"/api/v1/ping":   true,
}

// LoggingMiddleware logs one line per request and one per response through the
// request-scoped logger, so the trace id set by RequestID is carried along.
// Bodies are logged at debug only, truncated and with PII and secrets masked.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lg := logger.FromOr(r.Context(), base)

			quiet := quietPaths[r.URL.Path]
			reqLevel := slog.LevelInfo
			if quiet {
				reqLevel = slog.LevelDebug
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			}
			if lg.Enabled(r.Context(), slog.LevelDebug) {
				attrs = append(attrs,
					"query", r.URL.RawQuery,
					"headers", redactHeaders(r.Header),
					"body", redactBody(peekBody(r)))
			}
			lg.Log(r.Context(), reqLevel, "incoming request", attrs...)

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			level := reqLevel
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}

			attrs = []any{
				"status_code", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", rec.size,
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					attrs = append(attrs, "route", pattern)
				}
				if id := rctx.URLParam("id"); id != "" && strings.HasPrefix(r.URL.Path, "/api/v1/loans/") {
					attrs = append(attrs, "application_id", id)
				}
			}
			if lg.Enabled(r.Context(), slog.LevelDebug) || status >= 400 {
				attrs = append(attrs, "body", redactBody(rec.body.Bytes()))
			}
			lg.Log(r.Context(), level, "response", attrs...)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
	body   bytes.Buffer
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if room := maxBodyBytes - rw.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rw.body.Write(b[:room])
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// peekBody reads at most maxBodyBytes and restores the full body for the
// next handler.
func peekBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	raw, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	if len(raw) > maxBodyBytes {
		return raw[:maxBodyBytes]
	}
	return raw
}

func redactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if redactedFields[strings.ToLower(name)] {
			out[name] = filtered
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// redactBody masks redacted keys at any depth of a JSON document. A body that
// is not valid JSON (including a truncated one) is replaced by its size.
func redactBody(body []byte) any {
	if len(body) == 0 {
		return ""
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return map[string]int{"non_json_bytes": len(body)}
	}
	return redactValue(doc)
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if redactedFields[strings.ToLower(k)] {
				out[k] = filtered
				continue
			}
			out[k] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val)
		}
		return out
	default:
		return v
	}
}
