package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// outboxStallAfter is how old the oldest undispatched event may get before
// the relay is reported as degraded.
const outboxStallAfter = 5 * time.Minute

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

type HealthHandler struct {
	db    *sql.DB
	redis *redis.Client
	now   func() time.Time
}

// NewHealthHandler reports on postgres, the outbox backlog and, when
// application locks are distributed, redis. rdb may be nil.
func NewHealthHandler(db *sql.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, now: time.Now}
}

func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// healthCheckHandler answers 503 only when a dependency is down. A stalled
// outbox is degraded: commands still work but subscribers lag behind.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]CheckEntry{
		"postgres": timed(func() CheckEntry { return pingEntry(h.db.PingContext(ctx)) }),
		"outbox":   timed(func() CheckEntry { return h.outboxEntry(ctx) }),
	}
	if h.redis != nil {
		components["redis"] = timed(func() CheckEntry { return pingEntry(h.redis.Ping(ctx).Err()) })
	}

	overall := HealthHealthy
	for _, entry := range components {
		switch entry.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
	}

	statusCode := http.StatusOK
	if overall == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeHealthJSON(w, statusCode, HealthResponse{
		Status:     overall,
		CheckedAt:  h.now(),
		Components: components,
	})
}

func (h *HealthHandler) outboxEntry(ctx context.Context) CheckEntry {
	var (
		pending int64
		oldest  sql.NullTime
	)
	err := h.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(occurred_at) FROM outbox_messages WHERE dispatched_at IS NULL`,
	).Scan(&pending, &oldest)
	if err != nil {
		return CheckEntry{Status: HealthUnhealthy, Message: fmt.Sprintf("query outbox backlog: %v", err)}
	}

	entry := CheckEntry{Status: HealthHealthy, Details: map[string]any{"pending": pending}}
	if oldest.Valid {
		lag := h.now().Sub(oldest.Time)
		entry.Details["oldest_pending_seconds"] = int64(lag.Seconds())
		if lag > outboxStallAfter {
			entry.Status = HealthDegraded
			entry.Message = "outbox relay is behind"
		}
	}
	return entry
}

func pingEntry(err error) CheckEntry {
	if err != nil {
		return CheckEntry{Status: HealthUnhealthy, Message: err.Error()}
	}
	return CheckEntry{Status: HealthHealthy}
}

func timed(check func() CheckEntry) CheckEntry {
	start := time.Now()
	entry := check()
	entry.DurationMs = time.Since(start).Milliseconds()
	return entry
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
