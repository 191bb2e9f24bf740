package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/diewo77/go-contracts/httpx"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler reports liveness and dependency readiness.
type HealthHandler struct {
	db    *gorm.DB
	redis *redis.Client // optional
}

func NewHealthHandler(db *gorm.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb}
}

// Live handles GET /health.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /healthz with a lightweight check of each backing store.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	healthy := true
	if err := h.db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		checks["database"] = "unavailable"
		healthy = false
	}
	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unavailable"
			healthy = false
		}
	}
	if !healthy {
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": checks})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": checks})
}
