// Package health implements the liveness/readiness probes from
// SPEC_FULL.md §1.6, adapted from the teacher's health.Handler. The
// teacher's readiness check also pings a Rust SFU over gRPC; this system
// has no SFU dependency, so that check is dropped — readiness here depends
// only on the optional Redis event-mirror bus.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nullwave/signalbroker/internal/v1/bus"
	"github.com/nullwave/signalbroker/internal/v1/logging"
)

// Handler serves the liveness and readiness probe endpoints.
type Handler struct {
	redisService *bus.Service
}

// NewHandler constructs a Handler. redisService may be nil when cross-
// instance event mirroring is disabled, in which case readiness always
// reports Redis as healthy (spec §9: mirroring is additive, never load-
// bearing).
func NewHandler(redisService *bus.Service) *Handler {
	return &Handler{redisService: redisService}
}

// LivenessResponse is the liveness probe response body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe response body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live: 200 if the process is alive, with no
// dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready: 200 only if the optional Redis bus
// (when enabled) is reachable, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	redisStatus := h.checkRedis(ctx)
	checks := map[string]string{"redis": redisStatus}

	status := "ready"
	code := http.StatusOK
	if redisStatus != "healthy" {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}
	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
