// Package health implements the ambient liveness/readiness probes
// (SPEC_FULL.md §4.H, §6). The spec's own bit-exact GET /health endpoint
// lives in internal/v1/httpapi, since its response shape is part of the
// external protocol rather than an ambient concern.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ukunda/rdm/internal/v1/bus"
	"github.com/ukunda/rdm/internal/v1/logging"
)

// Handler serves the ambient health endpoints.
type Handler struct {
	bus *bus.Service
}

// NewHandler builds a Handler. bus may be nil (single-instance mode).
func NewHandler(busService *bus.Service) *Handler {
	return &Handler{bus: busService}
}

// LivenessResponse is the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live: 200 if the process is up, no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready: 200 only if Redis (when configured) is reachable.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus

	status := "ready"
	statusCode := http.StatusOK
	if redisStatus != "healthy" {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.bus == nil {
		return "healthy"
	}
	if err := h.bus.Ping(ctx); err != nil {
		logging.Error(ctx, "redis readiness check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// MarshalJSON gives ReadinessResponse a stable encoding even if embedded later.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct{ *Alias }{Alias: (*Alias)(&r)})
}
