package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imagearena/api/internal/database"
	"github.com/imagearena/api/internal/eventbus"
)

const (
	serviceName    = "imagearena-api"
	serviceVersion = "0.1.0"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db    *database.Postgres
	redis *database.Redis
	bus   *eventbus.Bus
}

// NewHealthHandler creates a new health handler. Any dependency may be nil
// when the deployment does not use it.
func NewHealthHandler(db *database.Postgres, redis *database.Redis, bus *eventbus.Bus) *HealthHandler {
	return &HealthHandler{
		db:    db,
		redis: redis,
		bus:   bus,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health returns basic health status
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// DeepHealth returns health status with dependency checks
func (h *HealthHandler) DeepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string)
	allHealthy := true
	check := func(name string, configured bool, ping func() error) {
		if !configured {
			deps[name] = "not configured"
			return
		}
		if err := ping(); err != nil {
			deps[name] = "unhealthy: " + err.Error()
			allHealthy = false
			return
		}
		deps[name] = "healthy"
	}

	check("database", h.db != nil, func() error { return h.db.Ping(ctx) })
	check("redis", h.redis != nil, func() error { return h.redis.Ping(ctx) })
	check("nats", h.bus != nil, h.pingBus)

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:       status,
		Service:      serviceName,
		Version:      serviceVersion,
		Dependencies: deps,
	})
}

func (h *HealthHandler) pingBus() error {
	return h.bus.Ping()
}
