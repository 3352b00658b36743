package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Pinger is a dependency the health check pings
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// PingContext calls f
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthHandler reports process and dependency health
type HealthHandler struct {
	version  string
	sessions func() int
	checks   map[string]Pinger
	logger   *logrus.Logger
}

// NewHealthHandler creates a new HealthHandler. checks may be empty when the
// service runs without a database or redis.
func NewHealthHandler(version string, sessions func() int, checks map[string]Pinger, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		version:  version,
		sessions: sessions,
		checks:   checks,
		logger:   logger,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := gin.H{}
	for name, check := range h.checks {
		if err := check.PingContext(ctx); err != nil {
			h.logger.WithError(err).WithField("dependency", name).Warn("Health check failed")
			deps[name] = "unhealthy"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "healthy"
	}

	body := gin.H{
		"status":       status,
		"dependencies": deps,
		"version":      h.version,
		"timestamp":    time.Now().Unix(),
	}
	if h.sessions != nil {
		body["active_sessions"] = h.sessions()
	}
	c.JSON(code, body)
}
