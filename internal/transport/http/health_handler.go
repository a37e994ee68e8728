package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"

	"pricewatch/internal/chat"
	"pricewatch/internal/config"
	"pricewatch/internal/infrastructure"
)

// StatsSource reports the gateway's current load
type StatsSource interface {
	Stats() chat.Stats
}

// HealthCheck probes one dependency, e.g. a Mongo or Redis ping
type HealthCheck func(ctx context.Context) error

// HealthStatus is the detailed health response
type HealthStatus struct {
	Status    string                      `json:"status"`
	Timestamp time.Time                   `json:"timestamp"`
	Version   string                      `json:"version"`
	Chat      chat.Stats                  `json:"chat"`
	Runtime   infrastructure.RuntimeStats `json:"runtime"`
	Services  map[string]ServiceHealth    `json:"services,omitempty"`
}

// ServiceHealth is the result of one dependency check
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	stats        StatsSource
	checks       map[string]HealthCheck
	checkTimeout time.Duration
	startTime    time.Time
	logger       *slog.Logger
}

// NewHealthHandler creates a new health handler. checks may be nil.
func NewHealthHandler(stats StatsSource, checks map[string]HealthCheck, startTime time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		stats:        stats,
		checks:       checks,
		checkTimeout: 2 * time.Second,
		startTime:    startTime,
		logger:       infrastructure.WithComponent(logger, "health_handler"),
	}
}

// Liveness handles GET /health
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// HealthCheck handles GET /api/health. Any failing dependency turns the
// status to degraded and the response code to 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   config.AppVersion,
		Chat:      h.stats.Stats(),
		Runtime:   infrastructure.ReadRuntimeStats(h.startTime),
	}

	if len(h.checks) > 0 {
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		status.Services = make(map[string]ServiceHealth, len(names))
		for _, name := range names {
			checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
			err := h.checks[name](checkCtx)
			cancel()

			if err != nil {
				h.logger.WarnContext(ctx, "health check failed",
					slog.String("service", name),
					slog.String("error", err.Error()))
				status.Status = "degraded"
				status.Services[name] = ServiceHealth{Status: "unhealthy", Message: err.Error()}
				continue
			}
			status.Services[name] = ServiceHealth{Status: "healthy"}
		}
	}

	if status.Status != "healthy" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}
