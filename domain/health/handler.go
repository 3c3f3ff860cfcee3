package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/internal/jobs"
	"github.com/Jalalidin/knowledgevault-sub001/internal/version"
)

// Pinger reports database reachability. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStats reports the processing backlog. *jobs.Queue satisfies it.
type QueueStats interface {
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

// Handler handles health check requests
type Handler struct {
	db      Pinger
	queue   QueueStats
	cfg     *config.Config
	startAt time.Time
}

func NewHandler(db Pinger, queue QueueStats, cfg *config.Config) *Handler {
	return &Handler{
		db:      db,
		queue:   queue,
		cfg:     cfg,
		startAt: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDisabled  = "disabled"
)

// Health returns the overall service health. Only the database decides the
// status code; optional integrations are reported as disabled.
// @Router /health [get]
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]Check{
		"database":   {Status: statusHealthy},
		"wechat_api": optional(h.cfg.WeChat.APIConfigured()),
		"storage":    optional(h.cfg.Storage.IsConfigured()),
		"llm":        optional(h.cfg.LLM.IsEnabled()),
	}

	overall := statusHealthy
	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = Check{Status: statusUnhealthy, Message: err.Error()}
		overall = statusUnhealthy
	} else if h.queue != nil {
		if stats, err := h.queue.GetStats(ctx); err == nil {
			checks["processing_queue"] = Check{Status: statusHealthy, Message: backlog(stats)}
		}
	}

	statusCode := http.StatusOK
	if overall == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Checks:    checks,
	})
}

func optional(configured bool) Check {
	if configured {
		return Check{Status: statusHealthy}
	}
	return Check{Status: statusDisabled}
}

func backlog(s *jobs.Stats) string {
	return fmt.Sprintf("pending=%d processing=%d failed=%d", s.Pending, s.Processing, s.Failed)
}

// Healthz is the liveness probe.
// @Router /healthz [get]
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready is the readiness probe; it fails while the database is unreachable.
// @Router /ready [get]
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "Database connection failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Version returns build information.
// @Router /api/version [get]
func (h *Handler) Version(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Current())
}
