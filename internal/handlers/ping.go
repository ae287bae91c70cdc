package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/metaeraser/internal/flow"
	"github.com/memohai/metaeraser/internal/version"
)

const healthCheckTimeout = 2 * time.Second

// Checker reports whether a dependency is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// StatsSource exposes the pipeline outcome counters.
type StatsSource interface {
	Stats() flow.Stats
}

type PingHandler struct {
	checker Checker
	stats   StatsSource
	started time.Time
	logger  *slog.Logger
}

type statsResponse struct {
	flow.Stats
	UptimeSeconds int64        `json:"uptime_seconds"`
	Version       version.Info `json:"version"`
}

// NewPingHandler serves liveness, readiness and counters. checker and stats may be nil.
func NewPingHandler(log *slog.Logger, checker Checker, stats StatsSource) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{
		checker: checker,
		stats:   stats,
		started: time.Now(),
		logger:  log.With(slog.String("handler", "ping")),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.Health)
	e.GET("/stats", h.Stats)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health answers 200 while every readiness check passes and 503 otherwise.
func (h *PingHandler) Health(c echo.Context) error {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
		defer cancel()
		if err := h.checker.Check(ctx); err != nil {
			h.logger.Warn("health check failed", slog.Any("error", err))
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}

func (h *PingHandler) Stats(c echo.Context) error {
	resp := statsResponse{
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Version:       version.GetInfo(),
	}
	if h.stats != nil {
		resp.Stats = h.stats.Stats()
	}
	return c.JSON(http.StatusOK, resp)
}
