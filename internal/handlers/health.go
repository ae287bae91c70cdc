package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/metaeraser/internal/healthcheck"
)

// CheckLister lists runtime check items.
type CheckLister interface {
	ListChecks(ctx context.Context) []healthcheck.CheckResult
}

type HealthHandler struct {
	lister CheckLister
}

type checksResponse struct {
	Status string                    `json:"status"`
	Items  []healthcheck.CheckResult `json:"items"`
}

func NewHealthHandler(lister CheckLister) *HealthHandler {
	return &HealthHandler{lister: lister}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health/checks", h.ListChecks)
}

// ListChecks returns every check item; the overall status is the worst one.
func (h *HealthHandler) ListChecks(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()
	items := h.lister.ListChecks(ctx)
	resp := checksResponse{Status: healthcheck.StatusOK, Items: items}
	for _, item := range items {
		switch item.Status {
		case healthcheck.StatusError:
			resp.Status = healthcheck.StatusError
		case healthcheck.StatusWarn:
			if resp.Status == healthcheck.StatusOK {
				resp.Status = healthcheck.StatusWarn
			}
		}
	}
	code := http.StatusOK
	if resp.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
