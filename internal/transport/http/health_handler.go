package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	apierrors "licensekit/internal/errors"
	"licensekit/internal/services"
	"licensekit/pkg/contracts"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service *services.HealthService
	errors  *apierrors.ErrorHandler
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *services.HealthService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		service: service,
		errors:  errorHandler,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := h.service.Check(r.Context())
	if resp.Status != services.StatusHealthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

// ReadinessCheck handles GET /health/ready
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.service.Ready(r.Context()) {
		h.errors.HandleError(w, r, apierrors.ErrServiceUnavailable)
		return
	}
	render.JSON(w, r, map[string]string{"status": "ready"})
}

// LivenessCheck handles GET /health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status": "alive",
		"uptime": h.service.Uptime().Round(time.Second).String(),
	})
}

// Version handles GET /version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, contracts.GetVersionInfo())
}
