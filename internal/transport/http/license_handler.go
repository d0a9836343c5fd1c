package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licensekit/internal/errors"
	"licensekit/internal/license"
	"licensekit/internal/middleware"
	"licensekit/internal/services"
	"licensekit/pkg/contracts/domain"
)

// LicenseHandler handles the license endpoints
type LicenseHandler struct {
	service services.LicenseService
	errors  *apierrors.ErrorHandler
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service: service,
		errors:  errorHandler,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for the license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	r.Get("/check", h.Check)
	return r
}

// Activate handles POST /license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req domain.ActivateRequest
	if err := bindBody(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	client := middleware.ClientIP(r)
	res, err := h.service.Activate(r.Context(), client, license.ActivateInput{
		LicenseKey:  req.LicenseKey,
		ProductSlug: req.PluginSlug,
		Site:        req.SiteURL,
		Meta: domain.InstallMeta{
			InstallURL: req.InstallURL,
			IPAddress:  client,
			UserAgent:  r.UserAgent(),
		},
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	if res.Created || res.Reactivated {
		h.logger.DebugContext(r.Context(), "activation recorded",
			slog.String("product", req.PluginSlug),
			slog.String("plugin_version", req.PluginVersion),
			slog.String("host_version", req.HostVersion),
			slog.String("runtime_version", req.RuntimeVersion),
		)
	}
	h.render(w, r, res)
}

// Deactivate handles POST /license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req domain.DeactivateRequest
	if err := bindBody(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	res, err := h.service.Deactivate(r.Context(), middleware.ClientIP(r), license.DeactivateInput{
		LicenseKey:  req.LicenseKey,
		ProductSlug: req.PluginSlug,
		Site:        req.SiteURL,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.render(w, r, res)
}

// Check handles GET /license/check
func (h *LicenseHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckRequest
	if err := bindQuery(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	res, err := h.service.Check(r.Context(), middleware.ClientIP(r), license.CheckInput{
		LicenseKey:  req.LicenseKey,
		ProductSlug: req.PluginSlug,
		Site:        req.SiteURL,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.render(w, r, res)
}

func (h *LicenseHandler) render(w http.ResponseWriter, r *http.Request, res *license.Result) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, domain.LicenseResponse{
		Success:       true,
		LicenseStatus: res.Status,
		Message:       res.Message,
		Data:          res.Usage,
	})
}
