package http

import (
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licensekit/internal/errors"
	"licensekit/internal/middleware"
	"licensekit/internal/services"
	"licensekit/internal/updater"
	"licensekit/pkg/contracts/domain"
)

// ContentTypeZip is the media type of release packages
const ContentTypeZip = "application/zip"

// UpdateHandler handles the update endpoints
type UpdateHandler struct {
	service services.UpdateService
	errors  *apierrors.ErrorHandler
	logger  *slog.Logger
}

// NewUpdateHandler creates a new update handler
func NewUpdateHandler(service services.UpdateService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *UpdateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateHandler{
		service: service,
		errors:  errorHandler,
		logger:  logger.With(slog.String("handler", "update")),
	}
}

// Routes returns a chi router for the update endpoints
func (h *UpdateHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/check", h.Check)
	r.Get("/download", h.Download)
	r.Get("/info", h.Info)
	return r
}

// Check handles GET /update/check
func (h *UpdateHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateCheckRequest
	if err := bindQuery(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	res, err := h.service.CheckUpdate(r.Context(), middleware.ClientIP(r), updater.UpdateCheckInput{
		LicenseKey:     req.LicenseKey,
		ProductSlug:    req.PluginSlug,
		Site:           req.SiteURL,
		CurrentVersion: req.CurrentVersion,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, domain.UpdateCheckResponse{
		Success:         true,
		LicenseStatus:   domain.LicenseStatusValid,
		UpdateAvailable: res.UpdateAvailable,
		NewVersion:      res.NewVersion,
		Changelog:       res.Changelog,
		PackageURL:      res.PackageURL,
	})
}

// Download handles GET /update/download. Range requests are honored.
func (h *UpdateHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req domain.DownloadRequest
	if err := bindQuery(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	pkg, err := h.service.Download(r.Context(), middleware.ClientIP(r), updater.DownloadInput{
		LicenseKey:  req.LicenseKey,
		ProductSlug: req.PluginSlug,
		Site:        req.SiteURL,
		Version:     req.Version,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	defer pkg.Content.Close()

	w.Header().Set("Content-Type", ContentTypeZip)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": pkg.Name}))
	http.ServeContent(w, r, pkg.Name, pkg.ModTime, pkg.Content)
}

// Info handles GET /update/info
func (h *UpdateHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Info(r.Context(), r.URL.Query().Get("plugin_slug"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}
