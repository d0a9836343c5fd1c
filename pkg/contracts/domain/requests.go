package domain

// ActivateRequest is the payload of POST /license/activate
type ActivateRequest struct {
	LicenseKey     string `json:"license_key" validate:"required" form:"license_key"`
	PluginSlug     string `json:"plugin_slug" validate:"required" form:"plugin_slug"`
	SiteURL        string `json:"site_url" validate:"required" form:"site_url"`
	InstallURL     string `json:"wp_install_url,omitempty" form:"wp_install_url"`
	PluginVersion  string `json:"plugin_version,omitempty" form:"plugin_version"`
	HostVersion    string `json:"host_version,omitempty" form:"host_version"`
	RuntimeVersion string `json:"runtime_version,omitempty" form:"runtime_version"`
}

// DeactivateRequest is the payload of POST /license/deactivate
type DeactivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required" form:"license_key"`
	PluginSlug string `json:"plugin_slug" validate:"required" form:"plugin_slug"`
	SiteURL    string `json:"site_url" validate:"required" form:"site_url"`
}

// CheckRequest is the query of GET /license/check
type CheckRequest struct {
	LicenseKey string `json:"license_key" validate:"required" form:"license_key"`
	PluginSlug string `json:"plugin_slug" validate:"required" form:"plugin_slug"`
	SiteURL    string `json:"site_url,omitempty" form:"site_url"`
}

// UpdateCheckRequest is the query of GET /update/check
type UpdateCheckRequest struct {
	LicenseKey     string `json:"license_key" validate:"required" form:"license_key"`
	PluginSlug     string `json:"plugin_slug" validate:"required" form:"plugin_slug"`
	SiteURL        string `json:"site_url,omitempty" form:"site_url"`
	CurrentVersion string `json:"current_version" validate:"required" form:"current_version"`
}

// DownloadRequest is the query of GET /update/download
type DownloadRequest struct {
	LicenseKey string `json:"license_key" validate:"required" form:"license_key"`
	PluginSlug string `json:"plugin_slug" validate:"required" form:"plugin_slug"`
	SiteURL    string `json:"site_url,omitempty" form:"site_url"`
	Version    string `json:"version" validate:"required" form:"version"`
}

// LicenseResponse is returned by activate, deactivate and check
type LicenseResponse struct {
	Success       bool           `json:"success"`
	LicenseStatus LicenseStatus  `json:"license_status"`
	Message       string         `json:"message,omitempty"`
	Data          *UsageSnapshot `json:"data,omitempty"`
}

// UpdateCheckResponse is returned by the update check
type UpdateCheckResponse struct {
	Success         bool          `json:"success"`
	LicenseStatus   LicenseStatus `json:"license_status"`
	UpdateAvailable bool          `json:"update_available"`
	NewVersion      string        `json:"new_version,omitempty"`
	Changelog       string        `json:"changelog,omitempty"`
	PackageURL      string        `json:"package_url,omitempty"`
}

// ProductInfo describes a published product for the host's plugin information screen
type ProductInfo struct {
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	LatestVersion string `json:"version"`
	Changelog     string `json:"changelog,omitempty"`
	Homepage      string `json:"homepage,omitempty"`
	Requires      string `json:"requires,omitempty"`
}
