package config

import "time"

// Application constants
const (
	AppName = "licensekit"

	// EnvPrefix namespaces every environment variable, e.g. LICENSEKIT_SERVER_PORT
	EnvPrefix = "LICENSEKIT"
)

// Client entitlement defaults
const (
	DefaultCacheTTL      = 1 * time.Hour
	DefaultGraceWindow   = 7 * 24 * time.Hour
	DefaultRemoteTimeout = 8 * time.Second
)

// Route paths
const (
	RouteActivate       = "/license/activate"
	RouteDeactivate     = "/license/deactivate"
	RouteCheck          = "/license/check"
	RouteUpdateCheck    = "/update/check"
	RouteUpdateDownload = "/update/download"
	RouteUpdateInfo     = "/update/info"
)
