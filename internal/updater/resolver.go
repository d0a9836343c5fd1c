package updater

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// DownloadPath is the route that serves authorized packages
const DownloadPath = "/update/download"

// Authorizer confirms that a license is currently entitled to a product
type Authorizer interface {
	Authorize(ctx context.Context, licenseKey, productSlug string) (*domain.LicenseRecord, error)
}

// UpdateCheckInput is the input of CheckUpdate
type UpdateCheckInput struct {
	LicenseKey     string
	ProductSlug    string
	Site           string
	CurrentVersion string
}

// UpdateCheckResult is the outcome of CheckUpdate
type UpdateCheckResult struct {
	UpdateAvailable bool
	NewVersion      string
	Changelog       string
	PackageURL      string
}

// DownloadInput is the input of Download
type DownloadInput struct {
	LicenseKey  string
	ProductSlug string
	Site        string
	Version     string
}

// Resolver answers update checks and authorizes package downloads
type Resolver struct {
	auth     Authorizer
	catalog  *Catalog
	packages PackageStore
	baseURL  string
	logger   *slog.Logger
}

// NewResolver creates a resolver. baseURL is the public root of this service
// and prefixes generated package URLs.
func NewResolver(auth Authorizer, catalog *Catalog, packages PackageStore, baseURL string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		auth:     auth,
		catalog:  catalog,
		packages: packages,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger.With(slog.String("component", "updater")),
	}
}

// CheckUpdate reports whether a newer release than CurrentVersion exists for
// an entitled license. The package URL points back at the download route so
// the license is evaluated again when the package is fetched.
func (r *Resolver) CheckUpdate(ctx context.Context, in UpdateCheckInput) (*UpdateCheckResult, error) {
	key, product, current := strings.TrimSpace(in.LicenseKey), strings.TrimSpace(in.ProductSlug), strings.TrimSpace(in.CurrentVersion)
	if key == "" || product == "" || current == "" {
		return nil, missingFields()
	}
	site, err := optionalSite(in.Site)
	if err != nil {
		return nil, err
	}

	if _, err := r.auth.Authorize(ctx, key, product); err != nil {
		return nil, err
	}

	release, ok := r.catalog.Lookup(product)
	if !ok {
		r.logger.DebugContext(ctx, "update check for product without release", slog.String("product", product))
		return &UpdateCheckResult{}, nil
	}

	newer, err := IsNewer(current, release.LatestVersion)
	if err != nil {
		return nil, &license.StatusError{Status: domain.LicenseStatusInvalid, Message: MsgInvalidVersion, Err: err}
	}
	if !newer {
		return &UpdateCheckResult{}, nil
	}

	r.logger.InfoContext(ctx, "update available",
		slog.String("license_key", license.MaskKey(key)),
		slog.String("product", product),
		slog.String("current_version", current),
		slog.String("latest_version", release.LatestVersion),
	)

	return &UpdateCheckResult{
		UpdateAvailable: true,
		NewVersion:      release.LatestVersion,
		Changelog:       release.Changelog,
		PackageURL:      r.packageURL(key, product, site, release.LatestVersion),
	}, nil
}

func (r *Resolver) packageURL(key, product, site, version string) string {
	q := url.Values{}
	q.Set("license_key", key)
	q.Set("plugin_slug", product)
	if site != "" {
		q.Set("site_url", site)
	}
	q.Set("version", version)
	return r.baseURL + DownloadPath + "?" + q.Encode()
}

// Download re-evaluates the license and opens the package of the requested
// version, which must equal the published latest version exactly
func (r *Resolver) Download(ctx context.Context, in DownloadInput) (*Package, error) {
	key, product, version := strings.TrimSpace(in.LicenseKey), strings.TrimSpace(in.ProductSlug), strings.TrimSpace(in.Version)
	if key == "" || product == "" || version == "" {
		return nil, missingFields()
	}
	if _, err := optionalSite(in.Site); err != nil {
		return nil, err
	}

	if _, err := r.auth.Authorize(ctx, key, product); err != nil {
		return nil, err
	}

	release, ok := r.catalog.Lookup(product)
	if !ok || release.LatestVersion != version {
		r.logger.WarnContext(ctx, "download rejected: unknown release",
			slog.String("license_key", license.MaskKey(key)),
			slog.String("product", product),
			slog.String("version", version),
		)
		return nil, unknownRelease()
	}

	pkg, err := r.packages.Open(ctx, release.Package)
	if err != nil {
		return nil, fmt.Errorf("release %s %s: %w", product, version, err)
	}

	r.logger.InfoContext(ctx, "download authorized",
		slog.String("license_key", license.MaskKey(key)),
		slog.String("product", product),
		slog.String("version", version),
		slog.Int64("size", pkg.Size),
	)
	return pkg, nil
}

// Info returns the public description of a product
func (r *Resolver) Info(_ context.Context, productSlug string) (*domain.ProductInfo, error) {
	product := strings.TrimSpace(productSlug)
	if product == "" {
		return nil, missingFields()
	}
	release, ok := r.catalog.Lookup(product)
	if !ok {
		return nil, &license.StatusError{Status: domain.LicenseStatusInvalid, Message: MsgUnknownProduct, Err: ErrUnknownProduct}
	}
	return release.Info(product), nil
}

func optionalSite(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	site, err := license.NormalizeSite(raw)
	if err != nil {
		return "", &license.StatusError{Status: domain.LicenseStatusInvalid, Message: license.MsgInvalidSite, Err: err}
	}
	return site, nil
}

func missingFields() error {
	return &license.StatusError{Status: domain.LicenseStatusInvalid, Message: license.MsgMissingFields, Err: license.ErrInvalidInput}
}

func unknownRelease() error {
	return &license.StatusError{Status: domain.LicenseStatusInvalid, Message: MsgUnknownRelease, Err: ErrUnknownRelease}
}
