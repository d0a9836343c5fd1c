package services

import (
	"context"
	"log/slog"
	"time"

	"licensekit/internal/infrastructure"
	"licensekit/internal/updater"
	"licensekit/pkg/contracts/domain"
)

// UpdateService answers update checks and serves packages
type UpdateService interface {
	CheckUpdate(ctx context.Context, client string, in updater.UpdateCheckInput) (*updater.UpdateCheckResult, error)
	Download(ctx context.Context, client string, in updater.DownloadInput) (*updater.Package, error)
	Info(ctx context.Context, productSlug string) (*domain.ProductInfo, error)
}

type updateService struct {
	resolver *updater.Resolver
	guard    KeyGuard
	metrics  *infrastructure.LicenseMetrics
	logger   *slog.Logger
}

// NewUpdateService creates the update service. guard and metrics may be nil.
func NewUpdateService(resolver *updater.Resolver, guard KeyGuard, metrics *infrastructure.LicenseMetrics, logger *slog.Logger) UpdateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &updateService{
		resolver: resolver,
		guard:    guard,
		metrics:  metrics,
		logger:   logger.With(slog.String("service", "update")),
	}
}

func (s *updateService) CheckUpdate(ctx context.Context, client string, in updater.UpdateCheckInput) (*updater.UpdateCheckResult, error) {
	if err := admit(ctx, s.guard, s.metrics, client, OpUpdateCheck); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.resolver.CheckUpdate(ctx, in)
	status := resolverOutcome(err)
	s.metrics.RecordLicenseOperation(ctx, OpUpdateCheck, status, time.Since(start))
	observe(ctx, s.guard, client, status)

	if err != nil {
		s.logFailure(ctx, OpUpdateCheck, status, err)
		return nil, err
	}
	s.metrics.RecordUpdateCheck(ctx, in.ProductSlug, res.UpdateAvailable)
	return res, nil
}

func (s *updateService) Download(ctx context.Context, client string, in updater.DownloadInput) (*updater.Package, error) {
	if err := admit(ctx, s.guard, s.metrics, client, OpUpdateDownload); err != nil {
		return nil, err
	}

	start := time.Now()
	pkg, err := s.resolver.Download(ctx, in)
	status := resolverOutcome(err)
	s.metrics.RecordLicenseOperation(ctx, OpUpdateDownload, status, time.Since(start))
	observe(ctx, s.guard, client, status)

	if err != nil {
		s.logFailure(ctx, OpUpdateDownload, status, err)
		return nil, err
	}
	s.metrics.RecordDownload(ctx, in.ProductSlug, in.Version, pkg.Size)
	return pkg, nil
}

func (s *updateService) Info(ctx context.Context, productSlug string) (*domain.ProductInfo, error) {
	return s.resolver.Info(ctx, productSlug)
}

func (s *updateService) logFailure(ctx context.Context, op, status string, err error) {
	if status != outcomeError {
		return
	}
	infrastructure.RecordError(ctx, err)
	s.logger.ErrorContext(ctx, "update operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// resolverOutcome is the license_status label of a resolver call. A
// successful resolver call always means the license was valid.
func resolverOutcome(err error) string {
	if err == nil {
		return string(domain.LicenseStatusValid)
	}
	return outcome(nil, err)
}
