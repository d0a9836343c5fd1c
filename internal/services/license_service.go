package services

import (
	"context"
	"log/slog"
	"time"

	apierrors "licensekit/internal/errors"
	"licensekit/internal/infrastructure"
	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// Operation names used in logs and metrics
const (
	OpActivate       = "activate"
	OpDeactivate     = "deactivate"
	OpCheck          = "check"
	OpUpdateCheck    = "update_check"
	OpUpdateDownload = "update_download"
)

// LicenseService runs license operations on behalf of a client. client
// identifies the caller for the key guard, normally its IP address.
type LicenseService interface {
	Activate(ctx context.Context, client string, in license.ActivateInput) (*license.Result, error)
	Deactivate(ctx context.Context, client string, in license.DeactivateInput) (*license.Result, error)
	Check(ctx context.Context, client string, in license.CheckInput) (*license.Result, error)
}

// KeyGuard is the part of license.Guard used by services
type KeyGuard interface {
	IsBlocked(client string) bool
	Record(ctx context.Context, client string, found bool) bool
}

type licenseService struct {
	controller *license.Controller
	guard      KeyGuard
	metrics    *infrastructure.LicenseMetrics
	logger     *slog.Logger
}

// NewLicenseService creates the license service. guard and metrics may be nil.
func NewLicenseService(controller *license.Controller, guard KeyGuard, metrics *infrastructure.LicenseMetrics, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		controller: controller,
		guard:      guard,
		metrics:    metrics,
		logger:     logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) Activate(ctx context.Context, client string, in license.ActivateInput) (*license.Result, error) {
	if err := admit(ctx, s.guard, s.metrics, client, OpActivate); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.controller.Activate(ctx, in)
	s.finish(ctx, client, OpActivate, res, err, start)

	if err == nil && (res.Created || res.Reactivated) {
		s.metrics.RecordSlotCreated(ctx, in.ProductSlug, res.Reactivated)
	}
	return res, err
}

func (s *licenseService) Deactivate(ctx context.Context, client string, in license.DeactivateInput) (*license.Result, error) {
	if err := admit(ctx, s.guard, s.metrics, client, OpDeactivate); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.controller.Deactivate(ctx, in)
	s.finish(ctx, client, OpDeactivate, res, err, start)
	return res, err
}

func (s *licenseService) Check(ctx context.Context, client string, in license.CheckInput) (*license.Result, error) {
	if err := admit(ctx, s.guard, s.metrics, client, OpCheck); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.controller.Check(ctx, in)
	s.finish(ctx, client, OpCheck, res, err, start)
	return res, err
}

func (s *licenseService) finish(ctx context.Context, client, op string, res *license.Result, err error, start time.Time) {
	status := outcome(res, err)
	s.metrics.RecordLicenseOperation(ctx, op, status, time.Since(start))
	observe(ctx, s.guard, client, status)

	if err != nil && status == outcomeError {
		infrastructure.RecordError(ctx, err)
		s.logger.ErrorContext(ctx, "license operation failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
}

// outcomeError labels operations that failed without a license status
const outcomeError = "error"

// outcome is the license_status label of an operation result
func outcome(res *license.Result, err error) string {
	if err == nil {
		if res == nil {
			return outcomeError
		}
		return string(res.Status)
	}
	if se, ok := license.AsStatusError(err); ok {
		return string(se.Status)
	}
	return outcomeError
}

// admit refuses clients the guard has blocked
func admit(ctx context.Context, guard KeyGuard, metrics *infrastructure.LicenseMetrics, client, op string) error {
	if guard == nil || client == "" {
		return nil
	}
	if guard.IsBlocked(client) {
		metrics.RecordGuardBlock(ctx, op)
		return apierrors.ErrTooManyFailures
	}
	return nil
}

// observe reports a lookup to the guard. Only answers about the key itself
// count: input errors and storage failures are not recorded.
func observe(ctx context.Context, guard KeyGuard, client, status string) {
	if guard == nil || client == "" {
		return
	}
	switch domain.LicenseStatus(status) {
	case domain.LicenseStatusNotFound:
		guard.Record(ctx, client, false)
	case domain.LicenseStatusInvalid, outcomeError:
	default:
		guard.Record(ctx, client, true)
	}
}
