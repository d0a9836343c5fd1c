package http

import (
	"context"

	"github.com/stretchr/testify/mock"

	"licensekit/internal/license"
	"licensekit/internal/updater"
	"licensekit/pkg/contracts/domain"
)

// MockLicenseService implements services.LicenseService for testing
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) Activate(ctx context.Context, client string, in license.ActivateInput) (*license.Result, error) {
	args := m.Called(ctx, client, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.Result), args.Error(1)
}

func (m *MockLicenseService) Deactivate(ctx context.Context, client string, in license.DeactivateInput) (*license.Result, error) {
	args := m.Called(ctx, client, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.Result), args.Error(1)
}

func (m *MockLicenseService) Check(ctx context.Context, client string, in license.CheckInput) (*license.Result, error) {
	args := m.Called(ctx, client, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.Result), args.Error(1)
}

// MockUpdateService implements services.UpdateService for testing
type MockUpdateService struct {
	mock.Mock
}

func (m *MockUpdateService) CheckUpdate(ctx context.Context, client string, in updater.UpdateCheckInput) (*updater.UpdateCheckResult, error) {
	args := m.Called(ctx, client, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*updater.UpdateCheckResult), args.Error(1)
}

func (m *MockUpdateService) Download(ctx context.Context, client string, in updater.DownloadInput) (*updater.Package, error) {
	args := m.Called(ctx, client, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*updater.Package), args.Error(1)
}

func (m *MockUpdateService) Info(ctx context.Context, productSlug string) (*domain.ProductInfo, error) {
	args := m.Called(ctx, productSlug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProductInfo), args.Error(1)
}
