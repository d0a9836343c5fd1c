package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "licensekit/internal/errors"
	"licensekit/internal/license"
	"licensekit/internal/shared/testutil"
	"licensekit/internal/storage"
	"licensekit/pkg/contracts/domain"
)

// MockKeyGuard is a mock implementation of KeyGuard
type MockKeyGuard struct {
	mock.Mock
}

func (m *MockKeyGuard) IsBlocked(client string) bool {
	return m.Called(client).Bool(0)
}

func (m *MockKeyGuard) Record(ctx context.Context, client string, found bool) bool {
	return m.Called(ctx, client, found).Bool(0)
}

// failingStore fails every license lookup
type failingStore struct {
	storage.Store
}

func (failingStore) FindLicense(context.Context, string, string) (*domain.LicenseRecord, error) {
	return nil, errors.New("database is locked")
}

func newTestController(t *testing.T, records ...*domain.LicenseRecord) *license.Controller {
	t.Helper()
	store := storage.NewMemoryStore()
	for _, rec := range records {
		require.NoError(t, store.UpsertLicense(context.Background(), rec))
	}
	return license.NewController(store, license.WithClock(func() time.Time { return testutil.FixedNow }))
}

func TestLicenseService_Activate(t *testing.T) {
	ctx := context.Background()
	guard := new(MockKeyGuard)
	guard.On("IsBlocked", "10.0.0.1").Return(false)
	guard.On("Record", mock.Anything, "10.0.0.1", true).Return(true)

	svc := NewLicenseService(newTestController(t, testutil.ValidLicense(2)), guard, nil, nil)

	res, err := svc.Activate(ctx, "10.0.0.1", license.ActivateInput{
		LicenseKey:  testutil.ValidKey,
		ProductSlug: testutil.ProductSlug,
		Site:        "https://Shop.Example.com/",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStatusValid, res.Status)
	assert.True(t, res.Created)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 1, res.Usage.ActivationsUsed)

	guard.AssertExpectations(t)
}

func TestLicenseService_GuardOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		call      func(LicenseService) error
		wantFound interface{}
	}{
		{
			name: "unknown key counts as a miss",
			call: func(s LicenseService) error {
				_, err := s.Check(context.Background(), "10.0.0.2", license.CheckInput{LicenseKey: testutil.UnknownKey, ProductSlug: testutil.ProductSlug})
				return err
			},
			wantFound: false,
		},
		{
			name: "expired key counts as found",
			call: func(s LicenseService) error {
				_, err := s.Check(context.Background(), "10.0.0.2", license.CheckInput{LicenseKey: testutil.ExpiredKey, ProductSlug: testutil.ProductSlug})
				return err
			},
			wantFound: true,
		},
		{
			name: "deactivating an unknown key counts as a miss",
			call: func(s LicenseService) error {
				_, err := s.Deactivate(context.Background(), "10.0.0.2", license.DeactivateInput{LicenseKey: testutil.UnknownKey, ProductSlug: testutil.ProductSlug, Site: "https://a.example"})
				return err
			},
			wantFound: false,
		},
		{
			name: "missing fields are not recorded",
			call: func(s LicenseService) error {
				_, err := s.Check(context.Background(), "10.0.0.2", license.CheckInput{ProductSlug: testutil.ProductSlug})
				return err
			},
			wantFound: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := new(MockKeyGuard)
			guard.On("IsBlocked", "10.0.0.2").Return(false)
			if tt.wantFound != nil {
				guard.On("Record", mock.Anything, "10.0.0.2", tt.wantFound).Return(true).Once()
			}

			svc := NewLicenseService(newTestController(t, testutil.ValidLicense(1), testutil.ExpiredLicense()), guard, nil, nil)
			_ = tt.call(svc)

			guard.AssertExpectations(t)
			if tt.wantFound == nil {
				guard.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestLicenseService_BlockedClient(t *testing.T) {
	guard := new(MockKeyGuard)
	guard.On("IsBlocked", "10.0.0.3").Return(true)

	svc := NewLicenseService(newTestController(t, testutil.ValidLicense(1)), guard, nil, nil)

	_, err := svc.Activate(context.Background(), "10.0.0.3", license.ActivateInput{
		LicenseKey:  testutil.ValidKey,
		ProductSlug: testutil.ProductSlug,
		Site:        "https://a.example",
	})
	assert.ErrorIs(t, err, apierrors.ErrTooManyFailures)
	guard.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything)
}

func TestLicenseService_StoreFailureIsNotRecorded(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	guard := new(MockKeyGuard)
	guard.On("IsBlocked", "10.0.0.4").Return(false)

	controller := license.NewController(failingStore{})
	svc := NewLicenseService(controller, guard, nil, logger)

	_, err := svc.Check(context.Background(), "10.0.0.4", license.CheckInput{LicenseKey: testutil.ValidKey, ProductSlug: testutil.ProductSlug})
	require.Error(t, err)
	_, isStatus := license.AsStatusError(err)
	assert.False(t, isStatus)

	guard.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything)
	testutil.AssertLogContains(t, logs, slog.LevelError, "license operation failed")
}

func TestLicenseService_NoGuard(t *testing.T) {
	svc := NewLicenseService(newTestController(t, testutil.ValidLicense(1)), nil, nil, nil)

	res, err := svc.Check(context.Background(), "", license.CheckInput{LicenseKey: testutil.ValidKey, ProductSlug: testutil.ProductSlug})
	require.NoError(t, err)
	assert.Equal(t, license.MsgLicenseIsValid, res.Message)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		res  *license.Result
		err  error
		want string
	}{
		{"result", &license.Result{Status: domain.LicenseStatusValid}, nil, "valid"},
		{"status error", nil, &license.StatusError{Status: domain.LicenseStatusExpired, Err: license.ErrExpired}, "expired"},
		{"plain error", nil, errors.New("boom"), outcomeError},
		{"nothing", nil, nil, outcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcome(tt.res, tt.err))
		})
	}
}
