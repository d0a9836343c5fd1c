package services

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"licensekit/internal/infrastructure"
	"licensekit/internal/license"
	"licensekit/internal/shared/testutil"
	"licensekit/internal/updater"
)

func newTestUpdateService(t *testing.T, guard KeyGuard) UpdateService {
	t.Helper()
	dir := t.TempDir()

	f, err := os.Create(filepath.Join(dir, "slotkit-pro-2.0.0.zip"))
	require.NoError(t, err)
	w := zip.NewWriter(f)
	entry, err := w.Create("slotkit-pro/slotkit.php")
	require.NoError(t, err)
	_, err = entry.Write([]byte("<?php"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	catalog, err := updater.NewCatalog(map[string]updater.Release{
		testutil.ProductSlug: {
			Name:          "SlotKit Pro",
			LatestVersion: "2.0.0",
			Changelog:     "Grace window support",
			Package:       "slotkit-pro-2.0.0.zip",
		},
	})
	require.NoError(t, err)

	controller := newTestController(t, testutil.ValidLicense(1), testutil.DisabledLicense())
	resolver := updater.NewResolver(controller, catalog, updater.NewFilePackageStore(dir), "https://licenses.example", nil)

	metrics, err := infrastructure.CreateLicenseMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return NewUpdateService(resolver, guard, metrics, nil)
}

func TestUpdateService_CheckUpdate(t *testing.T) {
	guard := new(MockKeyGuard)
	guard.On("IsBlocked", "10.0.0.5").Return(false)
	guard.On("Record", mock.Anything, "10.0.0.5", true).Return(true)

	svc := newTestUpdateService(t, guard)

	res, err := svc.CheckUpdate(context.Background(), "10.0.0.5", updater.UpdateCheckInput{
		LicenseKey:     testutil.ValidKey,
		ProductSlug:    testutil.ProductSlug,
		CurrentVersion: "1.4.2",
	})
	require.NoError(t, err)
	assert.True(t, res.UpdateAvailable)
	assert.Equal(t, "2.0.0", res.NewVersion)
	assert.Contains(t, res.PackageURL, updater.DownloadPath)

	guard.AssertExpectations(t)
}

func TestUpdateService_CheckUpdateDisabled(t *testing.T) {
	guard := new(MockKeyGuard)
	guard.On("IsBlocked", "10.0.0.5").Return(false)
	guard.On("Record", mock.Anything, "10.0.0.5", true).Return(true)

	svc := newTestUpdateService(t, guard)

	_, err := svc.CheckUpdate(context.Background(), "10.0.0.5", updater.UpdateCheckInput{
		LicenseKey:     testutil.DisabledKey,
		ProductSlug:    testutil.ProductSlug,
		CurrentVersion: "1.0.0",
	})
	assert.ErrorIs(t, err, license.ErrDisabled)
	guard.AssertExpectations(t)
}

func TestUpdateService_Download(t *testing.T) {
	svc := newTestUpdateService(t, nil)

	tests := []struct {
		name    string
		version string
		wantErr error
	}{
		{name: "latest", version: "2.0.0"},
		{name: "stale version", version: "1.0.0", wantErr: updater.ErrUnknownRelease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := svc.Download(context.Background(), "10.0.0.6", updater.DownloadInput{
				LicenseKey:  testutil.ValidKey,
				ProductSlug: testutil.ProductSlug,
				Version:     tt.version,
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer pkg.Content.Close()
			assert.Equal(t, "slotkit-pro-2.0.0.zip", pkg.Name)
			assert.Positive(t, pkg.Size)
		})
	}
}

func TestUpdateService_Info(t *testing.T) {
	svc := newTestUpdateService(t, nil)

	info, err := svc.Info(context.Background(), testutil.ProductSlug)
	require.NoError(t, err)
	assert.Equal(t, "SlotKit Pro", info.Name)
	assert.Equal(t, "2.0.0", info.LatestVersion)

	_, err = svc.Info(context.Background(), "nope")
	assert.ErrorIs(t, err, updater.ErrUnknownProduct)
}
