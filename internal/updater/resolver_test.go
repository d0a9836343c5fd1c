package updater

import (
	"archive/zip"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// MockAuthorizer is a mock implementation of Authorizer
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Authorize(ctx context.Context, licenseKey, productSlug string) (*domain.LicenseRecord, error) {
	args := m.Called(ctx, licenseKey, productSlug)
	if rec := args.Get(0); rec != nil {
		return rec.(*domain.LicenseRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func newTestResolver(t *testing.T, auth Authorizer) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	writeZip(t, filepath.Join(dir, "acme-plugin-1.3.0.zip"), map[string]string{"acme-plugin/acme.php": "<?php"})

	catalog, err := NewCatalog(map[string]Release{
		"acme-plugin": {
			Name:          "Acme Plugin",
			LatestVersion: "1.3.0",
			Changelog:     "Faster checks",
			Package:       "acme-plugin-1.3.0.zip",
		},
		"ghost-plugin": {
			LatestVersion: "1.0.0",
			Package:       "ghost.zip",
		},
	})
	require.NoError(t, err)

	return NewResolver(auth, catalog, NewFilePackageStore(dir), "https://licenses.example/", nil), dir
}

var validRecord = &domain.LicenseRecord{ID: 1, LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", Status: domain.RecordStatusActive}

func TestResolver_CheckUpdate(t *testing.T) {
	tests := []struct {
		name        string
		input       UpdateCheckInput
		setupMock   func(*MockAuthorizer)
		wantErr     error
		wantStatus  domain.LicenseStatus
		checkResult func(*testing.T, *UpdateCheckResult)
	}{
		{
			name:  "newer release available",
			input: UpdateCheckInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", Site: "Example.com/", CurrentVersion: "1.2.0"},
			setupMock: func(m *MockAuthorizer) {
				m.On("Authorize", mock.Anything, "KEY-UPDATE-0001", "acme-plugin").Return(validRecord, nil)
			},
			checkResult: func(t *testing.T, res *UpdateCheckResult) {
				assert.True(t, res.UpdateAvailable)
				assert.Equal(t, "1.3.0", res.NewVersion)
				assert.Equal(t, "Faster checks", res.Changelog)

				u, err := url.Parse(res.PackageURL)
				require.NoError(t, err)
				assert.Equal(t, "licenses.example", u.Host)
				assert.Equal(t, DownloadPath, u.Path)
				q := u.Query()
				assert.Equal(t, "KEY-UPDATE-0001", q.Get("license_key"))
				assert.Equal(t, "acme-plugin", q.Get("plugin_slug"))
				assert.Equal(t, "https://example.com", q.Get("site_url"))
				assert.Equal(t, "1.3.0", q.Get("version"))
			},
		},
		{
			name:  "numeric comparison",
			input: UpdateCheckInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", CurrentVersion: "1.10.0"},
			setupMock: func(m *MockAuthorizer) {
				m.On("Authorize", mock.Anything, "KEY-UPDATE-0001", "acme-plugin").Return(validRecord, nil)
			},
			checkResult: func(t *testing.T, res *UpdateCheckResult) {
				assert.False(t, res.UpdateAvailable)
				assert.Empty(t, res.PackageURL)
			},
		},
		{
			name:  "up to date",
			input: UpdateCheckInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", CurrentVersion: "1.3.0"},
			setupMock: func(m *MockAuthorizer) {
				m.On("Authorize", mock.Anything, "KEY-UPDATE-0001", "acme-plugin").Return(validRecord, nil)
			},
			checkResult: func(t *testing.T, res *UpdateCheckResult) {
				assert.False(t, res.UpdateAvailable)
			},
		},
		{
			name:  "package url omits empty site",
			input: UpdateCheckInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", CurrentVersion: "1.0.0"},
			setupMock: func(m *MockAuthorizer) {
				m.On("Authorize", mock.Anything, "KEY-UPDATE-0001", "acme-plugin").Return(validRecord, nil)
			},
			checkResult: func(t *testing.T, res *UpdateCheckResult) {
				assert.NotContains(t, res.PackageURL, "site_url")
			},
		},
		{
			name:  "product without release",
			input: UpdateCheckInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "other-plugin", CurrentVersion: "1.0.0"},
			setupMock: func(m *MockAuthorizer) {
				m.On("Authorize", mock.Anything, "KEY-UPDATE-0001", "other-plugin").Return(validRecord, nil)
			},
			checkResult: func(t *testing.T, res *UpdateCheckResult) {
				assert.False(t, res.UpdateAvailable)
			},
		},
		{
			name:       "missing current version",
			input:      UpdateCheckInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin"},
			setupMock:  func(m *MockAuthorizer) {},
			wantErr:    license.ErrInvalidInput,
			wantStatus: domain.LicenseStatusInvalid,
		},
		{
			name:       "invalid site",
			input:      UpdateCheckInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", Site: "not a url", CurrentVersion: "1.0.0"},
			setupMock:  func(m *MockAuthorizer) {},
			wantErr:    license.ErrInvalidSite,
			wantStatus: domain.LicenseStatusInvalid,
		},
		{
			name:  "invalid current version",
			input: UpdateCheckInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", CurrentVersion: "latest"},
			setupMock: func(m *MockAuthorizer) {
				m.On("Authorize", mock.Anything, "KEY-UPDATE-0001", "acme-plugin").Return(validRecord, nil)
			},
			wantErr:    ErrInvalidVersion,
			wantStatus: domain.LicenseStatusInvalid,
		},
		{
			name:  "license not entitled",
			input: UpdateCheckInput{LicenseKey: "KEY-UPDATE-0002", ProductSlug: "acme-plugin", CurrentVersion: "1.0.0"},
			setupMock: func(m *MockAuthorizer) {
				m.On("Authorize", mock.Anything, "KEY-UPDATE-0002", "acme-plugin").
					Return(nil, &license.StatusError{Status: domain.LicenseStatusExpired, Message: license.MsgExpired, Err: license.ErrExpired})
			},
			wantErr:    license.ErrExpired,
			wantStatus: domain.LicenseStatusExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := new(MockAuthorizer)
			tt.setupMock(auth)
			r, _ := newTestResolver(t, auth)

			res, err := r.CheckUpdate(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				se, ok := license.AsStatusError(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantStatus, se.Status)
			} else {
				require.NoError(t, err)
				tt.checkResult(t, res)
			}
			auth.AssertExpectations(t)
		})
	}
}

func TestResolver_Download(t *testing.T) {
	auth := new(MockAuthorizer)
	auth.On("Authorize", mock.Anything, "KEY-UPDATE-0001", "acme-plugin").Return(validRecord, nil)
	auth.On("Authorize", mock.Anything, "KEY-UPDATE-0001", "ghost-plugin").Return(validRecord, nil)
	auth.On("Authorize", mock.Anything, "KEY-DISABLED-01", "acme-plugin").
		Return(nil, &license.StatusError{Status: domain.LicenseStatusDisabled, Message: license.MsgDisabled, Err: license.ErrDisabled})
	r, _ := newTestResolver(t, auth)
	ctx := context.Background()

	t.Run("latest version", func(t *testing.T) {
		pkg, err := r.Download(ctx, DownloadInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", Site: "example.com", Version: "1.3.0"})
		require.NoError(t, err)
		defer pkg.Content.Close()

		assert.Equal(t, "acme-plugin-1.3.0.zip", pkg.Name)
		assert.Positive(t, pkg.Size)
		data, err := io.ReadAll(pkg.Content)
		require.NoError(t, err)
		assert.Equal(t, "PK", string(data[:2]))
	})

	t.Run("stale version", func(t *testing.T) {
		_, err := r.Download(ctx, DownloadInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", Version: "1.2.0"})
		assert.ErrorIs(t, err, ErrUnknownRelease)
	})

	t.Run("equivalent but not identical version", func(t *testing.T) {
		_, err := r.Download(ctx, DownloadInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin", Version: "v1.3.0"})
		assert.ErrorIs(t, err, ErrUnknownRelease)
	})

	t.Run("disabled license", func(t *testing.T) {
		_, err := r.Download(ctx, DownloadInput{LicenseKey: "KEY-DISABLED-01", ProductSlug: "acme-plugin", Version: "1.3.0"})
		assert.ErrorIs(t, err, license.ErrDisabled)
	})

	t.Run("missing version", func(t *testing.T) {
		_, err := r.Download(ctx, DownloadInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "acme-plugin"})
		assert.ErrorIs(t, err, license.ErrInvalidInput)
	})

	t.Run("package file missing", func(t *testing.T) {
		_, err := r.Download(ctx, DownloadInput{LicenseKey: "KEY-UPDATE-0001", ProductSlug: "ghost-plugin", Version: "1.0.0"})
		require.ErrorIs(t, err, ErrPackageMissing)
		_, ok := license.AsStatusError(err)
		assert.False(t, ok, "a missing package is a server fault")
	})
}

func TestResolver_Info(t *testing.T) {
	r, _ := newTestResolver(t, new(MockAuthorizer))

	info, err := r.Info(context.Background(), "acme-plugin")
	require.NoError(t, err)
	assert.Equal(t, "Acme Plugin", info.Name)
	assert.Equal(t, "1.3.0", info.LatestVersion)

	_, err = r.Info(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownProduct)

	_, err = r.Info(context.Background(), "")
	assert.ErrorIs(t, err, license.ErrInvalidInput)
}

func TestFilePackageStore_RejectsTraversal(t *testing.T) {
	store := NewFilePackageStore(t.TempDir())
	for _, name := range []string{"", "..", "../secret.zip", "a/b.zip", `a\b.zip`} {
		_, err := store.Open(context.Background(), name)
		assert.ErrorIs(t, err, ErrPackageMissing, name)
	}
}

func TestVerifyArchive(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.zip")
	writeZip(t, good, map[string]string{"a.txt": "a"})
	assert.NoError(t, VerifyArchive(good))

	empty := filepath.Join(dir, "empty.zip")
	writeZip(t, empty, nil)
	assert.Error(t, VerifyArchive(empty))

	junk := filepath.Join(dir, "junk.zip")
	require.NoError(t, os.WriteFile(junk, []byte("not a zip"), 0600))
	assert.Error(t, VerifyArchive(junk))
}
