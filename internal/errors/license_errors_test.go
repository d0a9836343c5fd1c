package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit/internal/license"
	"licensekit/internal/updater"
	"licensekit/pkg/contracts/domain"
)

func TestMapLicenseError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantType    string
		wantLicStat domain.LicenseStatus
		wantMsg     string
	}{
		{
			name:        "missing fields",
			err:         &license.StatusError{Status: domain.LicenseStatusInvalid, Message: license.MsgMissingFields, Err: license.ErrInvalidInput},
			wantStatus:  http.StatusBadRequest,
			wantType:    TypeValidation,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     "Missing required fields",
		},
		{
			name:        "invalid site",
			err:         &license.StatusError{Status: domain.LicenseStatusInvalid, Message: license.MsgInvalidSite, Err: license.ErrInvalidSite},
			wantStatus:  http.StatusBadRequest,
			wantType:    TypeValidation,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     license.MsgInvalidSite,
		},
		{
			name:        "not found",
			err:         &license.StatusError{Status: domain.LicenseStatusNotFound, Message: license.MsgNotFound, Err: license.ErrNotFound},
			wantStatus:  http.StatusForbidden,
			wantType:    TypeLicenseNotFound,
			wantLicStat: domain.LicenseStatusNotFound,
			wantMsg:     license.MsgNotFound,
		},
		{
			name:        "disabled",
			err:         &license.StatusError{Status: domain.LicenseStatusDisabled, Message: license.MsgDisabled, Err: license.ErrDisabled},
			wantStatus:  http.StatusForbidden,
			wantType:    TypeLicenseDisabled,
			wantLicStat: domain.LicenseStatusDisabled,
			wantMsg:     license.MsgDisabled,
		},
		{
			name:        "expired wrapped",
			err:         fmt.Errorf("check: %w", &license.StatusError{Status: domain.LicenseStatusExpired, Message: license.MsgExpired, Err: license.ErrExpired}),
			wantStatus:  http.StatusForbidden,
			wantType:    TypeLicenseExpired,
			wantLicStat: domain.LicenseStatusExpired,
			wantMsg:     license.MsgExpired,
		},
		{
			name:        "capacity",
			err:         &license.StatusError{Status: domain.LicenseStatusMaxActivationsReached, Message: license.MsgLimitReached, Err: license.ErrCapacityReached},
			wantStatus:  http.StatusForbidden,
			wantType:    TypeActivationLimit,
			wantLicStat: domain.LicenseStatusMaxActivationsReached,
			wantMsg:     license.MsgLimitReached,
		},
		{
			name:        "unknown release",
			err:         &license.StatusError{Status: domain.LicenseStatusInvalid, Message: updater.MsgUnknownRelease, Err: updater.ErrUnknownRelease},
			wantStatus:  http.StatusNotFound,
			wantType:    TypeUnknownRelease,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     updater.MsgUnknownRelease,
		},
		{
			name:        "unknown product",
			err:         &license.StatusError{Status: domain.LicenseStatusInvalid, Message: updater.MsgUnknownProduct, Err: updater.ErrUnknownProduct},
			wantStatus:  http.StatusNotFound,
			wantType:    TypeUnknownProduct,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     updater.MsgUnknownProduct,
		},
		{
			name:        "invalid version",
			err:         &license.StatusError{Status: domain.LicenseStatusInvalid, Message: updater.MsgInvalidVersion, Err: updater.ErrInvalidVersion},
			wantStatus:  http.StatusBadRequest,
			wantType:    TypeValidation,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     updater.MsgInvalidVersion,
		},
		{
			name:        "api error",
			err:         NewValidationErrors([]ValidationError{{Field: "license_key", Message: "required"}}),
			wantStatus:  http.StatusBadRequest,
			wantType:    TypeValidation,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     "Missing required fields",
		},
		{
			name:        "payload too large",
			err:         ErrPayloadTooLarge,
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantType:    TypePayloadTooLarge,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     "Request body too large",
		},
		{
			name:        "guard block",
			err:         ErrTooManyFailures,
			wantStatus:  http.StatusTooManyRequests,
			wantType:    TypeRateLimit,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     MsgTooManyFailures,
		},
		{
			name:        "deadline",
			err:         fmt.Errorf("store: %w", context.DeadlineExceeded),
			wantStatus:  http.StatusGatewayTimeout,
			wantType:    TypeTimeout,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     MsgTimeout,
		},
		{
			name:        "store failure",
			err:         errors.New("database is locked"),
			wantStatus:  http.StatusInternalServerError,
			wantType:    TypeInternal,
			wantLicStat: domain.LicenseStatusInvalid,
			wantMsg:     MsgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := MapLicenseError(tt.err, "/license/check", "req-1")

			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, "/license/check", problem.Instance)
			assert.Equal(t, false, problem.Extensions["success"])
			assert.Equal(t, tt.wantLicStat, problem.Extensions["license_status"])
			assert.Equal(t, tt.wantMsg, problem.Extensions["message"])
			assert.Equal(t, "req-1", problem.Extensions["trace_id"])
		})
	}
}

func TestMapLicenseError_InternalDetailIsNotLeaked(t *testing.T) {
	problem := MapLicenseError(errors.New("dial tcp 10.0.0.5:5432: connection refused"), "/license/activate", "")

	body, err := json.Marshal(problem)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "10.0.0.5")
	assert.NotContains(t, string(body), "trace_id")
}
