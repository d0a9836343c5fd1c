package license

import (
	"time"

	"licensekit/pkg/contracts/domain"
)

// Evaluate derives the effective status of a license at the given instant.
// Precedence is fixed: absent, then disabled, then expired, then valid.
// A disabled license that has also expired reports disabled.
func Evaluate(rec *domain.LicenseRecord, now time.Time) domain.EffectiveStatus {
	if rec == nil {
		return domain.EffectiveNotFound
	}
	if rec.Status == domain.RecordStatusDisabled {
		return domain.EffectiveDisabled
	}
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
		return domain.EffectiveExpired
	}
	return domain.EffectiveValid
}
