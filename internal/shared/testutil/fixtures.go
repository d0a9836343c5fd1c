package testutil

import (
	"time"

	"licensekit/pkg/contracts/domain"
)

// Fixed instant used by clock-driven tests
var FixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Test license keys
const (
	ValidKey    = "SLOT-VALID-0000-0001"
	ExpiredKey  = "SLOT-EXPIR-0000-0002"
	DisabledKey = "SLOT-DISAB-0000-0003"
	UnknownKey  = "SLOT-UNKNO-0000-0004"
	ProductSlug = "slotkit-pro"
)

// ValidLicense returns an active license that expires 30 days after FixedNow
func ValidLicense(maxActivations int) *domain.LicenseRecord {
	exp := FixedNow.Add(30 * 24 * time.Hour)
	return &domain.LicenseRecord{
		LicenseKey:     ValidKey,
		ProductSlug:    ProductSlug,
		MaxActivations: maxActivations,
		Status:         domain.RecordStatusActive,
		ExpiresAt:      &exp,
		CustomerEmail:  "buyer@example.com",
		Source:         "test",
	}
}

// PerpetualLicense returns an active license without an expiry
func PerpetualLicense(key string, maxActivations int) *domain.LicenseRecord {
	return &domain.LicenseRecord{
		LicenseKey:     key,
		ProductSlug:    ProductSlug,
		MaxActivations: maxActivations,
		Status:         domain.RecordStatusActive,
	}
}

// ExpiredLicense returns an active license that expired ten days before FixedNow
func ExpiredLicense() *domain.LicenseRecord {
	exp := FixedNow.Add(-10 * 24 * time.Hour)
	return &domain.LicenseRecord{
		LicenseKey:     ExpiredKey,
		ProductSlug:    ProductSlug,
		MaxActivations: 1,
		Status:         domain.RecordStatusActive,
		ExpiresAt:      &exp,
	}
}

// DisabledLicense returns a disabled license
func DisabledLicense() *domain.LicenseRecord {
	return &domain.LicenseRecord{
		LicenseKey:     DisabledKey,
		ProductSlug:    ProductSlug,
		MaxActivations: 1,
		Status:         domain.RecordStatusDisabled,
	}
}
