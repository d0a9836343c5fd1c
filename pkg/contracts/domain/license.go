// Package domain contains the core domain models for the license authority and its clients.
// These types serve as the Single Source of Truth (SSOT) for all layers of the application.
package domain

import (
	"time"
)

// LicenseRecord is a license as owned by the entitlement store. The engine
// reads it but never changes its status, expiry or activation limit.
type LicenseRecord struct {
	ID             int64        `json:"id" db:"id"`
	LicenseKey     string       `json:"license_key" db:"license_key" validate:"required"`
	ProductSlug    string       `json:"product_slug" db:"product_slug" validate:"required"`
	MaxActivations int          `json:"max_activations" db:"max_activations" validate:"min=0"`
	Status         RecordStatus `json:"status" db:"status" validate:"required,oneof=active disabled"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty" db:"expires_at"`
	CustomerEmail  string       `json:"customer_email,omitempty" db:"customer_email" validate:"omitempty,email"`
	Source         string       `json:"source,omitempty" db:"source"`
	Notes          string       `json:"notes,omitempty" db:"notes"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// RecordStatus is the administrative status stored on a license
type RecordStatus string

const (
	RecordStatusActive   RecordStatus = "active"
	RecordStatusDisabled RecordStatus = "disabled"
)

// ActivationSlot binds one license to one normalized site
type ActivationSlot struct {
	ID          int64      `json:"id" db:"id"`
	LicenseID   int64      `json:"license_id" db:"license_id"`
	SiteURL     string     `json:"site_url" db:"site_url"`
	InstallURL  string     `json:"install_url,omitempty" db:"install_url"`
	IPAddress   string     `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent   string     `json:"user_agent,omitempty" db:"user_agent"`
	Status      SlotStatus `json:"status" db:"status"`
	ActivatedAt time.Time  `json:"activated_at" db:"activated_at"`
	LastCheckAt *time.Time `json:"last_check_at,omitempty" db:"last_check_at"`
}

// SlotStatus is the status of an activation slot
type SlotStatus string

const (
	SlotStatusActive      SlotStatus = "active"
	SlotStatusDeactivated SlotStatus = "deactivated"
)

// EffectiveStatus is the authority's judgment of a license at a point in time.
// It is derived on every request and never persisted.
type EffectiveStatus string

const (
	EffectiveNotFound EffectiveStatus = "not_found"
	EffectiveDisabled EffectiveStatus = "disabled"
	EffectiveExpired  EffectiveStatus = "expired"
	EffectiveValid    EffectiveStatus = "valid"
)

// LicenseStatus is the closed set of statuses reported on the wire
type LicenseStatus string

const (
	LicenseStatusValid                 LicenseStatus = "valid"
	LicenseStatusInvalid               LicenseStatus = "invalid"
	LicenseStatusNotFound              LicenseStatus = "not_found"
	LicenseStatusDisabled              LicenseStatus = "disabled"
	LicenseStatusExpired               LicenseStatus = "expired"
	LicenseStatusMaxActivationsReached LicenseStatus = "max_activations_reached"
)

// LicenseStatusOf converts an effective status to its wire form
func LicenseStatusOf(s EffectiveStatus) LicenseStatus {
	switch s {
	case EffectiveValid:
		return LicenseStatusValid
	case EffectiveNotFound:
		return LicenseStatusNotFound
	case EffectiveDisabled:
		return LicenseStatusDisabled
	case EffectiveExpired:
		return LicenseStatusExpired
	default:
		return LicenseStatusInvalid
	}
}

// ParseLicenseStatus maps a wire string to the closed enumeration.
// Unrecognized values are reported as invalid.
func ParseLicenseStatus(s string) LicenseStatus {
	switch st := LicenseStatus(s); st {
	case LicenseStatusValid, LicenseStatusInvalid, LicenseStatusNotFound,
		LicenseStatusDisabled, LicenseStatusExpired, LicenseStatusMaxActivationsReached:
		return st
	default:
		return LicenseStatusInvalid
	}
}

// UsageSnapshot is the "data" block returned by activate and check
type UsageSnapshot struct {
	ExpiresAt       *time.Time   `json:"expires_at"`
	MaxActivations  int          `json:"max_activations"`
	ActivationsUsed int          `json:"activations_used"`
	Status          RecordStatus `json:"status"`
}

// InstallMeta carries optional telemetry recorded with a new activation slot
type InstallMeta struct {
	InstallURL string `json:"wp_install_url,omitempty"`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
}
