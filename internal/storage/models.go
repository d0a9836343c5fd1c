package storage

import (
	"time"
	"unicode/utf8"

	"licensekit/pkg/contracts/domain"
)

// licenseModel is the gorm row for a license
type licenseModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	LicenseKey     string `gorm:"type:varchar(191);uniqueIndex;not null"`
	ProductSlug    string `gorm:"type:varchar(191);index;not null"`
	MaxActivations int    `gorm:"not null;default:1"`
	Status         string `gorm:"type:varchar(32);not null;default:active"`
	ExpiresAt      *time.Time
	CustomerEmail  string `gorm:"type:varchar(255)"`
	Source         string `gorm:"type:varchar(64)"`
	Notes          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (licenseModel) TableName() string { return "licenses" }

// Column sizes of slot metadata
const (
	maxInstallURLLen = 255
	maxIPLen         = 64
	maxUserAgentLen  = 512
)

// slotModel is the gorm row for an activation slot
type slotModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	LicenseID   int64     `gorm:"not null;uniqueIndex:idx_license_site,priority:1;index:idx_license_status,priority:1"`
	SiteURL     string    `gorm:"type:varchar(191);not null;uniqueIndex:idx_license_site,priority:2"`
	InstallURL  string    `gorm:"column:wp_install_url;type:varchar(255)"`
	IPAddress   string    `gorm:"type:varchar(64)"`
	UserAgent   string    `gorm:"type:varchar(512)"`
	Status      string    `gorm:"type:varchar(32);not null;default:active;index:idx_license_status,priority:2"`
	ActivatedAt time.Time `gorm:"not null"`
	LastCheckAt *time.Time
}

func (slotModel) TableName() string { return "license_activations" }

func (m *licenseModel) toDomain() *domain.LicenseRecord {
	return &domain.LicenseRecord{
		ID:             m.ID,
		LicenseKey:     m.LicenseKey,
		ProductSlug:    m.ProductSlug,
		MaxActivations: m.MaxActivations,
		Status:         domain.RecordStatus(m.Status),
		ExpiresAt:      utcPtr(m.ExpiresAt),
		CustomerEmail:  m.CustomerEmail,
		Source:         m.Source,
		Notes:          m.Notes,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func (m *slotModel) toDomain() *domain.ActivationSlot {
	return &domain.ActivationSlot{
		ID:          m.ID,
		LicenseID:   m.LicenseID,
		SiteURL:     m.SiteURL,
		InstallURL:  m.InstallURL,
		IPAddress:   m.IPAddress,
		UserAgent:   m.UserAgent,
		Status:      domain.SlotStatus(m.Status),
		ActivatedAt: m.ActivatedAt.UTC(),
		LastCheckAt: utcPtr(m.LastCheckAt),
	}
}

func newSlotModel(s *domain.ActivationSlot) *slotModel {
	return &slotModel{
		LicenseID:   s.LicenseID,
		SiteURL:     s.SiteURL,
		InstallURL:  truncate(s.InstallURL, maxInstallURLLen),
		IPAddress:   truncate(s.IPAddress, maxIPLen),
		UserAgent:   truncate(s.UserAgent, maxUserAgentLen),
		Status:      string(s.Status),
		ActivatedAt: s.ActivatedAt.UTC(),
		LastCheckAt: utcPtr(s.LastCheckAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
