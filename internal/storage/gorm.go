package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// ErrLicenseMissing is returned when a slot is inserted for a license id that
// does not exist
var ErrLicenseMissing = errors.New("license row missing")

// GormStore is an entitlement store backed by a gorm database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open database handle and migrates the schema
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store requires database handle")
	}
	if err := db.AutoMigrate(&licenseModel{}, &slotModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GormStore{db: db}, nil
}

// FindLicense looks a license up by key and product
func (s *GormStore) FindLicense(ctx context.Context, licenseKey, productSlug string) (*domain.LicenseRecord, error) {
	var m licenseModel
	err := s.db.WithContext(ctx).
		Where("license_key = ? AND product_slug = ?", licenseKey, productSlug).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

// FindSlot returns the slot for a license and normalized site in any status
func (s *GormStore) FindSlot(ctx context.Context, licenseID int64, site string) (*domain.ActivationSlot, error) {
	m, err := findSlot(s.db.WithContext(ctx), licenseID, site)
	if err != nil || m == nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func findSlot(tx *gorm.DB, licenseID int64, site string) (*slotModel, error) {
	var m slotModel
	err := tx.Where("license_id = ? AND site_url = ?", licenseID, site).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountActiveSlots counts slots in the active status
func (s *GormStore) CountActiveSlots(ctx context.Context, licenseID int64) (int, error) {
	return countActive(s.db.WithContext(ctx), licenseID)
}

func countActive(tx *gorm.DB, licenseID int64) (int, error) {
	var n int64
	err := tx.Model(&slotModel{}).
		Where("license_id = ? AND status = ?", licenseID, string(domain.SlotStatusActive)).
		Count(&n).Error
	return int(n), err
}

// InsertSlotIfUnderLimit locks the license row, re-checks the slot, counts
// the active slots and inserts, all in one transaction. On sqlite the
// locking clause is ignored and the immediate transaction mode serializes
// writers instead.
func (s *GormStore) InsertSlotIfUnderLimit(ctx context.Context, slot *domain.ActivationSlot, max int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lic licenseModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", slot.LicenseID).
			Take(&lic).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("license %d: %w", slot.LicenseID, ErrLicenseMissing)
		}
		if err != nil {
			return err
		}

		existing, err := findSlot(tx, slot.LicenseID, slot.SiteURL)
		if err != nil {
			return err
		}
		if existing != nil {
			return license.ErrSlotExists
		}

		active, err := countActive(tx, slot.LicenseID)
		if err != nil {
			return err
		}
		if active >= max {
			return license.ErrCapacityReached
		}

		m := newSlotModel(slot)
		if err := tx.Create(m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return license.ErrSlotExists
			}
			return err
		}
		slot.ID = m.ID
		return nil
	})
}

// SetSlotStatus changes a slot's status and refreshes its last-check time
func (s *GormStore) SetSlotStatus(ctx context.Context, slotID int64, status domain.SlotStatus, at time.Time) error {
	return s.db.WithContext(ctx).Model(&slotModel{}).
		Where("id = ?", slotID).
		Updates(map[string]interface{}{
			"status":        string(status),
			"last_check_at": at.UTC(),
		}).Error
}

// TouchSlot refreshes a slot's last-check time
func (s *GormStore) TouchSlot(ctx context.Context, slotID int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&slotModel{}).
		Where("id = ?", slotID).
		Update("last_check_at", at.UTC()).Error
}

// TouchSite refreshes the last-check time of a site's slot if one exists
func (s *GormStore) TouchSite(ctx context.Context, licenseID int64, site string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&slotModel{}).
		Where("license_id = ? AND site_url = ?", licenseID, site).
		Update("last_check_at", at.UTC()).Error
}

// UpsertLicense creates or updates a license keyed by license key. The
// record's ID is set on return.
func (s *GormStore) UpsertLicense(ctx context.Context, rec *domain.LicenseRecord) error {
	m := licenseModel{
		LicenseKey:     rec.LicenseKey,
		ProductSlug:    rec.ProductSlug,
		MaxActivations: rec.MaxActivations,
		Status:         string(rec.Status),
		ExpiresAt:      utcPtr(rec.ExpiresAt),
		CustomerEmail:  rec.CustomerEmail,
		Source:         rec.Source,
		Notes:          rec.Notes,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "license_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"product_slug", "max_activations", "status", "expires_at",
			"customer_email", "source", "notes", "updated_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upsert license: %w", err)
	}

	// On conflict some drivers do not return the existing primary key.
	var stored licenseModel
	if err := s.db.WithContext(ctx).Where("license_key = ?", rec.LicenseKey).Take(&stored).Error; err != nil {
		return fmt.Errorf("reload license: %w", err)
	}
	*rec = *stored.toDomain()
	return nil
}

// ListSlots returns all slots of a license ordered by id
func (s *GormStore) ListSlots(ctx context.Context, licenseID int64) ([]domain.ActivationSlot, error) {
	var rows []slotModel
	if err := s.db.WithContext(ctx).Where("license_id = ?", licenseID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	slots := make([]domain.ActivationSlot, 0, len(rows))
	for i := range rows {
		slots = append(slots, *rows[i].toDomain())
	}
	return slots, nil
}

// Ping checks database connectivity
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
