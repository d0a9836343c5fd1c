package license

import (
	"context"
	"time"

	"licensekit/pkg/contracts/domain"
)

// Store is the entitlement store consumed by the Controller.
//
// Lookups return (nil, nil) when the row does not exist. InsertSlotIfUnderLimit
// must count the active slots of the license and insert the new slot as one
// atomic unit with respect to concurrent callers on the same license: it
// returns ErrCapacityReached when the count is already at max, and
// ErrSlotExists when a slot for the same (license, site) pair is present.
type Store interface {
	FindLicense(ctx context.Context, licenseKey, productSlug string) (*domain.LicenseRecord, error)
	FindSlot(ctx context.Context, licenseID int64, site string) (*domain.ActivationSlot, error)
	CountActiveSlots(ctx context.Context, licenseID int64) (int, error)
	InsertSlotIfUnderLimit(ctx context.Context, slot *domain.ActivationSlot, max int) error
	SetSlotStatus(ctx context.Context, slotID int64, status domain.SlotStatus, at time.Time) error
	TouchSlot(ctx context.Context, slotID int64, at time.Time) error
	TouchSite(ctx context.Context, licenseID int64, site string, at time.Time) error
}
