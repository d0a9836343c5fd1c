package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

type slotKey struct {
	licenseID int64
	site      string
}

// MemoryStore is an in-process entitlement store. A single mutex covers
// every operation, which makes the count-and-insert atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	licenses map[int64]*domain.LicenseRecord
	byKey    map[string]int64
	slots    map[int64]*domain.ActivationSlot
	bySite   map[slotKey]int64
	nextLic  int64
	nextSlot int64
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		licenses: make(map[int64]*domain.LicenseRecord),
		byKey:    make(map[string]int64),
		slots:    make(map[int64]*domain.ActivationSlot),
		bySite:   make(map[slotKey]int64),
		now:      time.Now,
	}
}

// FindLicense looks a license up by key and product
func (s *MemoryStore) FindLicense(_ context.Context, licenseKey, productSlug string) (*domain.LicenseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[licenseKey]
	if !ok {
		return nil, nil
	}
	rec := s.licenses[id]
	if rec.ProductSlug != productSlug {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// FindSlot returns the slot for a license and normalized site in any status
func (s *MemoryStore) FindSlot(_ context.Context, licenseID int64, site string) (*domain.ActivationSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySite[slotKey{licenseID, site}]
	if !ok {
		return nil, nil
	}
	cp := *s.slots[id]
	return &cp, nil
}

// CountActiveSlots counts slots in the active status
func (s *MemoryStore) CountActiveSlots(_ context.Context, licenseID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveLocked(licenseID), nil
}

func (s *MemoryStore) countActiveLocked(licenseID int64) int {
	n := 0
	for _, slot := range s.slots {
		if slot.LicenseID == licenseID && slot.Status == domain.SlotStatusActive {
			n++
		}
	}
	return n
}

// InsertSlotIfUnderLimit counts and inserts under the store mutex
func (s *MemoryStore) InsertSlotIfUnderLimit(_ context.Context, slot *domain.ActivationSlot, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.licenses[slot.LicenseID]; !ok {
		return fmt.Errorf("license %d: %w", slot.LicenseID, ErrLicenseMissing)
	}
	key := slotKey{slot.LicenseID, slot.SiteURL}
	if _, ok := s.bySite[key]; ok {
		return license.ErrSlotExists
	}
	if s.countActiveLocked(slot.LicenseID) >= max {
		return license.ErrCapacityReached
	}

	s.nextSlot++
	cp := *slot
	cp.ID = s.nextSlot
	cp.LastCheckAt = utcPtr(slot.LastCheckAt)
	s.slots[cp.ID] = &cp
	s.bySite[key] = cp.ID
	slot.ID = cp.ID
	return nil
}

// SetSlotStatus changes a slot's status and refreshes its last-check time
func (s *MemoryStore) SetSlotStatus(_ context.Context, slotID int64, status domain.SlotStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, ok := s.slots[slotID]; ok {
		slot.Status = status
		slot.LastCheckAt = utcPtr(&at)
	}
	return nil
}

// TouchSlot refreshes a slot's last-check time
func (s *MemoryStore) TouchSlot(_ context.Context, slotID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, ok := s.slots[slotID]; ok {
		slot.LastCheckAt = utcPtr(&at)
	}
	return nil
}

// TouchSite refreshes the last-check time of a site's slot if one exists
func (s *MemoryStore) TouchSite(_ context.Context, licenseID int64, site string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bySite[slotKey{licenseID, site}]; ok {
		s.slots[id].LastCheckAt = utcPtr(&at)
	}
	return nil
}

// UpsertLicense creates or updates a license keyed by license key
func (s *MemoryStore) UpsertLicense(_ context.Context, rec *domain.LicenseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cp := *rec
	cp.ExpiresAt = utcPtr(rec.ExpiresAt)
	cp.UpdatedAt = now

	if id, ok := s.byKey[rec.LicenseKey]; ok {
		cp.ID = id
		cp.CreatedAt = s.licenses[id].CreatedAt
	} else {
		s.nextLic++
		cp.ID = s.nextLic
		cp.CreatedAt = now
		s.byKey[rec.LicenseKey] = cp.ID
	}
	s.licenses[cp.ID] = &cp
	*rec = cp
	return nil
}

// ListSlots returns all slots of a license ordered by id
func (s *MemoryStore) ListSlots(_ context.Context, licenseID int64) ([]domain.ActivationSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ActivationSlot
	for _, slot := range s.slots {
		if slot.LicenseID == licenseID {
			out = append(out, *slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
