package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"licensekit/pkg/contracts/domain"
)

// ActivateInput identifies the slot to activate
type ActivateInput struct {
	LicenseKey  string
	ProductSlug string
	Site        string
	Meta        domain.InstallMeta
}

// DeactivateInput identifies the slot to release
type DeactivateInput struct {
	LicenseKey  string
	ProductSlug string
	Site        string
}

// CheckInput identifies the license to check. Site is optional.
type CheckInput struct {
	LicenseKey  string
	ProductSlug string
	Site        string
}

// Result is the successful outcome of a controller operation
type Result struct {
	Status      domain.LicenseStatus
	Message     string
	Usage       *domain.UsageSnapshot
	Site        string
	Created     bool
	Reactivated bool
}

// Controller enforces the activation-slot invariant on top of a Store.
// It holds no state of its own; every mutation goes through the store.
type Controller struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = componentLogger(logger)
	}
}

// NewController creates a controller over the given store
func NewController(store Store, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		now:    time.Now,
		logger: componentLogger(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate binds a site to a license.
//
// An already active slot is refreshed without consuming capacity. A
// deactivated slot is restored without a capacity check. A new slot is
// inserted only if the store can atomically confirm the license is below its
// activation limit.
func (c *Controller) Activate(ctx context.Context, in ActivateInput) (*Result, error) {
	key, product := strings.TrimSpace(in.LicenseKey), strings.TrimSpace(in.ProductSlug)
	if key == "" || product == "" || strings.TrimSpace(in.Site) == "" {
		return nil, invalidInput(MsgMissingFields, ErrInvalidInput)
	}
	site, err := NormalizeSite(in.Site)
	if err != nil {
		return nil, invalidInput(MsgInvalidSite, err)
	}

	rec, err := c.Authorize(ctx, key, product)
	if err != nil {
		return nil, err
	}

	now := c.now()
	res := &Result{Status: domain.LicenseStatusValid, Message: MsgActivated, Site: site}

	slot, err := c.store.FindSlot(ctx, rec.ID, site)
	if err != nil {
		return nil, fmt.Errorf("find activation slot: %w", err)
	}

	if slot == nil {
		slot, err = c.insertSlot(ctx, rec, site, in.Meta, now)
		if err != nil {
			return nil, err
		}
		if slot == nil {
			res.Created = true
		}
	}

	if slot != nil {
		reactivated, err := c.restoreSlot(ctx, slot, now)
		if err != nil {
			return nil, err
		}
		res.Reactivated = reactivated
	}

	usage, err := c.snapshot(ctx, rec)
	if err != nil {
		return nil, err
	}
	res.Usage = usage

	c.logger.InfoContext(ctx, "license activated",
		keyAttr(key),
		slog.String("product", product),
		slog.String("site", site),
		slog.Bool("created", res.Created),
		slog.Bool("reactivated", res.Reactivated),
		slog.Int("activations_used", usage.ActivationsUsed),
		slog.Int("max_activations", usage.MaxActivations),
	)
	return res, nil
}

// insertSlot attempts the atomic count-and-insert. It returns the existing
// slot when a concurrent request created the same site first, or nil when the
// new slot was inserted.
func (c *Controller) insertSlot(ctx context.Context, rec *domain.LicenseRecord, site string, meta domain.InstallMeta, now time.Time) (*domain.ActivationSlot, error) {
	checked := now
	slot := &domain.ActivationSlot{
		LicenseID:   rec.ID,
		SiteURL:     site,
		InstallURL:  normalizeOptionalSite(meta.InstallURL),
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		Status:      domain.SlotStatusActive,
		ActivatedAt: now,
		LastCheckAt: &checked,
	}

	err := c.store.InsertSlotIfUnderLimit(ctx, slot, rec.MaxActivations)
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, ErrCapacityReached):
		c.logger.WarnContext(ctx, "activation rejected: limit reached",
			keyAttr(rec.LicenseKey),
			slog.String("site", site),
			slog.Int("max_activations", rec.MaxActivations),
		)
		return nil, capacityError()
	case errors.Is(err, ErrSlotExists):
		existing, findErr := c.store.FindSlot(ctx, rec.ID, site)
		if findErr != nil {
			return nil, fmt.Errorf("find activation slot after conflict: %w", findErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("activation slot for %s missing after conflict: %w", site, err)
		}
		c.logger.DebugContext(ctx, "concurrent activation of same site resolved to existing slot",
			keyAttr(rec.LicenseKey),
			slog.String("site", site),
		)
		return existing, nil
	default:
		return nil, fmt.Errorf("insert activation slot: %w", err)
	}
}

// restoreSlot refreshes an active slot or reactivates a deactivated one
func (c *Controller) restoreSlot(ctx context.Context, slot *domain.ActivationSlot, now time.Time) (bool, error) {
	if slot.Status == domain.SlotStatusActive {
		if err := c.store.TouchSlot(ctx, slot.ID, now); err != nil {
			return false, fmt.Errorf("touch activation slot: %w", err)
		}
		return false, nil
	}
	if err := c.store.SetSlotStatus(ctx, slot.ID, domain.SlotStatusActive, now); err != nil {
		return false, fmt.Errorf("reactivate activation slot: %w", err)
	}
	return true, nil
}

// Deactivate releases a site's slot. An unknown license or a missing slot is
// not an error.
func (c *Controller) Deactivate(ctx context.Context, in DeactivateInput) (*Result, error) {
	key, product := strings.TrimSpace(in.LicenseKey), strings.TrimSpace(in.ProductSlug)
	if key == "" || product == "" || strings.TrimSpace(in.Site) == "" {
		return nil, invalidInput(MsgMissingFields, ErrInvalidInput)
	}
	site, err := NormalizeSite(in.Site)
	if err != nil {
		return nil, invalidInput(MsgInvalidSite, err)
	}

	rec, err := c.store.FindLicense(ctx, key, product)
	if err != nil {
		return nil, fmt.Errorf("find license: %w", err)
	}
	if rec == nil {
		c.logger.InfoContext(ctx, "deactivation for unknown license ignored",
			keyAttr(key),
			slog.String("product", product),
		)
		return &Result{Status: domain.LicenseStatusNotFound, Message: MsgNoActivation, Site: site}, nil
	}

	slot, err := c.store.FindSlot(ctx, rec.ID, site)
	if err != nil {
		return nil, fmt.Errorf("find activation slot: %w", err)
	}
	if slot != nil {
		if err := c.store.SetSlotStatus(ctx, slot.ID, domain.SlotStatusDeactivated, c.now()); err != nil {
			return nil, fmt.Errorf("deactivate activation slot: %w", err)
		}
	}

	c.logger.InfoContext(ctx, "license deactivated",
		keyAttr(key),
		slog.String("product", product),
		slog.String("site", site),
		slog.Bool("slot_found", slot != nil),
	)

	return &Result{
		Status:  domain.LicenseStatusOf(Evaluate(rec, c.now())),
		Message: MsgDeactivated,
		Site:    site,
	}, nil
}

// Check re-evaluates a license. When a site is supplied its slot's last-check
// time is refreshed; a slot is never created here.
func (c *Controller) Check(ctx context.Context, in CheckInput) (*Result, error) {
	key, product := strings.TrimSpace(in.LicenseKey), strings.TrimSpace(in.ProductSlug)
	if key == "" || product == "" {
		return nil, invalidInput(MsgMissingFields, ErrInvalidInput)
	}

	var site string
	if strings.TrimSpace(in.Site) != "" {
		normalized, err := NormalizeSite(in.Site)
		if err != nil {
			return nil, invalidInput(MsgInvalidSite, err)
		}
		site = normalized
	}

	rec, err := c.Authorize(ctx, key, product)
	if err != nil {
		return nil, err
	}

	if site != "" {
		if err := c.store.TouchSite(ctx, rec.ID, site, c.now()); err != nil {
			return nil, fmt.Errorf("touch activation slot: %w", err)
		}
	}

	usage, err := c.snapshot(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Result{Status: domain.LicenseStatusValid, Message: MsgLicenseIsValid, Usage: usage, Site: site}, nil
}

// Authorize loads a license and fails with a StatusError unless it is valid
func (c *Controller) Authorize(ctx context.Context, licenseKey, productSlug string) (*domain.LicenseRecord, error) {
	key, product := strings.TrimSpace(licenseKey), strings.TrimSpace(productSlug)
	if key == "" || product == "" {
		return nil, invalidInput(MsgMissingFields, ErrInvalidInput)
	}

	rec, err := c.store.FindLicense(ctx, key, product)
	if err != nil {
		return nil, fmt.Errorf("find license: %w", err)
	}

	status := Evaluate(rec, c.now())
	if status != domain.EffectiveValid {
		c.logger.InfoContext(ctx, "license not entitled",
			keyAttr(key),
			slog.String("product", product),
			slog.String("effective_status", string(status)),
		)
		return nil, entitlementError(status)
	}
	return rec, nil
}

func (c *Controller) snapshot(ctx context.Context, rec *domain.LicenseRecord) (*domain.UsageSnapshot, error) {
	used, err := c.store.CountActiveSlots(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("count active slots: %w", err)
	}
	return &domain.UsageSnapshot{
		ExpiresAt:       rec.ExpiresAt,
		MaxActivations:  rec.MaxActivations,
		ActivationsUsed: used,
		Status:          rec.Status,
	}, nil
}
