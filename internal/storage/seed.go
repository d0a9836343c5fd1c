package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// SeedLicense is one entry of a license seed file
type SeedLicense struct {
	LicenseKey     string `yaml:"license_key"`
	ProductSlug    string `yaml:"product_slug"`
	MaxActivations *int   `yaml:"max_activations"`
	Status         string `yaml:"status"`
	ExpiresAt      string `yaml:"expires_at"`
	CustomerEmail  string `yaml:"customer_email"`
	Source         string `yaml:"source"`
	Notes          string `yaml:"notes"`
}

// SeedFile is the top-level layout of a license seed file
type SeedFile struct {
	Licenses []SeedLicense `yaml:"licenses"`
}

// LoadSeedFile reads and parses a YAML seed file
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &f, nil
}

// Record converts a seed entry to a license record
func (s SeedLicense) Record() (*domain.LicenseRecord, error) {
	key := strings.TrimSpace(s.LicenseKey)
	product := strings.TrimSpace(s.ProductSlug)
	if key == "" || product == "" {
		return nil, fmt.Errorf("seed entry requires license_key and product_slug")
	}

	rec := &domain.LicenseRecord{
		LicenseKey:     key,
		ProductSlug:    product,
		MaxActivations: 1,
		Status:         domain.RecordStatusActive,
		CustomerEmail:  s.CustomerEmail,
		Source:         s.Source,
		Notes:          s.Notes,
	}
	if s.MaxActivations != nil {
		if *s.MaxActivations < 0 {
			return nil, fmt.Errorf("license %s: max_activations must not be negative", license.MaskKey(key))
		}
		rec.MaxActivations = *s.MaxActivations
	}

	switch domain.RecordStatus(strings.ToLower(s.Status)) {
	case "", domain.RecordStatusActive:
	case domain.RecordStatusDisabled:
		rec.Status = domain.RecordStatusDisabled
	default:
		return nil, fmt.Errorf("license %s: unknown status %q", license.MaskKey(key), s.Status)
	}

	if s.ExpiresAt != "" {
		t, err := parseSeedTime(s.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("license %s: %w", license.MaskKey(key), err)
		}
		rec.ExpiresAt = &t
	}
	return rec, nil
}

func parseSeedTime(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid expires_at %q", v)
}

// Seed upserts every license of a seed file into the store and returns the
// number of records written
func Seed(ctx context.Context, store Store, path string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}

	n := 0
	for i, entry := range f.Licenses {
		rec, err := entry.Record()
		if err != nil {
			return n, fmt.Errorf("seed entry %d: %w", i, err)
		}
		if err := store.UpsertLicense(ctx, rec); err != nil {
			return n, err
		}
		n++
	}

	logger.InfoContext(ctx, "license seed applied",
		slog.String("file", path),
		slog.Int("licenses", n),
	)
	return n, nil
}
