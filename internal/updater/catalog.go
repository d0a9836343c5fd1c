package updater

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"

	"licensekit/pkg/contracts/domain"
)

// Release is the published release of one product
type Release struct {
	Name          string `yaml:"name"`
	LatestVersion string `yaml:"latest_version"`
	Changelog     string `yaml:"changelog"`
	Package       string `yaml:"package"`
	Homepage      string `yaml:"homepage"`
	Requires      string `yaml:"requires"`
}

type catalogFile struct {
	Products map[string]Release `yaml:"products"`
}

// Catalog maps product slugs to their latest release. It is safe for
// concurrent use and can be replaced atomically with Reload.
type Catalog struct {
	mu       sync.RWMutex
	path     string
	releases map[string]Release
}

// NewCatalog builds a catalog from an in-memory release map
func NewCatalog(releases map[string]Release) (*Catalog, error) {
	if err := validateReleases(releases); err != nil {
		return nil, err
	}
	cp := make(map[string]Release, len(releases))
	for slug, r := range releases {
		cp[slug] = r
	}
	return &Catalog{releases: cp}, nil
}

// LoadCatalog reads a YAML release catalog. An empty path yields an empty
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: path, releases: map[string]Release{}}
	if path == "" {
		return c, nil
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file. On error the current releases are kept.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read release catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse release catalog %s: %w", c.path, err)
	}
	if f.Products == nil {
		f.Products = map[string]Release{}
	}
	if err := validateReleases(f.Products); err != nil {
		return fmt.Errorf("release catalog %s: %w", c.path, err)
	}

	c.mu.Lock()
	c.releases = f.Products
	c.mu.Unlock()
	return nil
}

func validateReleases(releases map[string]Release) error {
	for slug, r := range releases {
		if strings.TrimSpace(slug) == "" {
			return fmt.Errorf("product with empty slug")
		}
		if r.LatestVersion == "" {
			return fmt.Errorf("product %s: latest_version is required", slug)
		}
		if _, err := parseVersion(r.LatestVersion); err != nil {
			return fmt.Errorf("product %s: %w", slug, err)
		}
		if r.Package == "" {
			return fmt.Errorf("product %s: package is required", slug)
		}
	}
	return nil
}

// Lookup returns the release of a product
func (c *Catalog) Lookup(slug string) (Release, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.releases[slug]
	return r, ok
}

// Products returns the catalog's product slugs in sorted order
func (c *Catalog) Products() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	slugs := make([]string, 0, len(c.releases))
	for slug := range c.releases {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Info converts a release to its public description
func (r Release) Info(slug string) *domain.ProductInfo {
	name := r.Name
	if name == "" {
		name = slug
	}
	return &domain.ProductInfo{
		Slug:          slug,
		Name:          name,
		LatestVersion: r.LatestVersion,
		Changelog:     r.Changelog,
		Homepage:      r.Homepage,
		Requires:      r.Requires,
	}
}
