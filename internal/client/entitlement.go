package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"licensekit/internal/config"
	"licensekit/internal/license"
	"licensekit/internal/updater"
	"licensekit/pkg/contracts/domain"
)

var (
	// ErrNoLicenseKey is returned by operations that need a configured license key
	ErrNoLicenseKey = errors.New("no license key configured")
	// ErrNotEntitled is returned when an operation requires a current entitlement
	ErrNotEntitled = errors.New("installation is not entitled")
)

// State is the position of an installation in the entitlement state machine
type State string

const (
	StateUnknown       State = "unknown"
	StateCachedValid   State = "cached_valid"
	StateCachedInvalid State = "cached_invalid"
	StateDegraded      State = "degraded"
	StateLapsed        State = "lapsed"
)

// Decision is the answer of Resolve
type Decision struct {
	Entitled bool   `json:"entitled"`
	State    State  `json:"state"`
	Status   string `json:"status"`
}

// Options tunes an Entitlement. Zero durations fall back to the defaults.
type Options struct {
	ProductSlug   string
	CacheTTL      time.Duration
	GraceWindow   time.Duration
	RemoteTimeout time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Entitlement decides whether this installation may use the product
type Entitlement struct {
	remote        Remote
	cache         CacheStore
	state         StateStore
	product       string
	ttl           time.Duration
	grace         time.Duration
	remoteTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
	group         singleflight.Group

	mu      sync.Mutex
	closers []func() error
}

// New creates an Entitlement from its collaborators
func New(remote Remote, cache CacheStore, state StateStore, opts Options) *Entitlement {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = config.DefaultCacheTTL
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = config.DefaultGraceWindow
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = config.DefaultRemoteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Entitlement{
		remote:        remote,
		cache:         cache,
		state:         state,
		product:       opts.ProductSlug,
		ttl:           opts.CacheTTL,
		grace:         opts.GraceWindow,
		remoteTimeout: opts.RemoteTimeout,
		now:           opts.Now,
		logger:        opts.Logger.With(slog.String("component", "entitlement")),
	}
}

// NewFromConfig wires an Entitlement from client configuration: an HTTP
// remote, the configured cache backend and a file state store
func NewFromConfig(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) (*Entitlement, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProductSlug == "" {
		return nil, errors.New("client product slug is required")
	}

	state, err := NewFileStateStore(cfg.StateFile, cfg.StateSecret, logger)
	if err != nil {
		return nil, err
	}

	var (
		cache  CacheStore
		closer func() error
	)
	switch cfg.CacheBackend {
	case "redis":
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rc := NewRedisCache(rdb)
		cache, closer = rc, rc.Close
	default:
		mc := NewMemoryCache(defaultCacheMaxSize)
		cache, closer = mc, func() error { mc.Stop(); return nil }
	}

	remote := NewHTTPRemote(cfg.AuthorityURL, IdentityFromConfig(cfg), cfg.RetryMax, logger)
	e := New(remote, cache, state, Options{
		ProductSlug:   cfg.ProductSlug,
		CacheTTL:      cfg.CacheTTL,
		GraceWindow:   cfg.GraceWindow,
		RemoteTimeout: cfg.RemoteTimeout,
		Logger:        logger,
	})
	e.closers = append(e.closers, closer)
	return e, nil
}

// Close releases the cache backend
func (e *Entitlement) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, c := range e.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Resolve decides whether the installation is entitled now. It never
// returns an error: authority failures fall back to the grace window.
func (e *Entitlement) Resolve(ctx context.Context) Decision {
	rec := e.loadState(ctx)
	if rec == nil || rec.LicenseKey == "" {
		return Decision{State: StateUnknown, Status: StatusUnknown}
	}

	cacheKey := CacheKey(rec.LicenseKey, e.product)
	if entry, ok := e.fresh(ctx, cacheKey); ok {
		return cachedDecision(entry.Status)
	}

	// shared with concurrent callers; only the remote timeout bounds it
	shareCtx := context.WithoutCancel(ctx)
	v, _, shared := e.group.Do(cacheKey, func() (interface{}, error) {
		return e.refresh(shareCtx, rec.LicenseKey), nil
	})
	if shared {
		e.logger.DebugContext(ctx, "entitlement check shared with concurrent caller")
	}
	return v.(Decision)
}

// IsEntitled reports Resolve(ctx).Entitled
func (e *Entitlement) IsEntitled(ctx context.Context) bool {
	return e.Resolve(ctx).Entitled
}

func (e *Entitlement) fresh(ctx context.Context, cacheKey string) (*CachedEntitlement, bool) {
	entry, ok, err := e.cache.Get(ctx, cacheKey)
	if err != nil {
		e.logger.WarnContext(ctx, "entitlement cache read failed", slog.String("error", err.Error()))
		return nil, false
	}
	if !ok || entry == nil {
		return nil, false
	}
	if e.now().Sub(entry.CheckedAt) >= e.ttl {
		return nil, false
	}
	return entry, true
}

func (e *Entitlement) refresh(ctx context.Context, key string) Decision {
	rctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()

	resp, err := e.remote.Check(rctx, key)
	now := e.now()

	rec := e.loadState(ctx)
	if rec == nil || rec.LicenseKey != key {
		rec = &PersistedState{LicenseKey: key, Status: StatusUnknown}
	}

	if err != nil {
		e.recordFailure(ctx, rec, err)
		d := e.graceDecision(rec, now)
		e.logger.WarnContext(ctx, "authority unreachable, using last known status",
			slog.String("license_key", license.MaskKey(key)),
			slog.String("state", string(d.State)),
			slog.Bool("entitled", d.Entitled),
			slog.String("error", err.Error()),
		)
		return d
	}

	e.recordResponse(ctx, rec, resp, now)
	e.logger.InfoContext(ctx, "entitlement refreshed",
		slog.String("license_key", license.MaskKey(key)),
		slog.String("status", string(resp.LicenseStatus)),
		slog.Int("status_code", resp.StatusCode),
	)
	return cachedDecision(string(resp.LicenseStatus))
}

// recordResponse stores an authoritative answer in the cache and the durable record
func (e *Entitlement) recordResponse(ctx context.Context, rec *PersistedState, resp *Response, now time.Time) {
	entry := CachedEntitlement{Status: string(resp.LicenseStatus), CheckedAt: now}
	if resp.Data != nil {
		entry.ExpiresAt = resp.Data.ExpiresAt
	}
	if err := e.cache.Set(ctx, CacheKey(rec.LicenseKey, e.product), entry, e.ttl); err != nil {
		e.logger.WarnContext(ctx, "entitlement cache write failed", slog.String("error", err.Error()))
	}

	rec.Status = string(resp.LicenseStatus)
	rec.LastCheck = now
	rec.LastStatusCode = resp.StatusCode
	rec.LastError = ""
	if !resp.Success {
		rec.LastError = resp.Message
	}
	e.saveState(ctx, rec)
}

// recordFailure notes a transport failure without touching status or last check
func (e *Entitlement) recordFailure(ctx context.Context, rec *PersistedState, err error) {
	rec.LastError = err.Error()
	rec.LastStatusCode = 0
	var te *TransportError
	if errors.As(err, &te) {
		rec.LastStatusCode = te.StatusCode
	}
	e.saveState(ctx, rec)
}

func (e *Entitlement) graceDecision(rec *PersistedState, now time.Time) Decision {
	if rec.LastCheck.IsZero() || rec.Status == StatusUnknown {
		return Decision{State: StateUnknown, Status: rec.Status}
	}
	if rec.Status == string(domain.LicenseStatusValid) && now.Sub(rec.LastCheck) <= e.grace {
		return Decision{Entitled: true, State: StateDegraded, Status: rec.Status}
	}
	return Decision{State: StateLapsed, Status: rec.Status}
}

func cachedDecision(status string) Decision {
	if status == string(domain.LicenseStatusValid) {
		return Decision{Entitled: true, State: StateCachedValid, Status: status}
	}
	return Decision{State: StateCachedInvalid, Status: status}
}

// SetLicenseKey replaces the configured key and forgets everything known
// about the previous one
func (e *Entitlement) SetLicenseKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)

	if prev := e.loadState(ctx); prev != nil && prev.LicenseKey != "" {
		e.dropCache(ctx, prev.LicenseKey)
	}
	if key != "" {
		e.dropCache(ctx, key)
	}

	if err := e.state.Save(ctx, &PersistedState{LicenseKey: key, Status: StatusUnknown}); err != nil {
		return fmt.Errorf("failed to save license key: %w", err)
	}
	e.logger.InfoContext(ctx, "license key updated", slog.String("license_key", license.MaskKey(key)))
	return nil
}

// Activate claims an activation slot for this site. Transport failures are
// recorded and returned; authoritative refusals are returned as a response
// with Success false.
func (e *Entitlement) Activate(ctx context.Context) (*Response, error) {
	rec, err := e.requireKey(ctx)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()

	resp, err := e.remote.Activate(rctx, rec.LicenseKey)
	if err != nil {
		e.recordFailure(ctx, rec, err)
		return nil, err
	}

	e.recordResponse(ctx, rec, resp, e.now())
	e.logger.InfoContext(ctx, "activation answered",
		slog.String("license_key", license.MaskKey(rec.LicenseKey)),
		slog.String("status", string(resp.LicenseStatus)),
		slog.Bool("success", resp.Success),
	)
	return resp, nil
}

// Deactivate releases this site's slot. The local record is marked
// deactivated even when the authority cannot be reached.
func (e *Entitlement) Deactivate(ctx context.Context) (*Response, error) {
	rec, err := e.requireKey(ctx)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()

	resp, rerr := e.remote.Deactivate(rctx, rec.LicenseKey)

	rec.Status = StatusDeactivated
	rec.LastCheck = e.now()
	switch {
	case rerr != nil:
		rec.LastError = rerr.Error()
		rec.LastStatusCode = 0
		var te *TransportError
		if errors.As(rerr, &te) {
			rec.LastStatusCode = te.StatusCode
		}
	default:
		rec.LastStatusCode = resp.StatusCode
		rec.LastError = ""
		if !resp.Success {
			rec.LastError = resp.Message
		}
	}
	e.dropCache(ctx, rec.LicenseKey)
	e.saveState(ctx, rec)

	e.logger.InfoContext(ctx, "license deactivated locally",
		slog.String("license_key", license.MaskKey(rec.LicenseKey)),
		slog.Bool("authority_confirmed", rerr == nil),
	)
	return resp, rerr
}

// CheckForUpdate asks the authority for a newer release. It runs only while
// the installation is entitled.
func (e *Entitlement) CheckForUpdate(ctx context.Context, currentVersion string) (*UpdateResponse, error) {
	if !e.IsEntitled(ctx) {
		return nil, ErrNotEntitled
	}
	rec, err := e.requireKey(ctx)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()
	return e.remote.CheckUpdate(rctx, rec.LicenseKey, currentVersion)
}

// DownloadPackage fetches a package into dest. The file is written next to
// dest and only renamed into place once it is a readable archive.
func (e *Entitlement) DownloadPackage(ctx context.Context, packageURL, dest string) (int64, error) {
	if !e.IsEntitled(ctx) {
		return 0, ErrNotEntitled
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create download directory %s: %w", dir, err)
	}
	out, err := os.CreateTemp(dir, ".download-*.zip")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := out.Name()
	defer os.Remove(tmpName)

	n, err := e.remote.Download(ctx, packageURL, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to download package: %w", err)
	}

	if err := updater.VerifyArchive(tmpName); err != nil {
		return 0, fmt.Errorf("downloaded package rejected: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, fmt.Errorf("failed to move package into place: %w", err)
	}

	e.logger.InfoContext(ctx, "package downloaded",
		slog.String("path", dest),
		slog.Int64("size", n),
	)
	return n, nil
}

// Status returns the durable record, or nil when none exists
func (e *Entitlement) Status(ctx context.Context) *PersistedState {
	return e.loadState(ctx)
}

func (e *Entitlement) requireKey(ctx context.Context) (*PersistedState, error) {
	rec := e.loadState(ctx)
	if rec == nil || rec.LicenseKey == "" {
		return nil, ErrNoLicenseKey
	}
	return rec, nil
}

func (e *Entitlement) loadState(ctx context.Context) *PersistedState {
	rec, err := e.state.Load(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to load entitlement state", slog.String("error", err.Error()))
		return nil
	}
	return rec
}

func (e *Entitlement) saveState(ctx context.Context, rec *PersistedState) {
	if err := e.state.Save(ctx, rec); err != nil {
		e.logger.ErrorContext(ctx, "failed to save entitlement state", slog.String("error", err.Error()))
	}
}

func (e *Entitlement) dropCache(ctx context.Context, key string) {
	if err := e.cache.Delete(ctx, CacheKey(key, e.product)); err != nil {
		e.logger.WarnContext(ctx, "entitlement cache delete failed", slog.String("error", err.Error()))
	}
}
