package services

import (
	"context"
	"log/slog"
	"time"

	"licensekit/internal/infrastructure"
	"licensekit/pkg/contracts"
)

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthResponse is the body of the health endpoints
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
	System    map[string]interface{} `json:"system,omitempty"`
}

// CheckResult is the outcome of a single dependency check
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Pinger is anything that can report its own reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProductLister lists the products with a published release
type ProductLister interface {
	Products() []string
}

// HealthService reports the health of the authority's dependencies
type HealthService struct {
	store     Pinger
	catalog   ProductLister
	startTime time.Time
	timeout   time.Duration
	logger    *slog.Logger
}

// NewHealthService creates a health service. catalog may be nil.
func NewHealthService(store Pinger, catalog ProductLister, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		store:     store,
		catalog:   catalog,
		startTime: time.Now(),
		timeout:   2 * time.Second,
		logger:    logger.With(slog.String("service", "health")),
	}
}

// Check runs every dependency check. The store must answer for the service
// to be healthy; an empty catalog is reported but does not fail the check.
func (s *HealthService) Check(ctx context.Context) *HealthResponse {
	resp := &HealthResponse{
		Status:    StatusHealthy,
		Version:   contracts.Version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult, 2),
	}

	store := s.checkStore(ctx)
	resp.Checks["store"] = store
	if store.Status != StatusHealthy {
		resp.Status = StatusUnhealthy
	}

	if s.catalog != nil {
		products := s.catalog.Products()
		catalog := CheckResult{Status: StatusHealthy}
		if len(products) == 0 {
			catalog.Message = "no releases published"
		}
		resp.Checks["catalog"] = catalog
	}

	resp.System = infrastructure.CollectSystemStats(s.startTime).FormatStats()
	return resp
}

// Ready reports whether the store answers
func (s *HealthService) Ready(ctx context.Context) bool {
	return s.checkStore(ctx).Status == StatusHealthy
}

// Uptime returns how long the service has been running
func (s *HealthService) Uptime() time.Duration {
	return time.Since(s.startTime)
}

func (s *HealthService) checkStore(ctx context.Context) CheckResult {
	if s.store == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "store not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "store health check failed", slog.String("error", err.Error()))
		return CheckResult{Status: StatusUnhealthy, Message: "store unreachable", Latency: time.Since(start).String()}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
}
