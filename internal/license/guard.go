package license

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// GuardConfig configures the key-guessing guard
type GuardConfig struct {
	MaxFailures     int
	Window          time.Duration
	BlockDuration   time.Duration
	CleanupInterval time.Duration
}

// Guard blocks clients that repeatedly present unknown license keys.
// Only not_found answers count as failures; a successful lookup clears
// the client's history.
type Guard struct {
	mu            sync.RWMutex
	failures      map[string]int
	lastFailure   map[string]time.Time
	blocked       map[string]time.Time
	maxFailures   int
	window        time.Duration
	blockDuration time.Duration
	cleanupEvery  time.Duration
	now           func() time.Time
	logger        *slog.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewGuard creates a guard and starts its cleanup loop. Call Stop to end it.
func NewGuard(cfg GuardConfig, logger *slog.Logger) *Guard {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 15 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	g := &Guard{
		failures:      make(map[string]int),
		lastFailure:   make(map[string]time.Time),
		blocked:       make(map[string]time.Time),
		maxFailures:   cfg.MaxFailures,
		window:        cfg.Window,
		blockDuration: cfg.BlockDuration,
		cleanupEvery:  cfg.CleanupInterval,
		now:           time.Now,
		logger:        componentLogger(logger),
		stopChan:      make(chan struct{}),
	}

	go g.cleanup()

	return g
}

// IsBlocked reports whether a client is currently blocked
func (g *Guard) IsBlocked(client string) bool {
	g.mu.RLock()
	blockedAt, exists := g.blocked[client]
	g.mu.RUnlock()

	if !exists {
		return false
	}
	if g.now().Sub(blockedAt) < g.blockDuration {
		return true
	}

	g.mu.Lock()
	delete(g.blocked, client)
	g.mu.Unlock()
	return false
}

// Record registers the outcome of a lookup for a client. It returns false
// when this failure caused the client to be blocked.
func (g *Guard) Record(ctx context.Context, client string, found bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if found {
		delete(g.failures, client)
		delete(g.lastFailure, client)
		return true
	}

	if last, exists := g.lastFailure[client]; exists && now.Sub(last) <= g.window {
		g.failures[client]++
	} else {
		g.failures[client] = 1
	}
	g.lastFailure[client] = now

	if g.failures[client] >= g.maxFailures {
		g.blocked[client] = now
		g.logger.WarnContext(ctx, "client blocked after repeated unknown license keys",
			slog.String("action", "security_violation"),
			slog.String("client", client),
			slog.Int("failure_count", g.failures[client]),
			slog.Int("max_failures", g.maxFailures),
		)
		delete(g.failures, client)
		delete(g.lastFailure, client)
		return false
	}
	return true
}

// Stats returns guard statistics
func (g *Guard) Stats() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return map[string]interface{}{
		"tracked_clients": len(g.failures),
		"blocked_clients": len(g.blocked),
		"max_failures":    g.maxFailures,
		"block_duration":  g.blockDuration.String(),
		"window":          g.window.String(),
	}
}

// Stop ends the cleanup loop
func (g *Guard) Stop() {
	g.stopOnce.Do(func() { close(g.stopChan) })
}

func (g *Guard) cleanup() {
	ticker := time.NewTicker(g.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.prune()
		case <-g.stopChan:
			return
		}
	}
}

func (g *Guard) prune() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for client, last := range g.lastFailure {
		if now.Sub(last) > g.window {
			delete(g.failures, client)
			delete(g.lastFailure, client)
		}
	}
	for client, at := range g.blocked {
		if now.Sub(at) >= g.blockDuration {
			delete(g.blocked, client)
		}
	}
}
