package client

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// UpdateFunc is called when a newer release is available. Returning true
// stops the watcher.
type UpdateFunc func(ctx context.Context, update *UpdateResponse) bool

// UpdateWatcher runs periodic update checks for an entitled installation
type UpdateWatcher struct {
	entitlement    *Entitlement
	currentVersion string
	interval       time.Duration
	callback       UpdateFunc
	logger         *slog.Logger
}

// NewUpdateWatcher creates a watcher that checks every interval
func NewUpdateWatcher(e *Entitlement, currentVersion string, interval time.Duration, callback UpdateFunc, logger *slog.Logger) *UpdateWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateWatcher{
		entitlement:    e,
		currentVersion: currentVersion,
		interval:       interval,
		callback:       callback,
		logger:         logger.With(slog.String("component", "update_watcher")),
	}
}

// Run checks immediately and then on every tick until ctx is done or the
// callback accepts an update
func (w *UpdateWatcher) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return errors.New("update watcher interval must be positive")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if w.checkOnce(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *UpdateWatcher) checkOnce(ctx context.Context) bool {
	update, err := w.entitlement.CheckForUpdate(ctx, w.currentVersion)
	if err != nil {
		w.logger.WarnContext(ctx, "update check skipped", slog.String("error", err.Error()))
		return false
	}
	if !update.Success || !update.UpdateAvailable {
		w.logger.DebugContext(ctx, "no update available",
			slog.String("current_version", w.currentVersion),
			slog.String("license_status", string(update.LicenseStatus)),
		)
		return false
	}

	w.logger.InfoContext(ctx, "update available",
		slog.String("current_version", w.currentVersion),
		slog.String("new_version", update.NewVersion),
	)
	return w.callback != nil && w.callback(ctx, update)
}
