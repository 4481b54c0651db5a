// internal/monitoring/dashboard.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/notifications"
)

// SnapshotSource supplies point-in-time monitor state.
type SnapshotSource interface {
	StatusSnapshot() []MonitorSnapshot
}

// DashboardReconciler keeps a single dashboard message in sync with the
// monitors. The message handle survives restarts when a store is present.
type DashboardReconciler struct {
	notifier notifications.Notifier
	channel  string
	title    string
	period   time.Duration
	timeout  time.Duration
	source   SnapshotSource
	store    database.Store
	metrics  *metrics.Collector
	now      func() time.Time

	// mu serializes reconciliation passes.
	mu     sync.Mutex
	handle string
	loaded bool
}

func NewDashboardReconciler(cfg config.DashboardConfig, channel string, timeout time.Duration, notifier notifications.Notifier, source SnapshotSource, store database.Store, metricsCollector *metrics.Collector) *DashboardReconciler {
	period := cfg.Period
	if period <= 0 {
		period = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DashboardReconciler{
		notifier: notifier,
		channel:  channel,
		title:    cfg.Title,
		period:   period,
		timeout:  timeout,
		source:   source,
		store:    store,
		metrics:  metricsCollector,
		now:      time.Now,
	}
}

// Run reconciles once at start and then every period until ctx is done.
func (d *DashboardReconciler) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"channel": d.channel,
		"period":  d.period,
	}).Info("Starting dashboard reconciler")

	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		// Errors are logged inside; the next tick retries.
		_ = d.Reconcile(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Reconcile performs one pass: create the dashboard if there is none, then
// edit it with the current snapshot, recreating it if it was deleted.
func (d *DashboardReconciler) Reconcile(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !d.loaded {
		d.loadHandle(ctx)
	}

	if d.handle == "" {
		handle, err := d.send(ctx, renderPlaceholder(d.title, d.now()))
		if err != nil {
			d.metrics.RecordDashboardReconcile("error")
			logrus.WithError(err).Warn("Failed to create dashboard")
			return fmt.Errorf("failed to create dashboard: %w", err)
		}
		d.setHandle(ctx, handle)
		logrus.WithField("handle", handle).Info("Dashboard created")
	}

	msg := renderDashboard(d.title, d.source.StatusSnapshot(), d.now())

	editCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.notifier.Edit(editCtx, d.channel, d.handle, msg)
	cancel()

	switch {
	case err == nil:
		d.metrics.RecordDashboardReconcile("updated")
		return nil

	case errors.Is(err, notifications.ErrMessageNotFound):
		old := d.handle
		handle, sendErr := d.send(ctx, msg)
		if sendErr != nil {
			d.metrics.RecordDashboardReconcile("error")
			logrus.WithError(sendErr).Warn("Failed to recreate dashboard")
			return fmt.Errorf("failed to recreate dashboard: %w", sendErr)
		}
		d.setHandle(ctx, handle)
		d.metrics.RecordDashboardReconcile("recreated")
		logrus.WithFields(logrus.Fields{
			"old_handle": old,
			"new_handle": handle,
		}).Info("Dashboard was missing, recreated")
		return nil

	default:
		d.metrics.RecordDashboardReconcile("error")
		logrus.WithError(err).WithField("handle", d.handle).Warn("Failed to update dashboard")
		return fmt.Errorf("failed to update dashboard: %w", err)
	}
}

// Handle returns the current dashboard message handle.
func (d *DashboardReconciler) Handle() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

func (d *DashboardReconciler) send(ctx context.Context, msg notifications.Message) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.notifier.Send(sendCtx, d.channel, msg)
}

func (d *DashboardReconciler) loadHandle(ctx context.Context) {
	d.loaded = true
	if d.store == nil {
		return
	}

	handle, err := d.store.GetMeta(ctx, database.MetaDashboardHandle)
	d.metrics.RecordDatabaseOperation("get_meta", err)
	if err != nil {
		logrus.WithError(err).Warn("Failed to load dashboard handle")
		return
	}
	if handle != "" {
		d.handle = handle
		logrus.WithField("handle", handle).Info("Resuming existing dashboard")
	}
}

func (d *DashboardReconciler) setHandle(ctx context.Context, handle string) {
	d.handle = handle
	if d.store == nil {
		return
	}

	err := d.store.SetMeta(ctx, database.MetaDashboardHandle, handle)
	d.metrics.RecordDatabaseOperation("set_meta", err)
	if err != nil {
		logrus.WithError(err).Warn("Failed to persist dashboard handle")
	}
}
