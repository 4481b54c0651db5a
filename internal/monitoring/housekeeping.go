// internal/monitoring/housekeeping.go
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/metrics"
)

// Housekeeper runs periodic cleanup: dedup key eviction on the alert bus
// and retention purges of the journal.
type Housekeeper struct {
	cron      *cron.Cron
	bus       *AlertBus
	store     database.Store
	metrics   *metrics.Collector
	retention time.Duration
	now       func() time.Time
}

func NewHousekeeper(cfg *config.Config, bus *AlertBus, store database.Store, metricsCollector *metrics.Collector) (*Housekeeper, error) {
	h := &Housekeeper{
		cron:      cron.New(),
		bus:       bus,
		store:     store,
		metrics:   metricsCollector,
		retention: cfg.Database.Retention,
		now:       time.Now,
	}

	if _, err := h.cron.AddFunc(cfg.Alerting.HousekeepingSchedule, h.EvictDelivered); err != nil {
		return nil, fmt.Errorf("invalid alerting.housekeeping_schedule %q: %w", cfg.Alerting.HousekeepingSchedule, err)
	}

	if store != nil && h.retention > 0 {
		_, err := h.cron.AddFunc(cfg.Database.PurgeSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := h.PurgeJournal(ctx); err != nil {
				logrus.WithError(err).Error("Scheduled journal purge failed")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid database.purge_schedule %q: %w", cfg.Database.PurgeSchedule, err)
		}
	}

	return h, nil
}

func (h *Housekeeper) Start() {
	h.cron.Start()
	logrus.WithField("jobs", len(h.cron.Entries())).Info("Housekeeping scheduler started")
}

// Stop halts the scheduler and waits for running jobs.
func (h *Housekeeper) Stop() {
	ctx := h.cron.Stop()
	<-ctx.Done()
	logrus.Debug("Housekeeping scheduler stopped")
}

// EvictDelivered drops expired dedup keys from the alert bus.
func (h *Housekeeper) EvictDelivered() {
	removed := h.bus.Evict()
	logrus.WithFields(logrus.Fields{
		"evicted": removed,
		"tracked": h.bus.Tracked(),
	}).Debug("Evicted expired dedup keys")
}

// PurgeJournal removes journal entries older than the retention period.
func (h *Housekeeper) PurgeJournal(ctx context.Context) (int, error) {
	if h.store == nil {
		return 0, nil
	}

	deleted, err := h.store.PurgeAlertsBefore(ctx, h.now().Add(-h.retention))
	h.metrics.RecordDatabaseOperation("purge_alerts", err)
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
