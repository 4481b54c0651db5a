// internal/monitoring/alertbus.go
package monitoring

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/notifications"
)

// AlertBus deduplicates alerts and delivers each accepted one to its
// monitor's channel, plus the escalation channel for High and Critical.
// Delivery is at most once: failures are logged and never retried.
type AlertBus struct {
	notifier        notifications.Notifier
	routes          map[string]string
	escalation      string
	journal         database.Store
	metrics         *metrics.Collector
	repeatInterval  time.Duration
	retention       time.Duration
	deliveryTimeout time.Duration
	now             func() time.Time

	mu        sync.Mutex
	delivered map[string]time.Time
	lastSent  map[string]time.Time

	queue chan database.Alert
}

// NewAlertBus creates a bus. routes maps monitor id to channel; journal may
// be nil.
func NewAlertBus(cfg config.AlertingConfig, notifier notifications.Notifier, routes map[string]string, escalation string, journal database.Store, metricsCollector *metrics.Collector) *AlertBus {
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 256
	}
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &AlertBus{
		notifier:        notifier,
		routes:          routes,
		escalation:      escalation,
		journal:         journal,
		metrics:         metricsCollector,
		repeatInterval:  cfg.RepeatInterval,
		retention:       cfg.DedupRetention,
		deliveryTimeout: timeout,
		now:             time.Now,
		delivered:       make(map[string]time.Time),
		lastSent:        make(map[string]time.Time),
		queue:           make(chan database.Alert, queueSize),
	}
}

// Intake accepts an alert for delivery unless its dedup key was already
// seen or it repeats inside the repeat window. It never blocks.
func (b *AlertBus) Intake(alert database.Alert) bool {
	key := alert.DedupKey()
	repeatKey := strings.Join([]string{alert.MonitorID, alert.Title, string(alert.Level)}, "|")
	level := string(alert.Level)

	b.mu.Lock()
	if _, seen := b.delivered[key]; seen {
		b.mu.Unlock()
		b.metrics.RecordAlert("duplicate", level)
		return false
	}

	now := b.now()
	b.delivered[key] = now

	if b.repeatInterval > 0 {
		if last, ok := b.lastSent[repeatKey]; ok && now.Sub(last) < b.repeatInterval {
			b.mu.Unlock()
			b.metrics.RecordAlert("suppressed", level)
			logrus.WithFields(logrus.Fields{
				"monitor":     alert.MonitorID,
				"title":       alert.Title,
				"alert_level": level,
			}).Debug("Alert suppressed inside repeat interval")
			return false
		}
	}
	b.lastSent[repeatKey] = now
	b.mu.Unlock()

	logAlert(alert)

	select {
	case b.queue <- alert:
		return true
	default:
		b.metrics.RecordAlert("dropped", level)
		logrus.WithFields(logrus.Fields{
			"monitor": alert.MonitorID,
			"title":   alert.Title,
		}).Warn("Alert queue full, dropping alert")
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled. On shutdown the queue
// is drained for at most one delivery timeout; whatever is left after that
// is dropped.
func (b *AlertBus) Run(ctx context.Context) error {
	logrus.Info("Starting alert dispatcher")

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case alert := <-b.queue:
			b.deliver(ctx, alert)
		}
	}
}

func (b *AlertBus) drain() {
	if len(b.queue) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.deliveryTimeout)
	defer cancel()

	flushed := 0
	for ctx.Err() == nil {
		select {
		case alert := <-b.queue:
			b.deliver(ctx, alert)
			flushed++
		default:
			logrus.WithField("delivered", flushed).Info("Flushed alert queue on shutdown")
			return
		}
	}

	dropped := len(b.queue)
	for i := 0; i < dropped; i++ {
		alert := <-b.queue
		b.metrics.RecordAlert("dropped", string(alert.Level))
	}
	logrus.WithFields(logrus.Fields{
		"delivered": flushed,
		"dropped":   dropped,
	}).Warn("Dropping undelivered alerts on shutdown")
}

func (b *AlertBus) deliver(ctx context.Context, alert database.Alert) {
	channels := b.channelsFor(alert)
	level := string(alert.Level)

	if len(channels) == 0 {
		logrus.WithField("monitor", alert.MonitorID).Debug("No notification route for alert")
	}

	msg := renderAlert(alert)
	for _, channel := range channels {
		sendCtx, cancel := context.WithTimeout(ctx, b.deliveryTimeout)
		_, err := b.notifier.Send(sendCtx, channel, msg)
		cancel()

		if err != nil {
			b.metrics.RecordAlert("failed", level)
			logrus.WithError(err).WithFields(logrus.Fields{
				"monitor": alert.MonitorID,
				"channel": channel,
				"title":   alert.Title,
			}).Error("Failed to deliver alert")
			continue
		}
		b.metrics.RecordAlert("delivered", level)
	}

	if b.journal != nil {
		err := b.journal.SaveAlert(ctx, &alert)
		b.metrics.RecordDatabaseOperation("save_alert", err)
		if err != nil {
			logrus.WithError(err).Warn("Failed to journal alert")
		}
	}
}

// channelsFor returns the channels an alert is routed to.
func (b *AlertBus) channelsFor(alert database.Alert) []string {
	var channels []string
	if ch := b.routes[alert.MonitorID]; ch != "" {
		channels = append(channels, ch)
	}
	if alert.Level.Escalates() && b.escalation != "" && b.escalation != b.routes[alert.MonitorID] {
		channels = append(channels, b.escalation)
	}
	return channels
}

// Evict forgets dedup keys older than the retention period and repeat
// markers older than the repeat interval.
func (b *AlertBus) Evict() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0

	if b.retention > 0 {
		cutoff := now.Add(-b.retention)
		for key, at := range b.delivered {
			if at.Before(cutoff) {
				delete(b.delivered, key)
				removed++
			}
		}
	}

	cutoff := now.Add(-b.repeatInterval)
	for key, at := range b.lastSent {
		if !at.After(cutoff) {
			delete(b.lastSent, key)
		}
	}

	return removed
}

// Tracked returns the number of dedup keys currently held.
func (b *AlertBus) Tracked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.delivered)
}

func logAlert(alert database.Alert) {
	entry := logrus.WithFields(logrus.Fields{
		"monitor":     alert.MonitorID,
		"title":       alert.Title,
		"alert_level": alert.Level,
	})

	switch alert.Level {
	case database.LevelCritical:
		entry.WithField("critical", true).Error(alert.Message)
	case database.LevelHigh:
		entry.Error(alert.Message)
	case database.LevelMedium:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
}
