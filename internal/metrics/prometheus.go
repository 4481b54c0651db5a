// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fleetwatch/internal/database"
)

// Prometheus metrics
var (
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_check_duration_seconds",
			Help:    "Time spent executing monitor check cycles",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"monitor", "kind", "status"},
	)

	CheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_checks_total",
			Help: "Total number of check cycles executed",
		},
		[]string{"monitor", "kind", "status"},
	)

	MonitorStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_monitor_status",
			Help: "Current status of monitors (0=Online, 1=Degraded, 2=Offline, 3=Unknown)",
		},
		[]string{"monitor", "kind"},
	)

	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_active_monitors_total",
			Help: "Number of monitors being polled",
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_alerts_total",
			Help: "Alerts seen by the alert bus by outcome (delivered, duplicate, suppressed, dropped, failed)",
		},
		[]string{"outcome", "level"},
	)

	DashboardReconciles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_dashboard_reconciles_total",
			Help: "Dashboard reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)

	JournalAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_journal_alerts",
			Help: "Number of alerts held in the journal",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_database_operations_total",
			Help: "Total journal operations performed",
		},
		[]string{"operation", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

// Collector records engine events. The store is optional.
type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordCheckResult(monitor, kind, status string, duration time.Duration) {
	CheckDuration.WithLabelValues(monitor, kind, status).Observe(duration.Seconds())
	CheckTotal.WithLabelValues(monitor, kind, status).Inc()
}

func (c *Collector) UpdateMonitorStatus(monitor, kind, status string) {
	MonitorStatus.WithLabelValues(monitor, kind).Set(getStatusValue(status))
}

func (c *Collector) SetActiveMonitors(n int) {
	ActiveMonitors.Set(float64(n))
}

func (c *Collector) RecordAlert(outcome, level string) {
	AlertsTotal.WithLabelValues(outcome, level).Inc()
}

func (c *Collector) RecordDashboardReconcile(outcome string) {
	DashboardReconciles.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordDatabaseOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}

// UpdateSystemMetrics refreshes gauges derived from the journal.
func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	stats, err := c.store.Stats(ctx)
	c.RecordDatabaseOperation("stats", err)
	if err != nil {
		return err
	}
	JournalAlerts.Set(float64(stats.TotalAlerts))
	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

func getStatusValue(status string) float64 {
	switch status {
	case "online":
		return 0
	case "degraded":
		return 1
	case "offline":
		return 2
	default:
		return 3
	}
}
