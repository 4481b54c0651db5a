// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/notifications"
)

// Bounds for RecentAlerts.
const (
	DefaultAlertCount = 5
	MaxAlertCount     = 20
	detailAlertCount  = 3
)

// ErrJournalDisabled is returned by journal queries when no store is
// configured.
var ErrJournalDisabled = errors.New("alert journal disabled")

// Engine holds the monitor workers and wires them to the alert bus and the
// dashboard. The worker set is fixed after construction.
type Engine struct {
	config      *config.Config
	store       database.Store
	metrics     *metrics.Collector
	bus         *AlertBus
	dashboard   *DashboardReconciler
	housekeeper *Housekeeper
	workers     map[string]*Worker
	order       []string
	mu          sync.Mutex
	running     bool
}

// NewEngine creates the engine. store may be nil when the journal is
// disabled.
func NewEngine(cfg *config.Config, store database.Store, notifier notifications.Notifier, prober Prober, metricsCollector *metrics.Collector) (*Engine, error) {
	engine := &Engine{
		config:  cfg,
		store:   store,
		metrics: metricsCollector,
		workers: make(map[string]*Worker),
	}

	routes := make(map[string]string, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		if m.Channel != "" {
			routes[m.ID] = m.Channel
		}
	}
	engine.bus = NewAlertBus(cfg.Alerting, notifier, routes, cfg.Discord.Channels.Alerts, store, metricsCollector)

	for _, m := range cfg.Monitors {
		if _, exists := engine.workers[m.ID]; exists {
			return nil, fmt.Errorf("duplicate monitor ID: %s", m.ID)
		}
		check, err := NewCheck(m)
		if err != nil {
			return nil, fmt.Errorf("failed to create check for monitor %s: %w", m.ID, err)
		}
		engine.workers[m.ID] = NewWorker(m, check, prober, engine.bus, metricsCollector, cfg.Monitoring.HistorySize)
		engine.order = append(engine.order, m.ID)
	}

	engine.dashboard = NewDashboardReconciler(cfg.Dashboard, cfg.Discord.Channels.General,
		cfg.Alerting.DeliveryTimeout, notifier, engine, store, metricsCollector)

	housekeeper, err := NewHousekeeper(cfg, engine.bus, store, metricsCollector)
	if err != nil {
		return nil, err
	}
	engine.housekeeper = housekeeper

	metricsCollector.SetActiveMonitors(len(engine.workers))
	logrus.WithFields(logrus.Fields{
		"monitors":   len(engine.workers),
		"escalation": cfg.Discord.Channels.Alerts != "",
		"journal":    store != nil,
	}).Info("Monitoring engine initialized")

	return engine, nil
}

// Run starts the polling and notification task groups and blocks until ctx
// is cancelled and every loop has returned.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	logrus.Info("Starting monitoring engine")

	e.housekeeper.Start()
	defer e.housekeeper.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runPolling(gctx) })
	g.Go(func() error { return e.runNotifications(gctx) })

	err := g.Wait()
	logrus.Info("Monitoring engine stopped")
	return err
}

func (e *Engine) runPolling(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range e.order {
		worker := e.workers[id]
		g.Go(func() error { return worker.Run(gctx) })
	}
	return g.Wait()
}

func (e *Engine) runNotifications(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.bus.Run(gctx) })
	g.Go(func() error { return e.dashboard.Run(gctx) })
	return g.Wait()
}

// StatusSnapshot returns every monitor's state in configuration order.
func (e *Engine) StatusSnapshot() []MonitorSnapshot {
	snapshots := make([]MonitorSnapshot, 0, len(e.order))
	for _, id := range e.order {
		snapshots = append(snapshots, e.workers[id].Snapshot())
	}
	return snapshots
}

// RecentAlerts merges alert history across monitors, newest first. count is
// clamped to [1, MaxAlertCount].
func (e *Engine) RecentAlerts(count int) []database.Alert {
	if count < 1 {
		count = 1
	}
	if count > MaxAlertCount {
		count = MaxAlertCount
	}

	var merged []database.Alert
	for _, id := range e.order {
		merged = append(merged, e.workers[id].History(0)...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})

	if len(merged) > count {
		merged = merged[:count]
	}
	return merged
}

// Resolve finds a monitor by exact id, then by case-insensitive substring of
// its id, name or kind, in configuration order.
func (e *Engine) Resolve(name string) (*Worker, error) {
	if w, ok := e.workers[name]; ok {
		return w, nil
	}

	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, fmt.Errorf("%w: empty service name", ErrUnknownService)
	}

	for _, id := range e.order {
		w := e.workers[id]
		if strings.EqualFold(w.cfg.ID, needle) || strings.EqualFold(w.cfg.Name, needle) {
			return w, nil
		}
	}
	for _, id := range e.order {
		w := e.workers[id]
		if strings.Contains(strings.ToLower(w.cfg.ID), needle) ||
			strings.Contains(strings.ToLower(w.cfg.Name), needle) ||
			strings.Contains(w.cfg.Kind, needle) {
			return w, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownService, name)
}

// ServiceDetail returns one monitor's state and its latest alerts.
func (e *Engine) ServiceDetail(name string) (*ServiceDetail, error) {
	w, err := e.Resolve(name)
	if err != nil {
		return nil, err
	}
	return &ServiceDetail{
		MonitorSnapshot: w.Snapshot(),
		RecentAlerts:    w.History(detailAlertCount),
	}, nil
}

// ForceRefresh runs a dashboard pass immediately.
func (e *Engine) ForceRefresh(ctx context.Context) error {
	logrus.Info("Forced dashboard refresh")
	return e.dashboard.Reconcile(ctx)
}

func (e *Engine) SetInterval(name string, seconds int) (MonitorSnapshot, error) {
	w, err := e.Resolve(name)
	if err != nil {
		return MonitorSnapshot{}, err
	}
	if err := w.SetInterval(seconds); err != nil {
		return MonitorSnapshot{}, err
	}
	return w.Snapshot(), nil
}

// InjectTestAlert builds a synthetic alert for the resolved monitor and
// feeds it through the same dedup and routing path as check alerts.
func (e *Engine) InjectTestAlert(name, level, requestedBy string) (database.Alert, error) {
	alertLevel, err := ParseLevel(level)
	if err != nil {
		return database.Alert{}, err
	}
	w, err := e.Resolve(name)
	if err != nil {
		return database.Alert{}, err
	}
	if requestedBy == "" {
		requestedBy = "unknown"
	}

	now := w.now()
	alert := w.Inject(database.Alert{
		Title:   "Test alert",
		Message: fmt.Sprintf("Test %s alert for %s requested by %s", alertLevel, w.Name(), requestedBy),
		Level:   alertLevel,
		Details: map[string]string{
			"requested_by": requestedBy,
			"source":       "admin api",
			"time":         now.UTC().Format(time.RFC3339),
		},
		Timestamp: now,
	})

	logrus.WithFields(logrus.Fields{
		"monitor":      alert.MonitorID,
		"alert_level":  alert.Level,
		"requested_by": requestedBy,
	}).Info("Injected test alert")

	return alert, nil
}

// JournalStats reports journal statistics.
func (e *Engine) JournalStats(ctx context.Context) (*database.Stats, error) {
	if e.store == nil {
		return nil, ErrJournalDisabled
	}
	return e.store.Stats(ctx)
}

// JournalAlerts returns persisted alerts, newest first.
func (e *Engine) JournalAlerts(ctx context.Context, limit int) ([]database.Alert, error) {
	if e.store == nil {
		return nil, ErrJournalDisabled
	}
	return e.store.RecentAlerts(ctx, limit)
}

func (e *Engine) DashboardHandle() string {
	return e.dashboard.Handle()
}

// PurgeJournal applies the retention policy immediately.
func (e *Engine) PurgeJournal(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, ErrJournalDisabled
	}
	return e.housekeeper.PurgeJournal(ctx)
}

// NotificationState describes the delivery setup and the dedup set size.
type NotificationState struct {
	DryRun     bool              `json:"dry_run"`
	General    string            `json:"general_channel"`
	Escalation string            `json:"escalation_channel"`
	Routes     map[string]string `json:"routes"`
	Tracked    int               `json:"tracked_alerts"`
	Dashboard  string            `json:"dashboard_handle"`
}

func (e *Engine) NotificationState() NotificationState {
	routes := make(map[string]string, len(e.bus.routes))
	for id, channel := range e.bus.routes {
		routes[id] = channel
	}
	return NotificationState{
		DryRun:     e.config.Discord.DryRun,
		General:    e.config.Discord.Channels.General,
		Escalation: e.config.Discord.Channels.Alerts,
		Routes:     routes,
		Tracked:    e.bus.Tracked(),
		Dashboard:  e.dashboard.Handle(),
	}
}
