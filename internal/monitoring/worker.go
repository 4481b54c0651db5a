// internal/monitoring/worker.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/notifications"
	"fleetwatch/internal/probe"
)

// Worker polls one monitored service and owns its state. Only the worker
// writes the state; everyone else reads a Snapshot.
type Worker struct {
	cfg     config.MonitorConfig
	check   SemanticCheck
	prober  Prober
	sink    AlertSink
	metrics *metrics.Collector
	log     *logrus.Entry
	now     func() time.Time

	mu          sync.RWMutex
	status      Status
	message     string
	lastCheck   time.Time
	interval    int
	history     []database.Alert
	historySize int
}

// NewWorker creates a worker for one configured monitor.
func NewWorker(cfg config.MonitorConfig, check SemanticCheck, prober Prober, sink AlertSink, metricsCollector *metrics.Collector, historySize int) *Worker {
	if historySize < 1 {
		historySize = 100
	}
	return &Worker{
		cfg:         cfg,
		check:       check,
		prober:      prober,
		sink:        sink,
		metrics:     metricsCollector,
		log:         logrus.WithFields(logrus.Fields{"monitor": cfg.ID, "kind": cfg.Kind}),
		now:         time.Now,
		status:      StatusUnknown,
		message:     "Waiting for first check",
		interval:    cfg.Interval,
		historySize: historySize,
	}
}

func (w *Worker) ID() string { return w.cfg.ID }

func (w *Worker) Name() string { return w.cfg.Name }

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithField("interval", w.Interval()).Info("Starting monitor")

	for {
		w.RunCycle(ctx)

		timer := time.NewTimer(time.Duration(w.Interval()) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.Info("Monitor stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle performs one check and records its outcome. It never panics.
func (w *Worker) RunCycle(ctx context.Context) {
	start := w.now()
	result := w.evaluate(ctx)

	// A cycle interrupted by shutdown says nothing about the service.
	if ctx.Err() != nil {
		return
	}

	alerts := make([]database.Alert, 0, len(result.Alerts))
	for _, a := range result.Alerts {
		alerts = append(alerts, w.stamp(a, start))
	}

	w.mu.Lock()
	w.status = result.Status
	w.message = result.Message
	w.lastCheck = start
	for _, a := range alerts {
		w.appendHistory(a)
	}
	w.mu.Unlock()

	w.metrics.RecordCheckResult(w.cfg.ID, w.cfg.Kind, string(result.Status), w.now().Sub(start))
	w.metrics.UpdateMonitorStatus(w.cfg.ID, w.cfg.Kind, string(result.Status))

	w.log.WithFields(logrus.Fields{
		"status":  result.Status,
		"message": result.Message,
		"alerts":  len(alerts),
	}).Debug("Check completed")

	for _, a := range alerts {
		w.sink.Intake(a)
	}
}

func (w *Worker) evaluate(ctx context.Context) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = w.failure(fmt.Errorf("check panicked: %v", r))
		}
	}()

	// The same request, including check-specific headers, is used for the
	// reachability check and the fetch.
	req := w.check.Request(probe.Request{URL: w.cfg.URL, APIKey: w.cfg.APIKey})

	if ok, reason := w.prober.Reachable(ctx, req); !ok {
		msg := "service offline: " + reason
		return Result{
			Status:  StatusOffline,
			Message: msg,
			Alerts: []database.Alert{{
				Title:   "Service offline",
				Message: msg,
				Level:   database.LevelCritical,
				Details: map[string]string{"reason": reason, "url": w.cfg.URL},
			}},
		}
	}

	resp, err := w.prober.Fetch(ctx, req)
	if err != nil {
		return w.failure(err)
	}

	result, err = w.check.Inspect(resp)
	if err != nil {
		return w.failure(err)
	}
	if result.Status == "" {
		result.Status = StatusOnline
	}
	return result
}

// failure classifies an error from the fetch or inspect step.
func (w *Worker) failure(err error) Result {
	var apiFailure *probe.Failure
	if errors.As(err, &apiFailure) {
		msg := fmt.Sprintf("API request failed: %s", apiFailure.Error())
		w.log.WithError(err).Warn("Fetch failed")
		return Result{
			Status:  StatusDegraded,
			Message: msg,
			Alerts: []database.Alert{{
				Title:   "API request failed",
				Message: msg,
				Level:   database.LevelHigh,
				Details: map[string]string{
					"status_code": strconv.Itoa(apiFailure.StatusCode),
					"response":    apiFailure.Body,
				},
			}},
		}
	}

	w.log.WithError(err).Error("Check failed unexpectedly")
	return Result{
		Status:  StatusDegraded,
		Message: "check failed: " + err.Error(),
		Alerts: []database.Alert{{
			Title:   "Check failed",
			Message: "Unexpected error while checking service",
			Level:   database.LevelHigh,
			Details: map[string]string{"error": err.Error()},
		}},
	}
}

func (w *Worker) stamp(a database.Alert, ts time.Time) database.Alert {
	a.ID = uuid.New().String()
	a.MonitorID = w.cfg.ID
	a.Timestamp = ts

	details := make(map[string]string, len(a.Details))
	for k, v := range a.Details {
		details[k] = notifications.Truncate(v, notifications.MaxFieldValueLength)
	}
	a.Details = details
	return a
}

// appendHistory keeps the newest historySize alerts. Callers hold w.mu.
func (w *Worker) appendHistory(a database.Alert) {
	if len(w.history) < w.historySize {
		w.history = append(w.history, a)
		return
	}
	copy(w.history, w.history[1:])
	w.history[len(w.history)-1] = a
}

// Inject records an externally built alert and sends it down the normal
// delivery path.
func (w *Worker) Inject(a database.Alert) database.Alert {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = w.now()
	}
	a = w.stamp(a, ts)

	w.mu.Lock()
	w.appendHistory(a)
	w.mu.Unlock()

	w.sink.Intake(a)
	return a
}

// SetInterval changes the polling interval from the next sleep on.
func (w *Worker) SetInterval(seconds int) error {
	if seconds < config.MinInterval {
		return fmt.Errorf("%w: interval must be at least %d seconds, got %d", ErrValidation, config.MinInterval, seconds)
	}

	w.mu.Lock()
	old := w.interval
	w.interval = seconds
	w.mu.Unlock()

	w.log.WithFields(logrus.Fields{"old": old, "new": seconds}).Info("Polling interval updated")
	return nil
}

func (w *Worker) Interval() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.interval
}

func (w *Worker) Snapshot() MonitorSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return MonitorSnapshot{
		ID:         w.cfg.ID,
		Name:       w.cfg.Name,
		Kind:       w.cfg.Kind,
		Status:     w.status,
		Message:    w.message,
		LastCheck:  w.lastCheck,
		Interval:   w.interval,
		AlertCount: len(w.history),
	}
}

// History returns up to n alerts, newest first. n <= 0 returns all.
func (w *Worker) History(n int) []database.Alert {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if n <= 0 || n > len(w.history) {
		n = len(w.history)
	}
	out := make([]database.Alert, 0, n)
	for i := len(w.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, w.history[i])
	}
	return out
}
