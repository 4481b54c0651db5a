// internal/monitoring/types.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetwatch/internal/database"
	"fleetwatch/internal/probe"
)

var (
	// ErrValidation marks rejected administrative input. State is unchanged.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownService is returned when a name matches no monitor.
	ErrUnknownService = errors.New("unknown service")
)

type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// Prober is the transport used by workers.
type Prober interface {
	Reachable(ctx context.Context, req probe.Request) (bool, string)
	Fetch(ctx context.Context, req probe.Request) (*probe.Response, error)
}

// AlertSink accepts alerts for delivery. Intake reports whether the alert
// was accepted rather than discarded as a duplicate.
type AlertSink interface {
	Intake(alert database.Alert) bool
}

// MonitorSnapshot is a point-in-time copy of one monitor's state.
type MonitorSnapshot struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Status     Status    `json:"status"`
	Message    string    `json:"message"`
	LastCheck  time.Time `json:"last_check"`
	Interval   int       `json:"interval"`
	AlertCount int       `json:"alert_count"`
}

type ServiceDetail struct {
	MonitorSnapshot
	RecentAlerts []database.Alert `json:"recent_alerts"`
}

// ParseLevel maps a user supplied level name to an alert level. An empty
// name means info.
func ParseLevel(name string) (database.AlertLevel, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return database.LevelInfo, nil
	}
	level := database.AlertLevel(name)
	if !level.Valid() {
		return "", fmt.Errorf("%w: unknown alert level %q (use critical, high, medium, low or info)", ErrValidation, name)
	}
	return level, nil
}
