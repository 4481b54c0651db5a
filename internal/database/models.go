// internal/database/models.go
package database

import (
	"strings"
	"time"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	LevelCritical AlertLevel = "critical"
	LevelHigh     AlertLevel = "high"
	LevelMedium   AlertLevel = "medium"
	LevelLow      AlertLevel = "low"
	LevelInfo     AlertLevel = "info"
)

// Levels lists every alert level from most to least severe.
var Levels = []AlertLevel{LevelCritical, LevelHigh, LevelMedium, LevelLow, LevelInfo}

func (l AlertLevel) Valid() bool {
	for _, known := range Levels {
		if l == known {
			return true
		}
	}
	return false
}

// Escalates reports whether alerts of this level go to the escalation channel.
func (l AlertLevel) Escalates() bool {
	return l == LevelCritical || l == LevelHigh
}

// Alert is one notable event raised for a monitor. Alerts are not modified
// after creation.
type Alert struct {
	ID        string            `json:"id"`
	MonitorID string            `json:"monitor_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Level     AlertLevel        `json:"level"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// DedupKey identifies an alert for delivery purposes. Two alerts with the
// same monitor, title and timestamp share a key.
func (a *Alert) DedupKey() string {
	return strings.Join([]string{
		a.MonitorID,
		a.Title,
		a.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "|")
}

type Stats struct {
	TotalAlerts     int       `json:"total_alerts"`
	OldestAlert     time.Time `json:"oldest_alert"`
	NewestAlert     time.Time `json:"newest_alert"`
	DashboardHandle string    `json:"dashboard_handle,omitempty"`
	DatabaseSize    int64     `json:"database_size_bytes"`
}
