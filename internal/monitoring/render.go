// internal/monitoring/render.go
package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fleetwatch/internal/database"
	"fleetwatch/internal/notifications"
)

var levelColors = map[database.AlertLevel]int{
	database.LevelCritical: 0xFF0000,
	database.LevelHigh:     0xFF6600,
	database.LevelMedium:   0xFFCC00,
	database.LevelLow:      0x3399FF,
	database.LevelInfo:     0x00CC66,
}

var levelEmoji = map[database.AlertLevel]string{
	database.LevelCritical: "🚨",
	database.LevelHigh:     "🔴",
	database.LevelMedium:   "⚠️",
	database.LevelLow:      "🔵",
	database.LevelInfo:     "ℹ️",
}

var statusEmoji = map[Status]string{
	StatusOnline:   "🟢",
	StatusDegraded: "🟡",
	StatusOffline:  "🔴",
	StatusUnknown:  "⚪",
}

func renderAlert(alert database.Alert) notifications.Message {
	keys := make([]string, 0, len(alert.Details))
	for k := range alert.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]notifications.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, notifications.Field{
			Name:   k,
			Value:  alert.Details[k],
			Inline: true,
		})
	}

	return notifications.Message{
		Title:       strings.TrimSpace(levelEmoji[alert.Level] + " " + alert.Title),
		Description: alert.Message,
		Color:       levelColors[alert.Level],
		Fields:      fields,
		Footer:      fmt.Sprintf("monitor: %s | level: %s", alert.MonitorID, alert.Level),
		Timestamp:   alert.Timestamp,
	}
}

func renderPlaceholder(title string, now time.Time) notifications.Message {
	return notifications.Message{
		Title:       title,
		Description: "Dashboard initializing, waiting for the first status checks...",
		Color:       0x808080,
		Footer:      "initializing",
		Timestamp:   now,
	}
}

func renderDashboard(title string, snapshots []MonitorSnapshot, now time.Time) notifications.Message {
	counts := make(map[Status]int)
	fields := make([]notifications.Field, 0, len(snapshots))

	for _, s := range snapshots {
		counts[s.Status]++

		lastCheck := "never"
		if !s.LastCheck.IsZero() {
			lastCheck = fmt.Sprintf("<t:%d:R>", s.LastCheck.Unix())
		}
		fields = append(fields, notifications.Field{
			Name: fmt.Sprintf("%s %s", statusEmoji[s.Status], s.Name),
			Value: fmt.Sprintf("**Status:** %s\n**Message:** %s\n**Last check:** %s",
				s.Status, s.Message, lastCheck),
		})
	}

	color := 0x00CC66
	switch {
	case counts[StatusOffline] > 0:
		color = 0xFF0000
	case counts[StatusDegraded] > 0:
		color = 0xFFCC00
	case counts[StatusUnknown] == len(snapshots):
		color = 0x808080
	}

	return notifications.Message{
		Title: title,
		Description: fmt.Sprintf("%d online, %d degraded, %d offline, %d unknown",
			counts[StatusOnline], counts[StatusDegraded], counts[StatusOffline], counts[StatusUnknown]),
		Color:     color,
		Fields:    fields,
		Footer:    "last updated",
		Timestamp: now,
	}
}
