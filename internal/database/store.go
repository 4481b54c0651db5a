// internal/database/store.go
package database

import (
	"context"
	"time"
)

// Meta keys kept in the meta bucket.
const (
	MetaDashboardHandle = "dashboard_handle"
)

// Store is the alert journal. It is best-effort: callers log failures and
// carry on.
type Store interface {
	// Alert operations
	SaveAlert(ctx context.Context, alert *Alert) error
	RecentAlerts(ctx context.Context, limit int) ([]Alert, error)
	PurgeAlertsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Meta operations. GetMeta returns "" for a missing key.
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	Stats(ctx context.Context) (*Stats, error)

	// Close the database connection
	Close() error
}
