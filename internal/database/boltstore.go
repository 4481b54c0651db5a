// internal/database/boltstore.go - BoltDB alert journal
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

var (
	AlertsBucket = []byte("alerts")
	MetaBucket   = []byte("meta")
)

// keyTimeFormat is fixed width so byte order of keys matches time order.
const keyTimeFormat = "2006-01-02T15:04:05.000000000Z"

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{AlertsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func alertKey(alert *Alert) []byte {
	return []byte(alert.Timestamp.UTC().Format(keyTimeFormat) + ":" + alert.ID)
}

func (s *BoltStore) SaveAlert(ctx context.Context, alert *Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(AlertsBucket).Put(alertKey(alert), data)
	})
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *BoltStore) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	var alerts []Alert

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(AlertsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(alerts) >= limit {
				break
			}

			var alert Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				continue // Skip malformed entries
			}
			alerts = append(alerts, alert)
		}
		return nil
	})

	return alerts, err
}

// PurgeAlertsBefore removes journal entries older than cutoff.
func (s *BoltStore) PurgeAlertsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deletedCount := 0
	cutoffKey := []byte(cutoff.UTC().Format(keyTimeFormat))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(AlertsBucket)
		c := b.Cursor()

		var keysToDelete [][]byte
		for k, _ := c.First(); k != nil && bytes.Compare(k, cutoffKey) < 0; k, _ = c.Next() {
			keysToDelete = append(keysToDelete, copyBytes(k))
		}

		for _, key := range keysToDelete {
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("failed to delete alert %s: %w", key, err)
			}
			deletedCount++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge alerts: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted_count": deletedCount,
		"cutoff_time":   cutoff,
	}).Info("Purged old journal entries")

	return deletedCount, nil
}

func (s *BoltStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(MetaBucket).Get([]byte(key)); v != nil {
			value = string(v)
		}
		return nil
	})
	return value, err
}

func (s *BoltStore) SetMeta(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(MetaBucket).Put([]byte(key), []byte(value))
	})
}

// Stats returns information about journal size and age.
func (s *BoltStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(AlertsBucket)
		stats.TotalAlerts = b.Stats().KeyN

		c := b.Cursor()
		if k, v := c.First(); k != nil {
			var alert Alert
			if err := json.Unmarshal(v, &alert); err == nil {
				stats.OldestAlert = alert.Timestamp
			}
		}
		if k, v := c.Last(); k != nil {
			var alert Alert
			if err := json.Unmarshal(v, &alert); err == nil {
				stats.NewestAlert = alert.Timestamp
			}
		}

		if v := tx.Bucket(MetaBucket).Get([]byte(MetaDashboardHandle)); v != nil {
			stats.DashboardHandle = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}

	return stats, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
