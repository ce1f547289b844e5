// Package bolt provides an embedded bbolt-backed weekly cache store.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/JakeFAU/adsnap/internal/ads"
)

var weeksBucket = []byte("competitor_ads_cache")

// Config controls the bbolt database file.
type Config struct {
	Path string `mapstructure:"path"`
}

// CacheStore keeps one JSON-encoded WeeklyRecord per week key in a single bucket.
// Week keys sort chronologically, so the bucket cursor yields newest weeks last.
type CacheStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewCacheStore opens (or creates) the bbolt file at cfg.Path.
func NewCacheStore(cfg Config) (*CacheStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cache.bolt.path is required")
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(weeksBucket)
		return createErr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &CacheStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the database file lock.
func (s *CacheStore) Close() error {
	return s.db.Close()
}

// Get loads the record for weekKey.
func (s *CacheStore) Get(_ context.Context, weekKey string) (ads.WeeklyRecord, error) {
	var rec ads.WeeklyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(weeksBucket).Get([]byte(weekKey))
		if data == nil {
			return ads.ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return ads.WeeklyRecord{}, err
	}
	return rec, nil
}

// Put inserts the record if absent.
func (s *CacheStore) Put(_ context.Context, weekKey string, data ads.Response) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(weeksBucket)
		if b.Get([]byte(weekKey)) != nil {
			return ads.ErrAlreadyExists
		}
		now := s.now()
		return putRecord(b, ads.WeeklyRecord{WeekEnd: weekKey, Data: data, CreatedAt: now, UpdatedAt: now})
	})
}

// MergeScreenshots applies updates inside a single write transaction.
func (s *CacheStore) MergeScreenshots(_ context.Context, weekKey string, updates []ads.ScreenshotUpdate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(weeksBucket)
		raw := b.Get([]byte(weekKey))
		if raw == nil {
			return ads.ErrNotFound
		}
		var rec ads.WeeklyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode week %s: %w", weekKey, err)
		}
		merged, applied := ads.ApplyScreenshots(rec.Data, updates)
		if applied == 0 {
			return nil
		}
		rec.Data = merged
		rec.UpdatedAt = s.now()
		return putRecord(b, rec)
	})
}

// Recent lists up to limit records, newest week first.
func (s *CacheStore) Recent(_ context.Context, limit int) ([]ads.WeeklyRecord, error) {
	var out []ads.WeeklyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(weeksBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec ads.WeeklyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode week %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Ping checks that the database is still open.
func (s *CacheStore) Ping(context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(weeksBucket) == nil {
			return fmt.Errorf("bucket %s missing", weeksBucket)
		}
		return nil
	})
}

func putRecord(b *bolt.Bucket, rec ads.WeeklyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode week %s: %w", rec.WeekEnd, err)
	}
	return b.Put([]byte(rec.WeekEnd), data)
}
