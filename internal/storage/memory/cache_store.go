package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/adsnap/internal/ads"
)

// CacheStore is an in-memory ads.CacheStore.
type CacheStore struct {
	mu      sync.RWMutex
	records map[string]ads.WeeklyRecord
	now     func() time.Time
}

// NewCacheStore constructs an empty CacheStore.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		records: make(map[string]ads.WeeklyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a deep copy of the record for weekKey.
func (s *CacheStore) Get(_ context.Context, weekKey string) (ads.WeeklyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[weekKey]
	if !ok {
		return ads.WeeklyRecord{}, ads.ErrNotFound
	}
	rec.Data = rec.Data.Clone()
	return rec, nil
}

// Put inserts the record if absent.
func (s *CacheStore) Put(_ context.Context, weekKey string, data ads.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[weekKey]; exists {
		return ads.ErrAlreadyExists
	}
	now := s.now()
	s.records[weekKey] = ads.WeeklyRecord{
		WeekEnd:   weekKey,
		Data:      data.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// MergeScreenshots applies updates atomically. A missing week is ads.ErrNotFound.
func (s *CacheStore) MergeScreenshots(_ context.Context, weekKey string, updates []ads.ScreenshotUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[weekKey]
	if !ok {
		return ads.ErrNotFound
	}
	merged, applied := ads.ApplyScreenshots(rec.Data, updates)
	if applied == 0 {
		return nil
	}
	rec.Data = merged
	rec.UpdatedAt = s.now()
	s.records[weekKey] = rec
	return nil
}

// Recent lists up to limit records, newest week first.
func (s *CacheStore) Recent(_ context.Context, limit int) ([]ads.WeeklyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]ads.WeeklyRecord, 0, len(keys))
	for _, k := range keys {
		rec := s.records[k]
		rec.Data = rec.Data.Clone()
		out = append(out, rec)
	}
	return out, nil
}

// Ping always succeeds.
func (s *CacheStore) Ping(context.Context) error {
	return nil
}
